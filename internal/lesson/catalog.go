package lesson

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/park285/chess-tutor/internal/chess"
	yaml "gopkg.in/yaml.v3"
)

//go:embed lessons.yaml
var defaultFiles embed.FS

var (
	ErrOutOfRange = errors.New("lesson index out of range")
	ErrNotFound   = errors.New("lesson not found")
	ErrInvalid    = errors.New("invalid lesson definition")
)

// Lesson is an immutable lesson definition. A nil Solution means free play.
type Lesson struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Start    string   `yaml:"start"`
	Solution []string `yaml:"solution"`
	Hint     string   `yaml:"hint"`
}

func (l Lesson) HasSolution() bool { return len(l.Solution) > 0 }

// SolutionStepAt returns the expected move descriptor at step, or false past the end.
func (l Lesson) SolutionStepAt(step int) (string, bool) {
	if step < 0 || step >= len(l.Solution) {
		return "", false
	}
	return l.Solution[step], true
}

// StartPosition returns the start encoding, with the start marker for an empty value.
func (l Lesson) StartPosition() string {
	if strings.TrimSpace(l.Start) == "" {
		return chess.StartMarker
	}
	return strings.TrimSpace(l.Start)
}

// Catalog is the read-only ordered lesson list shared by every session.
type Catalog struct {
	lessons []Lesson
	byID    map[string]int
}

type catalogFile struct {
	Lessons []Lesson `yaml:"lessons"`
}

// Load reads the embedded lessons. A non-empty overridePath replaces the list with the file's lessons.
func Load(overridePath string) (*Catalog, error) {
	raw, err := fs.ReadFile(defaultFiles, "lessons.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded lessons: %w", err)
	}
	if p := strings.TrimSpace(overridePath); p != "" {
		raw, err = os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read lessons file: %w", err)
		}
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML lesson list.
func Parse(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return New(f.Lessons)
}

// New validates lessons and builds a catalog. Starting positions must parse.
// Solutions are not replayed here; a wrong step only surfaces as a rejected move.
func New(lessons []Lesson) (*Catalog, error) {
	if len(lessons) == 0 {
		return nil, fmt.Errorf("%w: no lessons", ErrInvalid)
	}
	c := &Catalog{lessons: make([]Lesson, 0, len(lessons)), byID: make(map[string]int, len(lessons))}
	for i, l := range lessons {
		l.ID = strings.TrimSpace(l.ID)
		l.Title = strings.TrimSpace(l.Title)
		if l.ID == "" {
			return nil, fmt.Errorf("%w: lesson %d has no id", ErrInvalid, i)
		}
		if l.Title == "" {
			return nil, fmt.Errorf("%w: lesson %s has no title", ErrInvalid, l.ID)
		}
		if _, dup := c.byID[l.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalid, l.ID)
		}
		if _, err := chess.NewBoardFromPosition(l.StartPosition()); err != nil {
			return nil, fmt.Errorf("%w: lesson %s start: %v", ErrInvalid, l.ID, err)
		}
		if l.Solution != nil {
			l.Solution = append([]string(nil), l.Solution...)
		}
		c.byID[l.ID] = len(c.lessons)
		c.lessons = append(c.lessons, l)
	}
	return c, nil
}

func (c *Catalog) Len() int { return len(c.lessons) }

func (c *Catalog) Get(index int) (Lesson, error) {
	if index < 0 || index >= len(c.lessons) {
		return Lesson{}, fmt.Errorf("%w: %d (have %d)", ErrOutOfRange, index, len(c.lessons))
	}
	return c.lessons[index], nil
}

// ByID returns the lesson and its index.
func (c *Catalog) ByID(id string) (Lesson, int, error) {
	idx, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Lesson{}, -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.lessons[idx], idx, nil
}

func (c *Catalog) All() []Lesson {
	return append([]Lesson(nil), c.lessons...)
}
