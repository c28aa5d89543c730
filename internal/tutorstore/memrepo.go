package tutorstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/chess-tutor/internal/domain"
)

// memrepo is used when no database is configured.
type memrepo struct {
	mu sync.RWMutex

	nextID   int64
	byLesson map[string][]*domain.LessonCompletion
	seen     map[string]struct{}
}

func NewMemoryRepository() Repository {
	return &memrepo{
		byLesson: make(map[string][]*domain.LessonCompletion),
		seen:     make(map[string]struct{}),
	}
}

func (m *memrepo) RecordCompletion(ctx context.Context, c *domain.LessonCompletion) (int64, error) {
	if c == nil {
		return 0, ErrDuplicateCompletion
	}
	key := strings.Join([]string{c.SessionID, c.LessonID, c.CompletedAt.UTC().String()}, "|")

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[key]; dup {
		return 0, ErrDuplicateCompletion
	}
	m.seen[key] = struct{}{}

	m.nextID++
	cp := *c
	cp.ID = m.nextID
	cp.MovesUCI = append([]string(nil), c.MovesUCI...)
	cp.MovesSAN = append([]string(nil), c.MovesSAN...)
	m.byLesson[c.LessonID] = append(m.byLesson[c.LessonID], &cp)
	return cp.ID, nil
}

func (m *memrepo) RecentCompletions(ctx context.Context, lessonID string, limit int) ([]*domain.LessonCompletion, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	list := append([]*domain.LessonCompletion(nil), m.byLesson[lessonID]...)
	m.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool { return list[i].CompletedAt.After(list[j].CompletedAt) })
	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]*domain.LessonCompletion, 0, len(list))
	for _, c := range list {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}
