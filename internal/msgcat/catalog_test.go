package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRenderEmbedded(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("engine.bestmove", map[string]any{"Move": "e2e4"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Engine bestmove: e2e4" {
		t.Fatalf("got %q", got)
	}
	if c.Text("move.illegal", nil) != "Illegal move." {
		t.Fatalf("illegal text = %q", c.Text("move.illegal", nil))
	}
}

func TestMissingKeyAndField(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("no.such.key", nil); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if _, err := c.Render("lesson.hint", map[string]any{}); err == nil {
		t.Fatalf("expected error for missing field")
	}
	if c.Text("no.such.key", nil) != "no.such.key" {
		t.Fatalf("Text fallback wrong")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("move:\n  illegal: \"Nope.\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("move.illegal", nil); got != "Nope." {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Text("undo.done", nil); got != "Undid last move." {
		t.Fatalf("default lost: %q", got)
	}
}

func TestDuplicateOverrideKeys(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("undo:\n  done: x\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
