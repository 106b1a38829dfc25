package posts

import (
	"strings"
	"testing"
	"time"
)

func htmls(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.HTML
	}
	return out
}

func TestPrependMostRecentFirst(t *testing.T) {
	m := New()
	for _, h := range []string{"P1", "P2", "P3", "P4"} {
		m.Prepend(h)
	}

	got := htmls(m.Entries())
	want := []string{"P4", "P3", "P2", "P1"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("entries = %v, want %v", got, want)
	}
}

func TestPrependKeepsDuplicates(t *testing.T) {
	m := New()
	m.Prepend("same")
	m.Prepend("same")
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	e := m.Entries()
	if e[0].ID == e[1].ID {
		t.Error("entries should have distinct IDs")
	}
}

func TestEntryTextIsMarkupVerbatim(t *testing.T) {
	m := New()
	m.Width = 80
	m.Height = 10
	e := m.Prepend("<p>hi</p>")
	if e.Text() != "<p>hi</p>" {
		t.Errorf("Text() = %q", e.Text())
	}
	if !strings.Contains(m.View(), "<p>hi</p>") {
		t.Error("view should show the markup as text")
	}
}

func TestSelectionFollowsEntry(t *testing.T) {
	m := New()
	m.Prepend("A")
	m.Prepend("B")
	m.Down()
	if e, _ := m.Selected(); e.HTML != "A" {
		t.Fatalf("selected %q, want A", e.HTML)
	}

	m.Prepend("C")
	if e, _ := m.Selected(); e.HTML != "A" {
		t.Errorf("after prepend selected %q, want A", e.HTML)
	}

	m.Up()
	m.Up()
	m.Up()
	if e, _ := m.Selected(); e.HTML != "C" {
		t.Errorf("selected %q, want C", e.HTML)
	}
}

func TestSelectedEmpty(t *testing.T) {
	m := New()
	if _, ok := m.Selected(); ok {
		t.Error("empty list should have no selection")
	}
	m.Down()
	m.Up()
	if !strings.Contains(m.View(), "No posts yet") {
		t.Error("empty view should say no posts")
	}
}

func TestReceivedUsesClock(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	m := New()
	m.now = func() time.Time { return at }
	e := m.Prepend("x")
	if !e.Received.Equal(at) {
		t.Errorf("Received = %v, want %v", e.Received, at)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 2); got != "h" {
		t.Errorf("truncate split a rune: %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
}
