package ui

import "testing"

func TestLogBufferLines(t *testing.T) {
	b := newLogBuffer(3)

	b.Write([]byte("one\ntw"))
	b.Write([]byte("o\nthree\n"))
	text, changed := b.Snapshot()
	if !changed || text != "one\ntwo\nthree" {
		t.Fatalf("Snapshot() = %q, %v", text, changed)
	}

	if _, changed := b.Snapshot(); changed {
		t.Error("Expected no change between snapshots")
	}

	b.Write([]byte("four\n"))
	if text, _ := b.Snapshot(); text != "two\nthree\nfour" {
		t.Errorf("Expected the oldest line to be dropped, got %q", text)
	}
}

func TestLogBufferPartialLineIsHeld(t *testing.T) {
	b := newLogBuffer(10)
	b.Write([]byte("no newline yet"))
	if text, changed := b.Snapshot(); changed || text != "" {
		t.Errorf("Partial line leaked: %q, %v", text, changed)
	}
}

func TestLogBufferReset(t *testing.T) {
	b := newLogBuffer(10)
	b.Write([]byte("line\n"))
	b.Snapshot()
	b.Reset()

	text, changed := b.Snapshot()
	if !changed || text != "" {
		t.Errorf("After Reset, Snapshot() = %q, %v", text, changed)
	}
}
