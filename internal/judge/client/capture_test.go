package client

import (
	"strings"
	"testing"
)

func TestCappedBufferSignalsOnce(t *testing.T) {
	overflow := make(chan string, 2)
	buf := newCappedBuffer("stdout", 8, overflow)

	if _, err := buf.Write([]byte("12345")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Exceeded() {
		t.Fatal("buffer exceeded too early")
	}
	n, err := buf.Write([]byte("6789"))
	if err != nil || n != 4 {
		t.Fatalf("overflowing write = (%d, %v), want (4, nil)", n, err)
	}
	_, _ = buf.Write([]byte("more"))

	if !buf.Exceeded() {
		t.Fatal("expected exceeded")
	}
	if len(overflow) != 1 || <-overflow != "stdout" {
		t.Fatal("expected a single stdout overflow signal")
	}
	if string(buf.Bytes()) != "12345" {
		t.Fatalf("kept bytes = %q", buf.Bytes())
	}
}

func TestExcerptCutsOnRuneBoundary(t *testing.T) {
	data := []byte(strings.Repeat("é", 10))
	got := excerpt(data, 5)
	if !strings.HasPrefix(got, "éé") || strings.Contains(got, "�") {
		t.Fatalf("excerpt = %q", got)
	}
	if !strings.HasSuffix(got, "(truncated)") {
		t.Fatalf("missing truncation marker: %q", got)
	}
	if excerpt([]byte("short"), 5) != "short" {
		t.Fatal("short input must be returned unchanged")
	}
}
