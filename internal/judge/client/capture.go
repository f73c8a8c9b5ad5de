package client

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"
)

const excerptBytes = 2 * 1024

// cappedBuffer accumulates raw bytes up to max. The first write past the cap
// reports the stream name on overflow and every later write is discarded,
// so the copy goroutine keeps draining until the process is killed.
type cappedBuffer struct {
	mu       sync.Mutex
	name     string
	max      int64
	buf      bytes.Buffer
	exceeded bool
	overflow chan<- string
}

func newCappedBuffer(name string, max int64, overflow chan<- string) *cappedBuffer {
	return &cappedBuffer{name: name, max: max, overflow: overflow}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exceeded {
		return len(p), nil
	}
	if int64(b.buf.Len()+len(p)) > b.max {
		b.exceeded = true
		select {
		case b.overflow <- b.name:
		default:
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceeded
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// excerpt returns at most n bytes of data as text, cut on a rune boundary.
func excerpt(data []byte, n int) string {
	if len(data) <= n {
		return strings.ToValidUTF8(string(data), "�")
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return strings.ToValidUTF8(string(data[:cut]), "�") + "...(truncated)"
}
