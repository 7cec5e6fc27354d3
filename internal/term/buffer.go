package term

import "sync"

// DefaultScrollback bounds how much output a detached buffer retains.
const DefaultScrollback = 1 << 20

// DisplaySink receives terminal output for rendering.
type DisplaySink func(data string)

// Buffer accumulates one session's output. It keeps scrollback across view
// switches and streams to at most one attached sink at a time; attaching
// replays the retained scrollback first so a remounted view catches up.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	max  int
	sink DisplaySink
	gen  int
}

func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultScrollback
	}
	return &Buffer{max: max}
}

// Write appends output and forwards it to the attached sink, if any.
func (b *Buffer) Write(data string) {
	if data == "" {
		return
	}
	b.mu.Lock()
	b.data = append(b.data, data...)
	if len(b.data) > b.max {
		b.data = b.data[len(b.data)-b.max:]
	}
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink(data)
	}
}

// Attach replaces the active sink, replays scrollback to it, and returns a
// detach func. Detaching an already replaced sink is a no-op.
func (b *Buffer) Attach(sink DisplaySink) (detach func()) {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.sink = sink
	replay := string(b.data)
	b.mu.Unlock()

	if sink != nil && replay != "" {
		sink(replay)
	}
	return func() {
		b.mu.Lock()
		if b.gen == gen {
			b.sink = nil
		}
		b.mu.Unlock()
	}
}

// Detach drops the current sink unconditionally.
func (b *Buffer) Detach() {
	b.mu.Lock()
	b.gen++
	b.sink = nil
	b.mu.Unlock()
}

// Contents returns the retained scrollback.
func (b *Buffer) Contents() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
