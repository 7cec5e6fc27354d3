package relay

import (
	"context"
	"errors"
	"io"
	"sync"
)

// FakeSocket is an in-memory Socket for tests; EmitText feeds the read side
// and CloseFromServer simulates a remote close.
type FakeSocket struct {
	mu     sync.Mutex
	readCh chan string
	closed bool
	sent   []string
}

func NewFakeSocket() *FakeSocket {
	return &FakeSocket{readCh: make(chan string, 32)}
}

func (f *FakeSocket) EmitText(text string) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	f.readCh <- text
}

func (f *FakeSocket) CloseFromServer() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	close(f.readCh)
}

func (f *FakeSocket) ReadText(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text, ok := <-f.readCh:
		if !ok {
			return "", io.EOF
		}
		return text, nil
	}
}

func (f *FakeSocket) WriteText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("socket closed")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *FakeSocket) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *FakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.readCh)
	return nil
}

// FakeDialer hands out queued sockets, or a configured error, one dial at a
// time.
type FakeDialer struct {
	mu      sync.Mutex
	sockets []*FakeSocket
	dialErr error
	dials   int
	urls    []string
}

func NewFakeDialer(sockets ...*FakeSocket) *FakeDialer {
	return &FakeDialer{sockets: sockets}
}

func (d *FakeDialer) SetError(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

func (d *FakeDialer) Enqueue(sock *FakeSocket) {
	d.mu.Lock()
	d.sockets = append(d.sockets, sock)
	d.mu.Unlock()
}

func (d *FakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if len(d.sockets) == 0 {
		return nil, errors.New("no socket available")
	}
	sock := d.sockets[0]
	d.sockets = d.sockets[1:]
	return sock, nil
}

func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *FakeDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.urls))
	copy(out, d.urls)
	return out
}
