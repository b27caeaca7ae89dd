package livesync

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeConn struct {
	frames    chan []byte
	done      chan struct{}
	endOnce   sync.Once
	endErr    error
	mu        sync.Mutex
	writes    [][]byte
	closeHits int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		return nil, c.endErr
	}
}

func (c *fakeConn) Write(payload []byte) error {
	select {
	case <-c.done:
		return errors.New("fake: write on closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closeHits++
	c.mu.Unlock()
	c.end(&CloseError{Clean: true, Code: 1000})
	return nil
}

func (c *fakeConn) end(err error) {
	c.endOnce.Do(func() {
		c.endErr = err
		close(c.done)
	})
}

func (c *fakeConn) push(frame string) {
	c.frames <- []byte(frame)
}

// drop simulates an abrupt network failure.
func (c *fakeConn) drop() {
	c.end(&CloseError{Code: 1006, Err: errors.New("fake: connection reset")})
}

// closeClean simulates the server sending a normal closure frame.
func (c *fakeConn) closeClean() {
	c.end(&CloseError{Clean: true, Code: 1000})
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.writes))
	for _, w := range c.writes {
		out = append(out, string(w))
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeHits
}

// stallingConn blocks every Write until release is closed.
type stallingConn struct {
	*fakeConn
	started chan struct{}
	once    sync.Once
	release chan struct{}
}

func newStallingConn(conn *fakeConn) *stallingConn {
	return &stallingConn{fakeConn: conn, started: make(chan struct{}), release: make(chan struct{})}
}

func (c *stallingConn) Write(payload []byte) error {
	c.once.Do(func() { close(c.started) })
	<-c.release
	return c.fakeConn.Write(payload)
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	calls int
	conns []*fakeConn
	wrap  func(*fakeConn) Conn
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail {
		return nil, errors.New("fake: connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	if d.wrap != nil {
		return d.wrap(conn), nil
	}
	return conn, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func (r *recorder) transitions() [][2]ConnectionState {
	var out [][2]ConnectionState
	for _, n := range r.all() {
		if n.Kind == NotifyState {
			out = append(out, [2]ConnectionState{n.From, n.To})
		}
	}
	return out
}

func (r *recorder) messages() []InboundMessage {
	var out []InboundMessage
	for _, n := range r.all() {
		if n.Kind == NotifyMessage {
			out = append(out, n.Message)
		}
	}
	return out
}

func (r *recorder) errs() []error {
	var out []error
	for _, n := range r.all() {
		if n.Kind == NotifyError {
			out = append(out, n.Err)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
	data  DashboardData
}

func (f *fakeFetcher) Fetch(ctx context.Context) (DashboardData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return DashboardData{}, f.err
	}
	return f.data.Clone(), nil
}

func (f *fakeFetcher) set(data DashboardData, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = data
	f.err = err
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
