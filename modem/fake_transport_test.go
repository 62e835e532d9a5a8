package modem_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"i4.energy/across/ltemodem/modem"
)

// FakeTransport simulates a blocking modem port. Reads block until data is
// sent, like a real serial port would. Writes are recorded and, when a
// reply is scripted for the written bytes, answered. Like a serial port it
// can purge its receive buffer.
type FakeTransport struct {
	mu      sync.Mutex
	replies map[string]string
	pending []byte
	resets  atomic.Int32

	reads     chan fakeRead
	writes    chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		replies: make(map[string]string),
		reads:   make(chan fakeRead, 64),
		writes:  make(chan string, 64),
		closed:  make(chan struct{}),
	}
}

// Reply answers every write of cmd with resp.
func (f *FakeTransport) Reply(cmd, resp string) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = resp
	return f
}

// fakeRead is one inbound chunk or a read failure, kept in arrival order.
type fakeRead struct {
	data []byte
	err  error
}

// Send queues inbound data as if the modem emitted it.
func (f *FakeTransport) Send(data string) {
	select {
	case f.reads <- fakeRead{data: []byte(data)}:
	case <-f.closed:
	}
}

// Fail makes the read following the queued data return err once.
func (f *FakeTransport) Fail(err error) {
	select {
	case f.reads <- fakeRead{err: err}:
	case <-f.closed:
	}
}

// ResetInputBuffer drops unread data like serial.Port does.
func (f *FakeTransport) ResetInputBuffer() error {
	f.resets.Add(1)
	f.pending = nil
	return nil
}

// Resets returns how often the receive buffer was purged.
func (f *FakeTransport) Resets() int {
	return int(f.resets.Load())
}

// Written waits for the next write.
func (f *FakeTransport) Written(t *testing.T) string {
	t.Helper()
	select {
	case w := <-f.writes:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("no write within 2s")
		return ""
	}
}

func (f *FakeTransport) Read(p []byte) (int, error) {
	if len(f.pending) == 0 {
		select {
		case r := <-f.reads:
			if r.err != nil {
				return 0, r.err
			}
			f.pending = r.data
		case <-f.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *FakeTransport) Write(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	w := string(p)
	select {
	case f.writes <- w:
	default:
	}

	f.mu.Lock()
	resp, ok := f.replies[w]
	f.mu.Unlock()
	if ok {
		f.Send(resp)
	}
	return len(p), nil
}

func (f *FakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// syncBuffer collects data mode payload written by the reader goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newRunningModem returns a Modem over tr with its Loop running. The
// builder defaults suit tests: short AT timeout, no escape guard.
func newRunningModem(t *testing.T, tr modem.Transport, configure ...func(*modem.ConfigBuilder)) *modem.Modem {
	t.Helper()

	ctrl := gomock.NewController(t)
	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(tr, nil)

	b := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithATTimeout(time.Second).
		WithModeTimeout(time.Second).
		WithEscapeGuard(0)
	for _, fn := range configure {
		fn(b)
	}
	config, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m, err := modem.New(ctx, config)
	if err != nil {
		cancel()
		t.Fatalf("failed to create modem: %v", err)
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		m.Loop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		m.Close()
		<-loopDone
	})
	return m
}

// newIdleModem returns a Modem over tr whose Loop is left to the test.
func newIdleModem(t *testing.T, tr modem.Transport, atTimeout time.Duration) *modem.Modem {
	t.Helper()

	ctrl := gomock.NewController(t)
	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(tr, nil)

	config, err := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithATTimeout(atTimeout).
		Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}
	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to create modem: %v", err)
	}
	return m
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
