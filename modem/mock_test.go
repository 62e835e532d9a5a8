package modem_test

import (
	"io"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/ltemodem/modem"
)

// MockSequenceBuilder scripts a MockTransport. Each step expects one
// command write, in order, and queues the reply for the reader goroutine.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
	replies   chan string
	eof       chan struct{}
	closed    bool
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
		replies:   make(chan string, 16),
		eof:       make(chan struct{}),
	}
}

// Reply expects cmd to be written and answers with resp.
func (b *MockSequenceBuilder) Reply(cmd, resp string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(cmd)).DoAndReturn(func(p []byte) (int, error) {
			b.replies <- resp
			return len(p), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Reply("AT\r", "AT\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Reply("ATE0\r", "ATE0\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) VerboseErrors() *MockSequenceBuilder {
	return b.Reply("AT+CMEE=2\r", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.Reply("AT+CPIN?\r", "\r\n+CPIN: READY\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.Reply("AT+CPIN?\r", "\r\n+CPIN: SIM PIN\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Registration(stat string) *MockSequenceBuilder {
	return b.Reply("AT+CGREG?\r", "\r\n+CGREG: 0,"+stat+"\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SignalQuality(resp string) *MockSequenceBuilder {
	return b.Reply("AT+CSQ\r", "\r\n"+resp+"\r\n\r\nOK\r\n")
}

// Build returns the ordered write expectations. It also registers the
// reads, which may happen any number of times from the reader goroutine
// until EOF is signalled.
func (b *MockSequenceBuilder) Build() []any {
	var pending string
	b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		if pending == "" {
			select {
			case pending = <-b.replies:
			case <-b.eof:
				return 0, io.EOF
			}
		}
		n := copy(p, pending)
		pending = pending[n:]
		return n, nil
	}).AnyTimes()
	return b.calls
}

// EOF makes pending and future reads return io.EOF.
func (b *MockSequenceBuilder) EOF() {
	if !b.closed {
		b.closed = true
		close(b.eof)
	}
}

// Close expects the transport to be closed once, which ends the reads.
func (b *MockSequenceBuilder) Close(err error) *gomock.Call {
	return b.transport.EXPECT().Close().DoAndReturn(func() error {
		b.EOF()
		return err
	})
}

func initMockCalls(transport *modem.MockTransport) (*MockSequenceBuilder, []any) {
	b := NewMockSequence(transport).
		AT().
		EchoOff().
		VerboseErrors()
	return b, b.Build()
}
