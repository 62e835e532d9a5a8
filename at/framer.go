package at

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultMaxLine is the longest line, excluding its terminator, a Framer
// emits when no explicit limit is given.
const DefaultMaxLine = 512

var (
	// ErrLineTooLong reports a line that exceeded the framer limit. The
	// whole line, up to and including its terminator, has been dropped.
	ErrLineTooLong = errors.New("at: line too long")

	// ErrOverflow is wrapped by transports that detect a receive overrun.
	// The framer discards everything it has buffered and resumes at the
	// next terminator.
	ErrOverflow = errors.New("at: receive buffer overflow")
)

// FramingError is a recoverable framing failure. The Framer stays usable
// after returning one.
type FramingError struct {
	Err     error
	Dropped int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("%v (%d bytes dropped)", e.Err, e.Dropped)
}

func (e *FramingError) Unwrap() error { return e.Err }

// Framer splits the inbound byte stream of a modem into lines.
//
// A line ends at LF. Only the LF is removed, so a CR sent by the modem is
// still present in the returned line; use Trim before matching tokens.
// Lines longer than the configured limit are dropped and reported with a
// FramingError wrapping ErrLineTooLong.
//
// In passthrough mode the stream is opaque payload: every byte is copied to
// the payload writer and no lines are produced. The mode is re-checked each
// time new input arrives.
//
// Next must be called from a single goroutine. SetPassthrough and
// SwitchAfter may be called from any goroutine.
type Framer struct {
	rd      *bufio.Reader
	payload io.Writer

	passthrough atomic.Bool

	mu          sync.Mutex
	switchAfter string

	// dropping is ErrLineTooLong or ErrOverflow while the rest of a
	// rejected line is skipped.
	dropping error
	dropped  int
}

// NewFramer returns a Framer reading from r. A maxLine of zero or less
// selects DefaultMaxLine. Limits below 15 behave as 15 since the read
// buffer has a floor of 16 bytes. A nil payload discards data mode traffic.
func NewFramer(r io.Reader, maxLine int, payload io.Writer) *Framer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	if payload == nil {
		payload = io.Discard
	}
	return &Framer{
		rd:      bufio.NewReaderSize(r, maxLine+1),
		payload: payload,
	}
}

// Reset discards all framing state and starts reading from r in line mode.
func (f *Framer) Reset(r io.Reader) {
	f.rd.Reset(r)
	f.passthrough.Store(false)
	f.SwitchAfter("")
	f.dropping = nil
	f.dropped = 0
}

// SetPassthrough switches between line mode and passthrough mode.
func (f *Framer) SetPassthrough(on bool) {
	f.passthrough.Store(on)
}

// Passthrough reports whether the framer is in passthrough mode.
func (f *Framer) Passthrough() bool {
	return f.passthrough.Load()
}

// SwitchAfter arms the framer to enter passthrough mode right after it
// emits a line starting with token, see HasToken. The payload that a modem
// sends immediately after CONNECT is therefore never parsed as lines. An
// empty token disarms.
func (f *Framer) SwitchAfter(token string) {
	f.mu.Lock()
	f.switchAfter = token
	f.mu.Unlock()
}

// Next returns the next line without its LF terminator.
//
// A *FramingError is recoverable and Next may be called again. Any other
// error comes from the underlying reader. A final unterminated line is
// returned before the read error that ended it.
func (f *Framer) Next() (string, error) {
	for {
		if f.passthrough.Load() {
			if err := f.forward(); err != nil {
				return "", err
			}
			continue
		}

		n := f.rd.Buffered()
		if n == 0 {
			if err := f.fill(0); err != nil {
				return "", err
			}
			continue
		}

		buf, _ := f.rd.Peek(n)
		i := bytes.IndexByte(buf, '\n')
		switch {
		case f.dropping != nil && i < 0:
			f.dropped += n
			f.rd.Discard(n)

		case f.dropping != nil:
			reason, dropped := f.dropping, f.dropped+i+1
			f.dropping, f.dropped = nil, 0
			f.rd.Discard(i + 1)
			if reason == ErrLineTooLong {
				return "", &FramingError{Err: reason, Dropped: dropped}
			}

		case i >= 0:
			line := f.emit(buf[:i])
			f.rd.Discard(i + 1)
			return line, nil

		case n >= f.rd.Size():
			f.dropping, f.dropped = ErrLineTooLong, n
			f.rd.Discard(n)

		default:
			if err := f.fill(n); err != nil {
				var fe *FramingError
				if errors.As(err, &fe) {
					return "", err
				}
				// Flush the unterminated tail; the error repeats on the
				// next read.
				tail, _ := f.rd.Peek(f.rd.Buffered())
				line := f.emit(tail)
				f.rd.Discard(len(tail))
				return line, nil
			}
		}
	}
}

// fill blocks until more than n bytes are buffered, so the caller re-checks
// the mode on every arrival. A receive overflow discards the buffer.
func (f *Framer) fill(n int) error {
	_, err := f.rd.Peek(n + 1)
	if err == nil || f.rd.Buffered() > n {
		return nil
	}
	if errors.Is(err, ErrOverflow) {
		dropped := f.rd.Buffered()
		f.rd.Discard(dropped)
		f.dropping, f.dropped = ErrOverflow, 0
		return &FramingError{Err: ErrOverflow, Dropped: dropped}
	}
	if f.dropping != nil {
		f.dropping, f.dropped = nil, 0
	}
	return err
}

func (f *Framer) emit(b []byte) string {
	line := string(b)

	f.mu.Lock()
	if f.switchAfter != "" && HasToken(Trim(line), f.switchAfter) {
		f.switchAfter = ""
		f.passthrough.Store(true)
	}
	f.mu.Unlock()

	return line
}

// forward copies buffered payload. With nothing buffered it blocks for more
// input and returns so the caller re-checks the mode before that input is
// treated as payload.
func (f *Framer) forward() error {
	n := f.rd.Buffered()
	if n == 0 {
		err := f.fill(0)
		if err != nil {
			// payload has no terminators to resync on
			f.dropping = nil
		}
		return err
	}
	b, _ := f.rd.Peek(n)
	if _, err := f.payload.Write(b); err != nil {
		return fmt.Errorf("forward payload: %w", err)
	}
	_, err := f.rd.Discard(n)
	return err
}
