package modem

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that was not created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every operation issued after Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is called while another Loop is
	// still running for the same Modem.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrLoopStopped is returned when a command is issued after Loop has
	// returned. The Modem has to be closed and created again.
	ErrLoopStopped = errors.New("modem loop stopped")

	// ErrBusy is returned when a command is issued while another exchange is
	// in flight. Commands are never queued implicitly; callers needing a
	// sequence of commands use a Queue.
	ErrBusy = errors.New("exchange already in flight")

	// ErrFail is wrapped by an ExchangeError when the modem answered with a
	// terminal token other than the one the command expects.
	ErrFail = errors.New("unexpected terminal token")

	// ErrTimedOut is wrapped by an ExchangeError when no terminal token
	// arrived before the command deadline.
	ErrTimedOut = errors.New("exchange timed out")

	// ErrModeTransition is returned when the escape or dial sequence did not
	// reach the requested mode. The mode is left unchanged and the whole
	// transition has to be retried.
	ErrModeTransition = errors.New("mode transition failed")

	// ErrDataMode is returned when an AT command is issued while the link
	// carries a data session.
	ErrDataMode = errors.New("link is in data mode")

	// ErrCommandMode is returned when payload is written while the link is
	// in command mode.
	ErrCommandMode = errors.New("link is in command mode")

	// ErrQueueClosed is returned when a command is enqueued on, or issued
	// from, a closed Queue.
	ErrQueueClosed = errors.New("command queue closed")

	// ErrQueueEmpty is returned by IssueNext when nothing is pending.
	ErrQueueEmpty = errors.New("command queue empty")

	// ErrNotReady is returned by WaitReady when the SIM or the network
	// registration did not become ready within the poll budget.
	ErrNotReady = errors.New("modem not ready")
)

// Outcome is the state of an exchange. Handlers return Continue, Success
// or Fail; TimedOut is decided by the dispatcher.
type Outcome int

const (
	Continue Outcome = iota
	Success
	Fail
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Fail:
		return "fail"
	case TimedOut:
		return "timed out"
	default:
		return "pending"
	}
}

// ExchangeError describes a command that did not resolve to Success.
type ExchangeError struct {
	Command string
	Outcome Outcome
	// Token is the terminal line that failed the exchange, if any.
	Token string
}

func (e *ExchangeError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%s: %s (%q)", e.Command, e.Outcome, e.Token)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Outcome)
}

func (e *ExchangeError) Unwrap() error {
	if e.Outcome == TimedOut {
		return ErrTimedOut
	}
	return ErrFail
}

// ParseError reports a data line that matched a handler but could not be
// parsed. The affected field keeps its previous value and the exchange
// still resolves through the next terminal token.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
