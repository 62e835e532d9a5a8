package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/ltemodem/at"
)

// Modem drives a cellular module over AT commands.
//
// All exchange state is owned by the goroutine running Loop. A second
// goroutine frames the inbound stream and hands lines to Loop over a
// bounded channel. At most one exchange is in flight at any time; Issue
// fails fast with ErrBusy instead of queueing.
type Modem struct {
	// transport provides the physical connection to the modem
	transport Transport
	// config contains the modem configuration settings
	config Config
	logger *slog.Logger
	framer *at.Framer

	// busy is held from the moment a command is accepted until its
	// outcome has been returned to the caller.
	busy        atomic.Bool
	loopStarted atomic.Bool
	closed      atomic.Bool
	done        chan struct{}
	// loopDone is closed when Loop returns.
	loopDone chan struct{}

	// exchanges hands accepted commands to the Loop
	exchanges chan *exchange
	// urcChan receives Unsolicited Result Codes from the modem
	urcChan chan string

	// mu guards info and mode. Both are written by Loop only.
	mu   sync.RWMutex
	info Info
	mode Mode

	writeMu sync.Mutex

	queuesMu sync.Mutex
	queues   map[*Queue]struct{}
}

// exchange is one command in flight. It is created per issue and never
// reused, so a late reply can not be attributed to the next command.
type exchange struct {
	cmd      Command
	deadline time.Time
	// result receives exactly one value.
	result chan exchangeResult
}

type exchangeResult struct {
	outcome Outcome
	token   string
	info    Info
	err     error
}

// PollConfig defines configuration for polling operations like waiting for
// SIM readiness.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

// New dials the modem and prepares the dispatcher. The Loop must be started
// before commands are issued.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}

	return &Modem{
		transport: transport,
		config:    config,
		logger:    config.logger,
		framer:    at.NewFramer(transport, config.maxLineLength, config.dataSink),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		exchanges: make(chan *exchange),
		urcChan:   make(chan string, config.urcBuffer),
		mode:      CommandMode,
		queues:    make(map[*Queue]struct{}),
	}, nil
}

// Loop is the dispatcher. It must be called exactly once after New and
// runs until ctx is cancelled, the Modem is closed or the transport fails.
//
// Loop is the only goroutine that touches the active exchange, the mode
// and the committed Info. Every exit path resolves the exchange in flight.
//
// Usage:
//
//	m, err := modem.New(ctx, config)
//	if err != nil { return err }
//	go m.Loop(ctx)
//	q, err := m.SignalQuality(ctx)
func (m *Modem) Loop(ctx context.Context) error {
	if m.transport == nil {
		return ErrNotInitialized
	}
	if !m.loopStarted.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer close(m.loopDone)

	lines := make(chan string, m.config.lineBuffer)
	readErrs := make(chan error, 1)
	go m.read(ctx, lines, readErrs)

	var (
		active  *exchange
		scratch Info
		// passthrough is the framer mode to restore when an escape fails
		passthrough bool
		timer       = time.NewTimer(time.Hour)
	)
	timer.Stop()
	defer timer.Stop()

	resolve := func(outcome Outcome, token string, err error) {
		res := exchangeResult{outcome: outcome, token: token, err: err}
		switch {
		case outcome == Success:
			res.info = m.commit(scratch, active.cmd.enters)
		case active.cmd.enters == DataMode:
			m.framer.SwitchAfter("")
			m.framer.SetPassthrough(false)
		case active.cmd.enters == CommandMode:
			m.framer.SetPassthrough(passthrough)
		}
		m.logger.Debug("exchange resolved", "command", active.cmd.String(), "outcome", outcome.String())
		active.result <- res
		active = nil
		timer.Stop()
	}
	defer func() {
		if active != nil {
			resolve(TimedOut, "", ErrAlreadyClosed)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if active != nil {
				resolve(TimedOut, "", fmt.Errorf("modem loop stopped: %w", ctx.Err()))
			}
			return ctx.Err()

		case <-m.done:
			return nil

		case ex := <-m.exchanges:
			if !time.Now().Before(ex.deadline) {
				ex.result <- exchangeResult{outcome: TimedOut}
				continue
			}
			active = ex
			scratch = m.Info()

			switch ex.cmd.enters {
			case DataMode:
				m.framer.SwitchAfter(at.Connect)
			case CommandMode:
				passthrough = m.framer.Passthrough()
				m.framer.SetPassthrough(false)
			}

			m.logger.Debug("send", "command", ex.cmd.String())
			if err := m.write([]byte(ex.cmd.text)); err != nil {
				resolve(Fail, "", fmt.Errorf("write command %q: %w", ex.cmd.String(), err))
				continue
			}
			timer.Reset(time.Until(ex.deadline))

		case line, ok := <-lines:
			if !ok {
				err := io.EOF
				select {
				case err = <-readErrs:
				default:
				}
				select {
				case <-m.done:
					return nil
				default:
				}
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				if active != nil {
					resolve(Fail, "", fmt.Errorf("read error: %w", err))
				}
				return err
			}

			line = at.Trim(line)
			if line == "" {
				continue
			}
			m.logger.Debug("recv", "line", line)

			if active != nil && !time.Now().Before(active.deadline) {
				resolve(TimedOut, "", nil)
			}

			if at.Classify(line) == at.TypeURC {
				m.publish(line)
				continue
			}
			if active == nil {
				m.logger.Info("unsolicited line", "line", line)
				m.publish(line)
				continue
			}
			if line == active.cmd.String() {
				// echo
				continue
			}

			outcome, err := active.cmd.handler.HandleLine(line, &scratch)
			if err != nil {
				m.logger.Warn("discarding unparsable field",
					"command", active.cmd.String(),
					"error", &ParseError{Line: line, Err: err})
			}
			switch outcome {
			case Success:
				resolve(Success, line, nil)
			case Fail, TimedOut:
				resolve(Fail, line, nil)
			}

		case <-timer.C:
			if active != nil {
				resolve(TimedOut, "", nil)
			}
		}
	}
}

// read frames the transport until it fails. Framing errors are logged and
// reading resumes.
func (m *Modem) read(ctx context.Context, lines chan<- string, errs chan<- error) {
	defer close(lines)
	for {
		line, err := m.framer.Next()
		if err != nil {
			var fe *at.FramingError
			if errors.As(err, &fe) {
				m.logger.Warn("framing error", "error", err)
				if errors.Is(err, at.ErrOverflow) {
					if r, ok := m.transport.(inputResetter); ok {
						if err := r.ResetInputBuffer(); err != nil {
							m.logger.Warn("reset input buffer", "error", err)
						}
					}
				}
				continue
			}
			errs <- err
			return
		}
		select {
		case lines <- line:
		case <-ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

// commit publishes the scratch Info of a successful exchange and applies
// its mode switch.
func (m *Modem) commit(scratch Info, enters Mode) Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.info = scratch
	switch enters {
	case DataMode:
		m.framer.SetPassthrough(true)
		m.mode = DataMode
	case CommandMode:
		m.mode = CommandMode
	}
	if enters != 0 {
		m.logger.Info("link mode changed", "mode", m.mode.String())
	}
	return m.info
}

func (m *Modem) publish(line string) {
	select {
	case m.urcChan <- line:
	default:
		m.logger.Warn("URC channel full, dropping", "line", line)
	}
}

func (m *Modem) write(p []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_, err := m.transport.Write(p)
	return err
}

// Issue sends cmd and blocks until it resolves. It returns ErrBusy at once
// if another exchange is in flight.
//
// The exchange deadline is the command timeout, shortened to the context
// deadline when that is earlier. Once handed to the dispatcher a command is
// not cancelled; it resolves on its terminal token or on the deadline.
//
// On Success the returned Info is the committed state including the values
// parsed from this exchange. Fail and TimedOut are reported as an
// *ExchangeError.
func (m *Modem) Issue(ctx context.Context, cmd Command) (Info, error) {
	if m.closed.Load() {
		return Info{}, ErrAlreadyClosed
	}
	if !m.busy.CompareAndSwap(false, true) {
		return Info{}, ErrBusy
	}
	defer m.busy.Store(false)

	return m.issue(ctx, cmd)
}

// issue runs one exchange. The caller holds the busy reservation.
func (m *Modem) issue(ctx context.Context, cmd Command) (Info, error) {
	if m.transport == nil {
		return Info{}, ErrNotInitialized
	}
	if m.closed.Load() {
		return Info{}, ErrAlreadyClosed
	}
	if cmd.handler == nil {
		return Info{}, fmt.Errorf("command %q has no handler", cmd.String())
	}
	if cmd.enters != CommandMode && m.Mode() == DataMode {
		return Info{}, ErrDataMode
	}

	if cmd.enters == CommandMode && m.config.escapeGuard > 0 {
		guard := time.NewTimer(m.config.escapeGuard)
		select {
		case <-guard.C:
		case <-ctx.Done():
			guard.Stop()
			return Info{}, ctx.Err()
		case <-m.done:
			guard.Stop()
			return Info{}, ErrAlreadyClosed
		}
	}

	timeout := cmd.timeout
	if timeout <= 0 {
		timeout = m.config.atTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	ex := &exchange{
		cmd:      cmd,
		deadline: deadline,
		result:   make(chan exchangeResult, 1),
	}

	handoff := time.NewTimer(time.Until(deadline))
	defer handoff.Stop()

	select {
	case m.exchanges <- ex:
	case <-ctx.Done():
		return Info{}, fmt.Errorf("command cancelled before sending: %w", ctx.Err())
	case <-m.done:
		return Info{}, ErrAlreadyClosed
	case <-m.loopDone:
		return Info{}, ErrLoopStopped
	case <-handoff.C:
		// Loop not started yet
		return Info{}, &ExchangeError{Command: cmd.String(), Outcome: TimedOut}
	}

	// A running Loop resolves every accepted exchange by its deadline and
	// on every exit path, so only a vanished Loop needs watching here.
	var res exchangeResult
	select {
	case res = <-ex.result:
	case <-m.loopDone:
		select {
		case res = <-ex.result:
		default:
			return Info{}, ErrLoopStopped
		}
	}
	if res.err != nil {
		return Info{}, res.err
	}
	if res.outcome != Success {
		return Info{}, &ExchangeError{Command: cmd.String(), Outcome: res.outcome, Token: res.token}
	}
	return res.info, nil
}

// URC returns a read-only channel that receives Unsolicited Result Codes
// and lines that arrived while no exchange was in flight. The channel is
// buffered, but may drop lines if not consumed fast enough.
func (m *Modem) URC() <-chan string {
	return m.urcChan
}

// Info returns a consistent snapshot of the accumulated modem state.
func (m *Modem) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// Mode returns the current link mode.
func (m *Modem) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// WritePayload sends outbound payload while the link is in DataMode.
func (m *Modem) WritePayload(p []byte) (int, error) {
	if m.closed.Load() {
		return 0, ErrAlreadyClosed
	}
	if m.Mode() != DataMode {
		return 0, ErrCommandMode
	}
	if m.busy.Load() {
		// An escape is in progress and its guard time must stay silent.
		return 0, ErrBusy
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.transport.Write(p)
}

// Close shuts down the modem and releases all resources. It stops the Loop,
// discards every queued command, and closes the transport. After calling
// Close, the modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	if m.done != nil {
		close(m.done)
	}

	m.queuesMu.Lock()
	queues := make([]*Queue, 0, len(m.queues))
	for q := range m.queues {
		queues = append(queues, q)
	}
	m.queuesMu.Unlock()
	for _, q := range queues {
		if n := q.Close(); n > 0 {
			m.logger.Debug("discarded queued commands", "count", n)
		}
	}

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}
