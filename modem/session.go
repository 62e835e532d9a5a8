package modem

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SignalQuality queries AT+CSQ.
func (m *Modem) SignalQuality(ctx context.Context) (SignalQuality, error) {
	info, err := m.Issue(ctx, CSQ())
	if err != nil {
		return SignalQuality{}, fmt.Errorf("query signal quality: %w", err)
	}
	return info.Signal, nil
}

// BatteryStatus queries AT+CBC.
func (m *Modem) BatteryStatus(ctx context.Context) (BatteryStatus, error) {
	info, err := m.Issue(ctx, CBC())
	if err != nil {
		return BatteryStatus{}, fmt.Errorf("query battery: %w", err)
	}
	return info.Battery, nil
}

// ServingCell queries the serving cell measurements.
func (m *Modem) ServingCell(ctx context.Context) (ServingCell, error) {
	info, err := m.Issue(ctx, QENGServingCell())
	if err != nil {
		return ServingCell{}, fmt.Errorf("query serving cell: %w", err)
	}
	return info.ServingCell, nil
}

// RegistrationStatus queries AT+CGREG?.
func (m *Modem) RegistrationStatus(ctx context.Context) (RegistrationStatus, error) {
	info, err := m.Issue(ctx, CGREG().WithTimeout(m.config.registerTimeout))
	if err != nil {
		return 0, fmt.Errorf("query registration: %w", err)
	}
	return info.Registration, nil
}

// SIMStatus queries AT+CPIN? and reports whether the SIM is ready.
func (m *Modem) SIMStatus(ctx context.Context) (bool, error) {
	info, err := m.Issue(ctx, CPIN().WithTimeout(m.config.registerTimeout))
	if err != nil {
		return false, fmt.Errorf("query SIM status: %w", err)
	}
	return info.SIMReady, nil
}

// FirmwareVersion queries AT+QGMR.
func (m *Modem) FirmwareVersion(ctx context.Context) (string, error) {
	info, err := m.Issue(ctx, QGMR())
	if err != nil {
		return "", fmt.Errorf("query firmware: %w", err)
	}
	return info.Firmware, nil
}

// Identity reads the module name, IMEI, IMSI, operator and ICCID in one
// uninterrupted chain.
func (m *Modem) Identity(ctx context.Context) (Identity, error) {
	q := m.NewQueue()
	defer q.Close()

	if err := q.Enqueue(
		CGMM(),
		CGSN(),
		CIMI(),
		COPS().WithTimeout(m.config.operatorTimeout),
		QCCID(),
	); err != nil {
		return Identity{}, err
	}

	info, err := q.Run(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("query identity: %w", err)
	}
	return info.Identity(), nil
}

// PowerDown asks the module to switch itself off and waits for the
// POWERED DOWN notice.
func (m *Modem) PowerDown(ctx context.Context) error {
	if _, err := m.Issue(ctx, QPOWD().WithTimeout(m.config.powerOffTimeout)); err != nil {
		return fmt.Errorf("power down: %w", err)
	}
	return nil
}

// EnterMode moves the link to mode. DataMode dials the PPP session and
// CommandMode sends the escape sequence. Nothing is sent when the link is
// already in mode.
//
// A transition that ends in Fail or TimedOut returns an error matching both
// ErrModeTransition and the cause. The mode is then unchanged and the whole
// transition has to be retried.
func (m *Modem) EnterMode(ctx context.Context, mode Mode) error {
	if m.Mode() == mode {
		return nil
	}

	var cmd Command
	switch mode {
	case DataMode:
		cmd = DialPPP()
	case CommandMode:
		cmd = Escape()
	default:
		return fmt.Errorf("enter %s: unsupported mode", mode)
	}
	return m.transition(ctx, cmd.WithTimeout(m.config.modeTimeout))
}

// ResumeData returns to a data session previously left with EnterMode
// (CommandMode) without dialing again.
func (m *Modem) ResumeData(ctx context.Context) error {
	if m.Mode() == DataMode {
		return nil
	}
	return m.transition(ctx, ResumeData().WithTimeout(m.config.modeTimeout))
}

func (m *Modem) transition(ctx context.Context, cmd Command) error {
	_, err := m.Issue(ctx, cmd)
	if errors.Is(err, ErrFail) || errors.Is(err, ErrTimedOut) {
		return fmt.Errorf("%w: %w", ErrModeTransition, err)
	}
	return err
}

// Init checks that the module answers and selects the dialect the handlers
// expect: echo off and verbose error codes.
func (m *Modem) Init(ctx context.Context) error {
	q := m.NewQueue()
	defer q.Close()

	if err := q.Enqueue(Sync(), EchoOff(), VerboseErrors()); err != nil {
		return err
	}
	if _, err := q.Run(ctx); err != nil {
		return fmt.Errorf("initialize modem: %w", err)
	}
	return nil
}

// Configure stores the serial and packet settings used for PPP: hardware
// flow control, the PDP context with apn, and the profile.
func (m *Modem) Configure(ctx context.Context, apn string) error {
	q := m.NewQueue()
	defer q.Close()

	if err := q.Enqueue(
		SetFlowControl(2, 2),
		DefinePDPContext(1, "IP", apn),
		StoreProfile(),
	); err != nil {
		return err
	}
	if _, err := q.Run(ctx); err != nil {
		return fmt.Errorf("configure modem: %w", err)
	}
	return nil
}

// HangUp terminates the data call. The link must be in CommandMode.
func (m *Modem) HangUp(ctx context.Context) error {
	if _, err := m.Issue(ctx, HangUp()); err != nil {
		return fmt.Errorf("hang up: %w", err)
	}
	return nil
}

// SetBaudRate changes the module UART rate. The transport must be reopened
// at the new rate afterwards.
func (m *Modem) SetBaudRate(ctx context.Context, baud int) error {
	if _, err := m.Issue(ctx, SetBaudRate(baud)); err != nil {
		return fmt.Errorf("set baud rate %d: %w", baud, err)
	}
	return nil
}

// WaitReady polls until the SIM is unlocked and the module is registered
// on the packet domain, home or roaming.
//
// Busy and failed polls are retried. The wait ends with ErrNotReady once
// the retries or the timeout of config are used up.
func (m *Modem) WaitReady(ctx context.Context, config PollConfig) error {
	var (
		pollInterval = config.Interval
		timeout      = config.Timeout
		maxRetries   = config.MaxRetries
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	simReady := false
	for retries := 0; ; {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
		case <-ticker.C:
		}

		retries++
		if retries > maxRetries {
			return fmt.Errorf("%w after %d retries", ErrNotReady, maxRetries)
		}

		if !simReady {
			ready, err := m.SIMStatus(ctx)
			if err != nil {
				// Fail fast on critical errors
				if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrDataMode) {
					return err
				}
				m.logger.Debug("SIM not ready", "error", err)
				continue
			}
			if !ready {
				continue
			}
			simReady = true
		}

		status, err := m.RegistrationStatus(ctx)
		if err != nil {
			if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrDataMode) {
				return err
			}
			m.logger.Debug("registration query failed", "error", err)
			continue
		}
		if status.Registered() {
			m.logger.Info("modem ready", "registration", status.String())
			return nil
		}
	}
}
