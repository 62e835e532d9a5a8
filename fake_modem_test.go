package main

import (
	"context"
	"sync"

	"i4.energy/across/ltemodem/modem"
)

// fakeModem implements ModemAPI with canned results and records the order
// of calls.
type fakeModem struct {
	mu    sync.Mutex
	calls []string
	mode  modem.Mode
	info  modem.Info

	signal   modem.SignalQuality
	battery  modem.BatteryStatus
	identity modem.Identity
	cell     modem.ServingCell
	reg      modem.RegistrationStatus
	simReady bool

	// err is returned by every command when set
	err error
	// modeErr is returned by EnterMode and ResumeData when set
	modeErr error
}

func newFakeModem() *fakeModem {
	return &fakeModem{mode: modem.CommandMode}
}

func (f *fakeModem) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeModem) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeModem) Info() modem.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

func (f *fakeModem) Mode() modem.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeModem) SignalQuality(context.Context) (modem.SignalQuality, error) {
	return f.signal, f.record("signal")
}

func (f *fakeModem) BatteryStatus(context.Context) (modem.BatteryStatus, error) {
	return f.battery, f.record("battery")
}

func (f *fakeModem) Identity(context.Context) (modem.Identity, error) {
	return f.identity, f.record("identity")
}

func (f *fakeModem) ServingCell(context.Context) (modem.ServingCell, error) {
	return f.cell, f.record("serving-cell")
}

func (f *fakeModem) RegistrationStatus(context.Context) (modem.RegistrationStatus, error) {
	return f.reg, f.record("registration")
}

func (f *fakeModem) SIMStatus(context.Context) (bool, error) {
	return f.simReady, f.record("sim")
}

func (f *fakeModem) EnterMode(_ context.Context, mode modem.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "mode "+mode.String())
	if f.modeErr != nil {
		return f.modeErr
	}
	f.mode = mode
	return nil
}

func (f *fakeModem) ResumeData(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "resume")
	if f.modeErr != nil {
		return f.modeErr
	}
	f.mode = modem.DataMode
	return nil
}

func (f *fakeModem) PowerDown(context.Context) error {
	return f.record("power-down")
}
