package modem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"i4.energy/across/ltemodem/modem"
)

func TestEnterMode(t *testing.T) {
	t.Run("CONNECT switches to data mode", func(t *testing.T) {
		sink := &syncBuffer{}
		tr := NewFakeTransport().
			Reply("ATD*99#\r", "\r\nCONNECT 150000000\r\n").
			Reply("+++", "\r\nOK\r\n").
			Reply("AT+CSQ\r", "\r\n+CSQ: 18,99\r\n\r\nOK\r\n")
		m := newRunningModem(t, tr, func(b *modem.ConfigBuilder) {
			b.WithDataSink(sink)
		})

		if err := m.EnterMode(context.Background(), modem.DataMode); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Mode() != modem.DataMode {
			t.Fatalf("expected data mode, got %s", m.Mode())
		}

		ppp := "\x7e\xff\x03\xc0\x21\r\nOK\r\n\x7e"
		tr.Send(ppp)
		if !eventually(t, func() bool { return sink.String() == ppp }) {
			t.Errorf("expected payload %q in sink, got %q", ppp, sink.String())
		}

		if _, err := m.SignalQuality(context.Background()); !errors.Is(err, modem.ErrDataMode) {
			t.Errorf("expected ErrDataMode, got: %v", err)
		}
		if n, err := m.WritePayload([]byte("\x7e")); err != nil || n != 1 {
			t.Errorf("WritePayload() = %d, %v", n, err)
		}

		if err := m.EnterMode(context.Background(), modem.CommandMode); err != nil {
			t.Fatalf("escape failed: %v", err)
		}
		if m.Mode() != modem.CommandMode {
			t.Fatalf("expected command mode, got %s", m.Mode())
		}
		if _, err := m.WritePayload([]byte("x")); !errors.Is(err, modem.ErrCommandMode) {
			t.Errorf("expected ErrCommandMode, got: %v", err)
		}
		if q, err := m.SignalQuality(context.Background()); err != nil || q.RSSI != 18 {
			t.Errorf("query after escape: %+v, %v", q, err)
		}
	})

	t.Run("ERROR leaves command mode unchanged", func(t *testing.T) {
		tr := NewFakeTransport().
			Reply("ATD*99#\r", "\r\nERROR\r\n").
			Reply("AT+CSQ\r", "\r\n+CSQ: 9,0\r\n\r\nOK\r\n")
		m := newRunningModem(t, tr)

		err := m.EnterMode(context.Background(), modem.DataMode)
		if !errors.Is(err, modem.ErrModeTransition) || !errors.Is(err, modem.ErrFail) {
			t.Fatalf("expected ErrModeTransition wrapping ErrFail, got: %v", err)
		}
		if m.Mode() != modem.CommandMode {
			t.Errorf("mode changed on failure: %s", m.Mode())
		}
		if q, err := m.SignalQuality(context.Background()); err != nil || q.RSSI != 9 {
			t.Errorf("framer not back in line mode: %+v, %v", q, err)
		}
	})

	t.Run("Escape accepts NO CARRIER", func(t *testing.T) {
		tr := NewFakeTransport().
			Reply("ATD*99#\r", "\r\nCONNECT\r\n").
			Reply("+++", "\r\nNO CARRIER\r\n")
		m := newRunningModem(t, tr)

		if err := m.EnterMode(context.Background(), modem.DataMode); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := m.EnterMode(context.Background(), modem.CommandMode); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Mode() != modem.CommandMode {
			t.Errorf("expected command mode, got %s", m.Mode())
		}
	})

	t.Run("Escape timeout keeps data mode", func(t *testing.T) {
		sink := &syncBuffer{}
		tr := NewFakeTransport().Reply("ATD*99#\r", "\r\nCONNECT\r\n")
		m := newRunningModem(t, tr, func(b *modem.ConfigBuilder) {
			b.WithDataSink(sink).WithModeTimeout(50 * time.Millisecond)
		})

		if err := m.EnterMode(context.Background(), modem.DataMode); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		err := m.EnterMode(context.Background(), modem.CommandMode)
		if !errors.Is(err, modem.ErrModeTransition) || !errors.Is(err, modem.ErrTimedOut) {
			t.Fatalf("expected ErrModeTransition wrapping ErrTimedOut, got: %v", err)
		}
		if m.Mode() != modem.DataMode {
			t.Errorf("mode changed on failure: %s", m.Mode())
		}

		tr.Send("\x7e\x7e")
		if !eventually(t, func() bool { return sink.String() == "\x7e\x7e" }) {
			t.Errorf("framer not back in passthrough, sink %q", sink.String())
		}
	})

	t.Run("Resume after escape", func(t *testing.T) {
		tr := NewFakeTransport().
			Reply("ATD*99#\r", "\r\nCONNECT\r\n").
			Reply("+++", "\r\nOK\r\n").
			Reply("ATO\r", "\r\nCONNECT\r\n")
		m := newRunningModem(t, tr)

		ctx := context.Background()
		if err := m.EnterMode(ctx, modem.DataMode); err != nil {
			t.Fatalf("dial: %v", err)
		}
		if err := m.EnterMode(ctx, modem.CommandMode); err != nil {
			t.Fatalf("escape: %v", err)
		}
		if err := m.ResumeData(ctx); err != nil {
			t.Fatalf("resume: %v", err)
		}
		if m.Mode() != modem.DataMode {
			t.Errorf("expected data mode, got %s", m.Mode())
		}
	})

	t.Run("Same mode is a no-op", func(t *testing.T) {
		tr := NewFakeTransport()
		m := newRunningModem(t, tr)

		if err := m.EnterMode(context.Background(), modem.CommandMode); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		select {
		case w := <-tr.writes:
			t.Errorf("no-op transition wrote %q", w)
		default:
		}
	})

	t.Run("Escape keeps the guard time", func(t *testing.T) {
		tr := NewFakeTransport().
			Reply("ATD*99#\r", "\r\nCONNECT\r\n").
			Reply("+++", "\r\nOK\r\n")
		m := newRunningModem(t, tr, func(b *modem.ConfigBuilder) {
			b.WithEscapeGuard(40 * time.Millisecond)
		})

		if err := m.EnterMode(context.Background(), modem.DataMode); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		start := time.Now()
		if err := m.EnterMode(context.Background(), modem.CommandMode); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
			t.Errorf("escape sent before guard time: %v", elapsed)
		}
	})
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]modem.Mode{"command": modem.CommandMode, "data": modem.DataMode} {
		got, err := modem.ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := modem.ParseMode("ppp"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
