package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"i4.energy/across/ltemodem/modem"
)

// Poller refreshes the radio measurements at a fixed interval. A running
// PPP session is suspended with an escape for the queries and resumed with
// ATO afterwards.
type Poller struct {
	Logger   *slog.Logger
	Modem    ModemAPI
	Interval time.Duration
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	if p.Interval <= 0 {
		p.Logger.Info("Polling disabled")
		return nil
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				if errors.Is(err, modem.ErrBusy) {
					p.Logger.Debug("Modem busy, skipping poll")
					continue
				}
				if errors.Is(err, modem.ErrAlreadyClosed) || errors.Is(err, modem.ErrLoopStopped) {
					return nil
				}
				p.Logger.Warn("Poll failed", "error", err)
			}
		}
	}
}

// Poll runs one refresh.
func (p *Poller) Poll(ctx context.Context) (err error) {
	if p.Modem.Mode() == modem.DataMode {
		if err := p.Modem.EnterMode(ctx, modem.CommandMode); err != nil {
			return err
		}
		defer func() {
			if rerr := p.Modem.ResumeData(ctx); rerr != nil {
				p.Logger.Error("Failed to resume data session", "error", rerr)
				err = errors.Join(err, rerr)
			}
		}()
	}

	q, err := p.Modem.SignalQuality(ctx)
	if err != nil {
		return err
	}
	cell, err := p.Modem.ServingCell(ctx)
	if err != nil {
		return err
	}

	p.Logger.Info("Radio status",
		"rssi", q.RSSI,
		"ber", q.BER,
		"quality", q.Quality(),
		"rsrp", cell.RSRP,
		"rsrq", cell.RSRQ,
		"cell_rssi", cell.RSSI)
	return nil
}
