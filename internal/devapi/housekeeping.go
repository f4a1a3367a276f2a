package devapi

import (
	"log/slog"
	"time"
)

// Sweeper is anything holding expiring state that can be pruned.
type Sweeper interface {
	Sweep() int
}

// Housekeeping periodically drops expired refresh and MFA tokens so the
// identity maps do not grow without bound.
type Housekeeping struct {
	Target   Sweeper
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeeping creates the worker. Intervals <= 0 default to one minute.
func NewHousekeeping(target Sweeper, logger *slog.Logger, interval time.Duration) *Housekeeping {
	if interval <= 0 {
		interval = time.Minute
	}

	return &Housekeeping{
		Target:   target,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background loop. Call Stop to end it.
func (h *Housekeeping) Start() {
	go h.run()
	h.Logger.Info("housekeeping started", "interval", h.Interval)
}

// Stop ends the loop and waits for an in-progress sweep to finish.
func (h *Housekeeping) Stop() {
	close(h.stopCh)
	<-h.doneCh
	h.Logger.Info("housekeeping stopped")
}

func (h *Housekeeping) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := h.Target.Sweep(); n > 0 {
				h.Logger.Debug("housekeeping swept expired tokens", "count", n)
			}
		case <-h.stopCh:
			return
		}
	}
}
