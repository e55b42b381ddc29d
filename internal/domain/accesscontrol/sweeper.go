package accesscontrol

import (
	"context"
	"time"

	"clinical-access-control/internal/platform/clock"
	"clinical-access-control/internal/platform/logger"
)

// Sweeper purga grants vencidos cada Interval. Es opcional: CheckAccess
// ya ignora los vencidos, esto solo limpia el storage.
type Sweeper struct {
	Controller *Controller
	Clock      clock.Clock
	Interval   time.Duration
	Log        logger.Logger
}

// Run bloquea hasta que ctx se cancela. Con Interval <= 0 vuelve enseguida.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	log := s.Log
	if log == nil {
		log = logger.Nop()
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.SweepOnce(ctx)
			if err != nil {
				log.Error("grant sweep failed", map[string]any{"error": err.Error()})
				continue
			}
			if res.Removed > 0 {
				log.Info("grant sweep", map[string]any{"scanned": res.Scanned, "removed": res.Removed})
			}
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (PurgeResult, error) {
	clk := s.Clock
	if clk == nil {
		clk = clock.Func(time.Now)
	}
	return s.Controller.sweepExpired(ctx, clock.Unix(clk.Now()))
}
