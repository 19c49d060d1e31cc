package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/memory"
)

/*
Maintenance drives the manager's periodic upkeep. Each tick runs a
consolidation pass and, when the configuration enables it, a decay
pass. A server embedding the manager starts one of these instead of
wiring its own timers.
*/
type Maintenance struct {
	manager  *memory.Manager
	interval time.Duration
	decay    bool
	cancel   context.CancelFunc
	done     chan struct{}
}

type MaintenanceOption func(*Maintenance)

func NewMaintenance(manager *memory.Manager, options ...MaintenanceOption) *Maintenance {
	cfg := manager.Config()

	maintenance := &Maintenance{
		manager:  manager,
		interval: time.Duration(cfg.DecayIntervalHours) * time.Hour,
		decay:    cfg.AutoDecay,
	}

	for _, option := range options {
		option(maintenance)
	}

	return maintenance
}

// Start launches the upkeep loop. It returns immediately, the loop
// runs until Stop or the context ends.
func (maintenance *Maintenance) Start(ctx context.Context) {
	if maintenance.done != nil {
		return
	}

	ctx, maintenance.cancel = context.WithCancel(ctx)
	maintenance.done = make(chan struct{})

	go maintenance.run(ctx)
}

// Stop ends the loop and waits for the in-flight tick to finish.
func (maintenance *Maintenance) Stop() {
	if maintenance.done == nil {
		return
	}

	maintenance.cancel()
	<-maintenance.done
	maintenance.done = nil
}

func (maintenance *Maintenance) run(ctx context.Context) {
	defer close(maintenance.done)

	ticker := time.NewTicker(maintenance.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			maintenance.Tick(ctx)
		}
	}
}

// Tick runs one upkeep pass. Exposed so callers can force a pass
// outside the schedule.
func (maintenance *Maintenance) Tick(ctx context.Context) {
	report, err := maintenance.manager.Consolidate(ctx)
	if err != nil {
		log.Error("scheduled consolidation failed", "error", err)
	} else if report.WorkingToEpisodic+report.PromotedToSemantic+report.Merged+report.Removed > 0 {
		log.Info("consolidation pass",
			"working_to_episodic", report.WorkingToEpisodic,
			"promoted_to_semantic", report.PromotedToSemantic,
			"merged", report.Merged,
			"removed", report.Removed,
		)
	}

	if !maintenance.decay {
		return
	}

	decayed := maintenance.manager.ApplyDecay()
	if removed := decayed.TotalRemoved(); removed > 0 {
		log.Info("decay pass", "removed", removed)
	}
}

func WithInterval(interval time.Duration) MaintenanceOption {
	return func(maintenance *Maintenance) {
		maintenance.interval = interval
	}
}

func WithDecay(decay bool) MaintenanceOption {
	return func(maintenance *Maintenance) {
		maintenance.decay = decay
	}
}
