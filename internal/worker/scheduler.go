package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/realfolio/realfolio/internal/db"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/service"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Repairer restores owner memberships.
type Repairer interface {
	RepairOwnerMemberships(ctx context.Context, dryRun bool) (*service.RepairReport, error)
}

// RunOwnerRepair runs the repair and, unless dryRun, records the time of the
// run in the settings table.
func RunOwnerRepair(ctx context.Context, database *gorm.DB, r Repairer, dryRun bool) (*service.RepairReport, error) {
	report, err := r.RepairOwnerMemberships(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	if !dryRun {
		stamp := time.Now().UTC().Format(time.RFC3339)
		if err := db.PutSetting(database.WithContext(ctx), models.SettingLastOwnerRepair, stamp); err != nil {
			return report, fmt.Errorf("repair applied but not recorded: %w", err)
		}
	}
	return report, nil
}

// Scheduler runs periodic maintenance.
type Scheduler struct {
	cron     *cron.Cron
	db       *gorm.DB
	repairer Repairer
	logger   *slog.Logger
}

// NewScheduler registers the owner repair under spec (standard cron syntax or
// descriptors such as "@daily"). An empty spec schedules nothing.
func NewScheduler(database *gorm.DB, r Repairer, spec string, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		db:       database,
		repairer: r,
		logger:   logger,
	}
	if spec == "" {
		return s, nil
	}
	if _, err := s.cron.AddFunc(spec, s.repair); err != nil {
		return nil, fmt.Errorf("invalid repair schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) repair() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := RunOwnerRepair(ctx, s.db, s.repairer, false)
	if err != nil {
		s.logger.Error("Scheduled owner repair failed", "error", err)
		return
	}
	s.logger.Info("Scheduled owner repair completed", "scanned", report.Scanned, "repaired", len(report.Items))
}

// Entries reports how many jobs are scheduled.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("Maintenance scheduler started", "jobs", s.Entries())
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("Maintenance scheduler stopped")
	return nil
}
