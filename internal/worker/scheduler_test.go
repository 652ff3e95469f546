package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/realfolio/realfolio/internal/db"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/service"
)

type fakeRepairer struct {
	calls  []bool
	report *service.RepairReport
	err    error
}

func (r *fakeRepairer) RepairOwnerMemberships(ctx context.Context, dryRun bool) (*service.RepairReport, error) {
	r.calls = append(r.calls, dryRun)
	if r.err != nil {
		return nil, r.err
	}
	return r.report, nil
}

func TestRunOwnerRepair_RecordsRun(t *testing.T) {
	database := setupTestDB(t)
	r := &fakeRepairer{report: &service.RepairReport{Scanned: 3, Applied: true}}

	report, err := RunOwnerRepair(t.Context(), database, r, false)
	if err != nil {
		t.Fatalf("RunOwnerRepair failed: %v", err)
	}
	if report.Scanned != 3 {
		t.Errorf("scanned = %d", report.Scanned)
	}
	stamp, err := db.GetSetting(database, models.SettingLastOwnerRepair)
	if err != nil {
		t.Fatalf("last run not recorded: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Errorf("stamp %q is not RFC3339: %v", stamp, err)
	}
}

func TestRunOwnerRepair_DryRunNotRecorded(t *testing.T) {
	database := setupTestDB(t)
	r := &fakeRepairer{report: &service.RepairReport{}}

	if _, err := RunOwnerRepair(t.Context(), database, r, true); err != nil {
		t.Fatalf("RunOwnerRepair failed: %v", err)
	}
	if len(r.calls) != 1 || !r.calls[0] {
		t.Errorf("calls = %v, want one dry run", r.calls)
	}
	if _, err := db.GetSetting(database, models.SettingLastOwnerRepair); !errors.Is(err, db.ErrSettingNotFound) {
		t.Errorf("dry run was recorded: %v", err)
	}
}

func TestRunOwnerRepair_PropagatesError(t *testing.T) {
	database := setupTestDB(t)
	r := &fakeRepairer{err: errors.New("boom")}
	if _, err := RunOwnerRepair(t.Context(), database, r, false); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewScheduler(t *testing.T) {
	database := setupTestDB(t)
	r := &fakeRepairer{report: &service.RepairReport{}}

	tests := []struct {
		spec    string
		entries int
		wantErr bool
	}{
		{"", 0, false},
		{"@daily", 1, false},
		{"0 3 * * *", 1, false},
		{"not a schedule", 0, true},
	}
	for _, tt := range tests {
		s, err := NewScheduler(database, r, tt.spec, discardLogger())
		if (err != nil) != tt.wantErr {
			t.Errorf("NewScheduler(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			continue
		}
		if err == nil && s.Entries() != tt.entries {
			t.Errorf("NewScheduler(%q) entries = %d, want %d", tt.spec, s.Entries(), tt.entries)
		}
	}
}

func TestScheduler_RunStopsWithContext(t *testing.T) {
	database := setupTestDB(t)
	s, err := NewScheduler(database, &fakeRepairer{}, "@daily", discardLogger())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
