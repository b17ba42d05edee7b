package bot

import (
	"context"
	"fmt"
	"time"

	"citrine/pkg/memory"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Maintenance prunes handled chat records past their retention on a cron
// schedule. Pending records are never pruned.
type Maintenance struct {
	cron      *cron.Cron
	store     memory.Store
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewMaintenance(store memory.Store, retention time.Duration, schedule string, logger *zap.Logger) (*Maintenance, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Maintenance{
		cron:      cron.New(),
		store:     store,
		retention: retention,
		log:       logger.Named("maintenance"),
		now:       time.Now,
	}
	if _, err := m.cron.AddFunc(schedule, m.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return m, nil
}

func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := m.Prune(ctx); err != nil {
		m.log.Error("Record pruning failed", zap.Error(err))
	}
}

// Prune drops handled chat records older than the retention window. Stores
// that cannot prune are left alone.
func (m *Maintenance) Prune(ctx context.Context) (int, error) {
	pruner, ok := m.store.(memory.Pruner)
	if !ok || m.retention <= 0 {
		return 0, nil
	}
	before := m.now().Add(-m.retention)
	n, err := pruner.PruneRecords(ctx, memory.KindTwitchMessage, map[string]string{"handled": memory.Handled}, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Info("Pruned handled chat records", zap.Int("count", n), zap.Time("before", before))
	}
	return n, nil
}
