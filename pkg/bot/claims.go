package bot

import (
	"context"

	"citrine/pkg/memory"
)

// claimPending queries the unhandled chat records and claims the ones no other
// cycle is working on. The query runs under claimMu, and a successful cycle
// marks its batch handled before releasing it, so batches never overlap and
// a record is never answered twice.
func (r *Runtime) claimPending(ctx context.Context) ([]memory.Record, error) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()

	pending, err := r.store.QueryRecords(ctx, memory.KindTwitchMessage, map[string]string{"handled": memory.Unhandled})
	if err != nil {
		return nil, err
	}

	var batch []memory.Record
	for _, rec := range pending {
		if r.inflight[rec.ID] {
			continue
		}
		r.inflight[rec.ID] = true
		batch = append(batch, rec)
	}
	return batch, nil
}

func (r *Runtime) release(batch []memory.Record) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()
	for _, rec := range batch {
		delete(r.inflight, rec.ID)
	}
}
