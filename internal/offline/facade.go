// Package offline is the surface the UI layer consumes: offline-first
// reads and writes against the local store, connectivity state, and the
// entry points for forcing a sync and resolving conflicts.
package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/offlinehq/crmsync/internal/bus"
	"github.com/offlinehq/crmsync/internal/conflict"
	"github.com/offlinehq/crmsync/internal/engine"
	"github.com/offlinehq/crmsync/internal/store"
	"go.uber.org/zap"
)

// SyncOutcome is the status ForceSync surfaces to callers.
type SyncOutcome string

const (
	OutcomeIdle      SyncOutcome = "idle"
	OutcomeSyncing   SyncOutcome = "syncing"
	OutcomeCompleted SyncOutcome = "completed"
	OutcomeError     SyncOutcome = "error"
)

// Facade wires the local store, the sync engine and the connectivity
// monitor into the one interface collaborators touch. Writes never block
// on the network; reads never reach it.
type Facade struct {
	db      *store.DB
	engine  *engine.Engine
	client  engine.Remote
	monitor *Monitor
	bus     *bus.Bus
	logger  *zap.Logger

	interval time.Duration
	cancel   context.CancelFunc
}

// New creates the facade. interval is the periodic background drain cadence.
func New(db *store.DB, eng *engine.Engine, client engine.Remote, monitor *Monitor, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Facade {
	return &Facade{
		db:       db,
		engine:   eng,
		client:   client,
		monitor:  monitor,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Start launches the connectivity monitor and the periodic drain loop.
func (f *Facade) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.monitor.Start(ctx)
	go f.loop(ctx)
}

// Stop stops background work. In-flight drains finish on their own.
func (f *Facade) Stop() {
	f.monitor.Stop()
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *Facade) loop(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if f.monitor.Online() {
				if _, err := f.engine.PerformSync(ctx); err != nil {
					f.logger.Error("periodic sync failed", zap.Error(err))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// IsOnline reports current connectivity.
func (f *Facade) IsOnline() bool {
	return f.monitor.Online()
}

// PendingItems returns the live count of queue entries awaiting sync.
func (f *Facade) PendingItems() (int, error) {
	return f.db.PendingCount()
}

// Conflicts returns the conflicts still awaiting resolution.
func (f *Facade) Conflicts() ([]*store.ConflictRecord, error) {
	return f.db.PendingConflicts()
}

// QueueItems returns every queue entry, including abandoned ones, for
// operator inspection.
func (f *Facade) QueueItems() ([]*store.QueueItem, error) {
	return f.db.ListQueueItems()
}

// StoreOffline persists a record locally and queues its mutation for the
// next drain. A record without an id gets a client-assigned one. The
// modification timestamp is stamped both on the envelope and into the
// payload, so conflict merging can compare versions later.
func (f *Facade) StoreOffline(collection string, fields map[string]any, op store.Operation, priority store.Priority) (*store.Record, error) {
	if fields == nil {
		fields = make(map[string]any)
	}
	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.NewString()
		fields["id"] = id
	}

	now := time.Now().UTC()
	fields["lastModified"] = now.Format(time.RFC3339)

	rec := &store.Record{
		Collection:   collection,
		ID:           id,
		Fields:       fields,
		LastModified: now,
		SyncStatus:   store.StatusPending,
	}
	if err := f.db.PutRecord(rec); err != nil {
		return nil, err
	}
	if _, err := f.db.Enqueue(collection, id, op, fields, priority); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetOffline reads a record from the local store only.
func (f *Facade) GetOffline(collection, id string) (*store.Record, error) {
	return f.db.GetRecord(collection, id)
}

// ListOffline reads all records of a collection from the local store only.
func (f *Facade) ListOffline(collection string) ([]*store.Record, error) {
	return f.db.ListRecords(collection, nil)
}

// ForceSync runs a drain now and surfaces its outcome. A drain already in
// progress yields OutcomeSyncing; a drain that found nothing to do yields
// OutcomeIdle.
func (f *Facade) ForceSync(ctx context.Context) (SyncOutcome, error) {
	result, err := f.engine.PerformSync(ctx)
	if err != nil {
		return OutcomeError, err
	}
	if result == nil {
		return OutcomeSyncing, nil
	}
	if result.Synced+result.Retried+result.Failed+result.Conflicts == 0 {
		return OutcomeIdle, nil
	}
	return OutcomeCompleted, nil
}

// ResolveConflict applies an operator-supplied resolution: the resolved
// record is written locally, the conflict is closed, and the resolution is
// pushed upstream. If the push fails the resolution is queued with high
// priority instead, so it reaches the server on a later drain.
func (f *Facade) ResolveConflict(ctx context.Context, conflictID string, resolved map[string]any) error {
	c, err := f.db.GetConflict(conflictID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("conflict %s not found", conflictID)
	}
	if c.Status != store.ConflictPending {
		return fmt.Errorf("conflict %s already resolved", conflictID)
	}

	// Work on a copy: the caller's map stays untouched.
	fields := make(map[string]any, len(resolved)+1)
	for k, v := range resolved {
		fields[k] = v
	}
	now := time.Now().UTC()
	fields["lastModified"] = now.Format(time.RFC3339)

	rec := &store.Record{
		Collection:   c.Collection,
		ID:           c.EntityID,
		Fields:       fields,
		LastModified: now,
		SyncStatus:   store.StatusSynced,
	}
	if err := f.db.PutRecord(rec); err != nil {
		return err
	}
	if err := f.db.MarkConflictResolved(conflictID); err != nil {
		return err
	}
	f.publish(bus.KindConflictResolved, c)

	if _, err := f.client.Update(ctx, c.Collection, c.EntityID, fields); err != nil {
		f.logger.Warn("failed to push resolution, queueing for retry",
			zap.String("collection", c.Collection),
			zap.String("entity_id", c.EntityID),
			zap.Error(err))
		if err := f.db.SetRecordStatus(c.Collection, c.EntityID, store.StatusPending); err != nil {
			return err
		}
		_, err := f.db.Enqueue(c.Collection, c.EntityID, store.OpUpdate, fields, store.PriorityHigh)
		return err
	}
	return nil
}

// SetStrategy configures the automatic conflict strategy for a collection.
func (f *Facade) SetStrategy(collection, strategy string) error {
	if _, err := conflict.ParseStrategy(strategy); err != nil {
		return err
	}
	return f.db.SetStrategy(collection, strategy)
}

// ClearOfflineData wipes one collection, or everything when collection is
// empty: all records, the sync queue and the conflict table. Engine
// metadata (configured strategies) survives.
func (f *Facade) ClearOfflineData(collection string) error {
	if collection != "" {
		if err := f.db.ClearCollection(collection); err != nil {
			return err
		}
		if err := f.db.ClearQueue(collection); err != nil {
			return err
		}
		return f.db.ClearConflicts(collection)
	}

	names, err := f.db.Collections()
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		errs = append(errs, f.db.ClearCollection(name))
	}
	errs = append(errs, f.db.ClearQueue(""), f.db.ClearConflicts(""))
	return errors.Join(errs...)
}

func (f *Facade) publish(kind string, payload any) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
