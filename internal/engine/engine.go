// Package engine drives the sync queue to completion against the remote
// CRM API: it drains pending mutations in priority order, retries transient
// failures with exponential backoff, and routes 409 responses through
// conflict resolution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/offlinehq/crmsync/internal/api"
	"github.com/offlinehq/crmsync/internal/bus"
	"github.com/offlinehq/crmsync/internal/conflict"
	"github.com/offlinehq/crmsync/internal/status"
	"github.com/offlinehq/crmsync/internal/store"
	"go.uber.org/zap"
)

// Remote is the subset of the API client the engine dispatches against.
type Remote interface {
	Create(ctx context.Context, collection string, payload map[string]any) (map[string]any, error)
	Update(ctx context.Context, collection, id string, payload map[string]any) (map[string]any, error)
	Delete(ctx context.Context, collection, id string) error
}

// Options carries the retry knobs; zero values fall back to the defaults
// documented in the config package.
type Options struct {
	MaxRetries  int
	BackoffBase time.Duration
}

// Result summarizes one drain.
type Result struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Synced    int
	Retried   int
	Failed    int
	Conflicts int
	Resolved  int
	Manual    int
}

// Engine is constructed once per process. Drains run sequentially: the
// syncing flag guarantees at most one drain at a time, and items within a
// drain are dispatched one after another so the priority/timestamp order
// is exactly the remote call order.
type Engine struct {
	db      *store.DB
	client  Remote
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	maxRetries  int
	backoffBase time.Duration

	syncing atomic.Bool
}

// New creates a sync engine.
func New(db *store.DB, client Remote, b *bus.Bus, m *status.Machine, logger *zap.Logger, opts Options) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	return &Engine{
		db:          db,
		client:      client,
		bus:         b,
		machine:     m,
		logger:      logger,
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
	}
}

// Status returns the engine's current state.
func (e *Engine) Status() status.State {
	return e.machine.Current()
}

// PerformSync runs one drain. If a drain is already in progress the call is
// a logged no-op returning (nil, nil). Item-level failures never abort the
// drain; only a store-level failure does.
func (e *Engine) PerformSync(ctx context.Context) (*Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Info("sync already in progress, skipping")
		return nil, nil
	}
	defer e.syncing.Store(false)

	_ = e.machine.Transition(status.Syncing)

	result := &Result{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	items, err := e.db.DrainOrder(result.StartTime)
	if err != nil {
		_ = e.machine.Transition(status.Error)
		e.publish(bus.KindSyncFailed, map[string]string{"error": err.Error()})
		return nil, fmt.Errorf("drain order: %w", err)
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			_ = e.machine.Transition(status.Idle)
			return result, ctx.Err()
		default:
		}
		e.processItem(ctx, item, result)
	}

	_ = e.machine.Transition(status.Idle)

	if result.Synced > 0 {
		e.publish(bus.KindSyncCompleted, *result)
	}
	e.logger.Info("drain finished",
		zap.Int("synced", result.Synced),
		zap.Int("retried", result.Retried),
		zap.Int("failed", result.Failed),
		zap.Int("conflicts", result.Conflicts))
	return result, nil
}

func (e *Engine) processItem(ctx context.Context, item *store.QueueItem, result *Result) {
	// Flag the item in flight first: a local write racing this dispatch must
	// land as a new pending item, not mutate the row being sent.
	if err := e.db.MarkQueueItemSyncing(item.ID); err != nil {
		e.logger.Error("failed to flag queue item in flight", zap.Error(err), zap.String("id", item.ID))
		return
	}
	_ = e.db.SetRecordStatus(item.Collection, item.EntityID, store.StatusSyncing)

	server, err := e.dispatch(ctx, item)
	if err == nil {
		e.confirm(item, server, result)
		return
	}

	var conflictErr *api.ConflictError
	if errors.As(err, &conflictErr) {
		e.handleConflict(item, conflictErr.Server, result)
		return
	}

	e.handleFailure(item, err, result)
}

// dispatch issues the remote call for one queue item. Upsert tries update
// first and falls back to create when the server does not know the entity.
func (e *Engine) dispatch(ctx context.Context, item *store.QueueItem) (map[string]any, error) {
	switch item.Operation {
	case store.OpCreate:
		return e.client.Create(ctx, item.Collection, item.Payload)
	case store.OpUpdate:
		return e.client.Update(ctx, item.Collection, item.EntityID, item.Payload)
	case store.OpDelete:
		return nil, e.client.Delete(ctx, item.Collection, item.EntityID)
	case store.OpUpsert:
		server, err := e.client.Update(ctx, item.Collection, item.EntityID, item.Payload)
		if errors.Is(err, api.ErrNotFound) {
			return e.client.Create(ctx, item.Collection, item.Payload)
		}
		return server, err
	}
	return nil, fmt.Errorf("unknown operation %q", item.Operation)
}

// confirm applies a successful remote response locally and removes the
// queue item. Removal happens last: a crash in between re-sends an already
// confirmed mutation, which the remote upsert semantics tolerate.
func (e *Engine) confirm(item *store.QueueItem, server map[string]any, result *Result) {
	if item.Operation == store.OpDelete {
		if err := e.db.DeleteRecord(item.Collection, item.EntityID); err != nil {
			e.logger.Error("failed to drop deleted record", zap.Error(err),
				zap.String("collection", item.Collection), zap.String("entity_id", item.EntityID))
		}
	} else {
		fields := server
		if len(fields) == 0 {
			fields = item.Payload
		}
		id := item.EntityID
		if serverID, ok := server["id"].(string); ok && serverID != "" {
			id = serverID
		}
		rec := &store.Record{
			Collection:   item.Collection,
			ID:           id,
			Fields:       fields,
			LastModified: time.Now(),
			SyncStatus:   store.StatusSynced,
		}
		if err := e.db.PutRecord(rec); err != nil {
			e.logger.Error("failed to store synced record", zap.Error(err),
				zap.String("collection", item.Collection), zap.String("entity_id", id))
		}
		// The server may assign a new id on create; drop the provisional copy.
		if id != item.EntityID {
			_ = e.db.DeleteRecord(item.Collection, item.EntityID)
		}
	}

	if err := e.db.RemoveQueueItem(item.ID); err != nil {
		e.logger.Error("failed to remove confirmed queue item", zap.Error(err), zap.String("id", item.ID))
		return
	}
	result.Synced++
	e.logger.Info("item synced",
		zap.String("collection", item.Collection),
		zap.String("entity_id", item.EntityID),
		zap.String("operation", string(item.Operation)))
}

// handleConflict records the divergence and immediately attempts automatic
// resolution with the collection's configured strategy. The queue item is
// done either way: a conflict is a terminal outcome for the mutation, not
// a retryable failure.
func (e *Engine) handleConflict(item *store.QueueItem, server map[string]any, result *Result) {
	result.Conflicts++

	c, err := e.db.UpsertConflict(item.Collection, item.EntityID, item.Payload, server)
	if err != nil {
		e.logger.Error("failed to record conflict", zap.Error(err),
			zap.String("collection", item.Collection), zap.String("entity_id", item.EntityID))
		return
	}
	_ = e.db.RemoveQueueItem(item.ID)
	_ = e.db.SetRecordStatus(item.Collection, item.EntityID, store.StatusConflict)
	e.publish(bus.KindConflictDetected, c)

	strat := e.strategyFor(item.Collection)
	resolved, ok := conflict.Resolve(c, strat)
	if !ok {
		e.logger.Warn("conflict requires manual resolution",
			zap.String("collection", item.Collection),
			zap.String("entity_id", item.EntityID),
			zap.String("conflict_id", c.ID))
		e.publish(bus.KindConflictManualRequired, c)
		result.Manual++
		return
	}

	rec := &store.Record{
		Collection:   item.Collection,
		ID:           item.EntityID,
		Fields:       resolved,
		LastModified: time.Now(),
		SyncStatus:   store.StatusSynced,
	}
	if err := e.db.PutRecord(rec); err != nil {
		e.logger.Error("failed to store resolved record", zap.Error(err), zap.String("conflict_id", c.ID))
		return
	}
	if err := e.db.MarkConflictResolved(c.ID); err != nil {
		e.logger.Error("failed to close conflict", zap.Error(err), zap.String("conflict_id", c.ID))
		return
	}
	e.publish(bus.KindConflictResolved, c)
	result.Resolved++
	e.logger.Info("conflict auto-resolved",
		zap.String("collection", item.Collection),
		zap.String("entity_id", item.EntityID),
		zap.String("strategy", string(strat)))
}

// handleFailure schedules a retry with exponential backoff, or abandons the
// item once the ceiling is hit or the failure is not retryable. Abandoned
// items stay visible in the queue with error status.
func (e *Engine) handleFailure(item *store.QueueItem, cause error, result *Result) {
	retryCount := item.RetryCount + 1

	if api.IsRetryable(cause) && retryCount < e.maxRetries {
		delay := e.backoffBase << (retryCount - 1)
		next := time.Now().Add(delay)
		if err := e.db.MarkQueueItemRetry(item.ID, cause.Error(), retryCount, next); err != nil {
			e.logger.Error("failed to schedule retry", zap.Error(err), zap.String("id", item.ID))
			return
		}
		_ = e.db.SetRecordStatus(item.Collection, item.EntityID, store.StatusPending)
		result.Retried++
		e.logger.Warn("item failed, retry scheduled",
			zap.String("collection", item.Collection),
			zap.String("entity_id", item.EntityID),
			zap.Int("retry_count", retryCount),
			zap.Duration("delay", delay),
			zap.Error(cause))
		return
	}

	if err := e.db.MarkQueueItemError(item.ID, cause.Error(), retryCount); err != nil {
		e.logger.Error("failed to abandon queue item", zap.Error(err), zap.String("id", item.ID))
		return
	}
	_ = e.db.SetRecordStatus(item.Collection, item.EntityID, store.StatusError)
	result.Failed++
	e.publish(bus.KindSyncItemFailed, map[string]string{
		"collection": item.Collection,
		"entity_id":  item.EntityID,
		"operation":  string(item.Operation),
		"error":      cause.Error(),
	})
	e.logger.Error("item abandoned",
		zap.String("collection", item.Collection),
		zap.String("entity_id", item.EntityID),
		zap.Int("retry_count", retryCount),
		zap.Error(cause))
}

// strategyFor reads the persisted per-collection strategy, falling back to
// merge when none is configured or the stored value is invalid.
func (e *Engine) strategyFor(collection string) conflict.Strategy {
	raw, err := e.db.GetStrategy(collection)
	if err != nil || raw == "" {
		return conflict.DefaultStrategy
	}
	strat, err := conflict.ParseStrategy(raw)
	if err != nil {
		e.logger.Warn("invalid stored strategy, using merge",
			zap.String("collection", collection), zap.String("strategy", raw))
		return conflict.DefaultStrategy
	}
	return strat
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
