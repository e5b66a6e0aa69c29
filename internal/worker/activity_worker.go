// Package worker processes entry-change events published by the API.
package worker

import (
	"context"
	"errors"
	"fmt"

	"gigfin/internal/amqp"
	"gigfin/internal/cache"
	"gigfin/internal/core"
	"gigfin/internal/log"
	"gigfin/internal/sheets"
)

// Store is the persistence the worker reads entries from and records
// activity into.
type Store interface {
	GetIncome(ctx context.Context, userID, id int64) (core.IncomeEntry, error)
	GetExpense(ctx context.Context, userID, id int64) (core.ExpenseEntry, error)
	InsertActivity(ctx context.Context, a core.Activity) error
}

// ActivityWorker writes one activity record per entry change and, when a
// mirror is configured, copies newly created incomes and expenses to it.
type ActivityWorker struct {
	store  Store
	mirror sheets.Mirror
	logger *log.Logger
}

// NewActivityWorker builds a worker. mirror may be nil.
func NewActivityWorker(store Store, mirror sheets.Mirror) *ActivityWorker {
	return &ActivityWorker{
		store:  store,
		mirror: mirror,
		logger: log.WithComponent(log.ComponentWorker),
	}
}

// HandleEntryChanged processes a single entry changed message from AMQP.
// Returning an error makes the consumer retry the message later.
func (w *ActivityWorker) HandleEntryChanged(ctx context.Context, msg *amqp.EntryChangedMessage) error {
	w.logger.InfoContext(ctx, "Processing entry changed message",
		log.FieldUserID, msg.UserID,
		log.FieldEntity, msg.Entity,
		log.FieldAction, msg.Action,
		log.FieldEntityID, msg.EntityID)

	// Activity goes first: it is idempotent, so a retry after a failed
	// mirror never appends the sheet row twice.
	err := w.store.InsertActivity(ctx, core.Activity{
		UserID:     msg.UserID,
		Entity:     msg.Entity,
		Action:     msg.Action,
		EntityID:   msg.EntityID,
		OccurredAt: msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}

	if err := w.mirrorEntry(ctx, msg); err != nil {
		return fmt.Errorf("mirror entry: %w", err)
	}
	return nil
}

func (w *ActivityWorker) mirrorEntry(ctx context.Context, msg *amqp.EntryChangedMessage) error {
	if w.mirror == nil || msg.Action != amqp.ActionCreate {
		return nil
	}

	var (
		ref string
		err error
	)
	switch cache.Entity(msg.Entity) {
	case cache.Incomes:
		var e core.IncomeEntry
		if e, err = w.store.GetIncome(ctx, msg.UserID, msg.EntityID); err == nil {
			ref, err = w.mirror.AppendIncome(ctx, e)
		}
	case cache.Expenses:
		var e core.ExpenseEntry
		if e, err = w.store.GetExpense(ctx, msg.UserID, msg.EntityID); err == nil {
			ref, err = w.mirror.AppendExpense(ctx, e)
		}
	default:
		return nil
	}

	// The entry was deleted before we got to it; nothing left to mirror.
	if errors.Is(err, core.ErrNotFound) {
		w.logger.WarnContext(ctx, "Entry gone before mirroring",
			log.FieldEntity, msg.Entity, log.FieldEntityID, msg.EntityID)
		return nil
	}
	if err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "Entry mirrored",
		log.FieldEntity, msg.Entity, log.FieldEntityID, msg.EntityID, log.FieldSheetsRange, ref)
	return nil
}
