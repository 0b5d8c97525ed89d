// Package journal records every order sent to the broker in the orders table.
package journal

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"positionguard/src/model"
)

type Store interface {
	Create(ctx context.Context, order *model.Order) error
	MarkResult(ctx context.Context, id uint, status, brokerOrderID string, cause error) error
}

// Recorder is nil-safe: a nil *Recorder still hands out client tags but
// writes nothing. Journal failures are logged, never returned, so a
// database hiccup cannot block an exit.
type Recorder struct {
	store   Store
	account string
	log     *logrus.Entry
}

func New(store Store, account string, log *logrus.Entry) *Recorder {
	return &Recorder{store: store, account: account, log: log.WithField("component", "journal")}
}

type Entry struct {
	ClientTag string
	id        uint
	r         *Recorder
}

// Begin journals a pending order and returns its client tag.
func (r *Recorder) Begin(ctx context.Context, order model.Order) *Entry {
	tag := uuid.NewString()
	e := &Entry{ClientTag: tag, r: r}
	if r == nil || r.store == nil {
		return e
	}

	order.Account = r.account
	order.ClientTag = tag
	order.Status = model.OrderStatusPending
	if err := r.store.Create(ctx, &order); err != nil {
		r.log.WithError(err).WithField("ticker", order.Ticker).Warn("Could not journal order")
		return e
	}
	e.id = order.ID
	return e
}

func (e *Entry) Finish(ctx context.Context, status, brokerOrderID string, cause error) {
	if e == nil || e.r == nil || e.r.store == nil || e.id == 0 {
		return
	}
	if err := e.r.store.MarkResult(ctx, e.id, status, brokerOrderID, cause); err != nil {
		e.r.log.WithError(err).WithField("client_tag", e.ClientTag).Warn("Could not update journaled order")
	}
}
