package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"positionguard/src/database"
	"positionguard/src/model"
)

// OrderRepository journals every order sent to the broker.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with MainDB")

	return &OrderRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order; ID and timestamps are filled in place.
func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "Create",
		"ticker": order.Ticker,
		"side":   order.Side,
		"kind":   order.Kind,
		"qty":    order.Quantity,
	}).Debug("Creating new order")

	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create order")
		return err
	}
	return nil
}

// MarkResult moves a journaled order to its final status.
func (r *OrderRepository) MarkResult(
	ctx context.Context,
	id uint,
	status string,
	brokerOrderID string,
	cause error,
) error {
	updates := map[string]interface{}{
		"status": status,
	}
	if brokerOrderID != "" {
		updates["broker_order_id"] = brokerOrderID
	}
	if cause != nil {
		updates["error_message"] = cause.Error()
	}
	if status == model.OrderStatusFilled || status == model.OrderStatusPlaced {
		updates["executed_at"] = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "MarkResult",
			"id":     id,
			"status": status,
		}).WithError(err).Error("Failed to update order status")
		return err
	}
	return nil
}

// FindLatest returns the latest orders ordered from newest to oldest.
func (r *OrderRepository) FindLatest(ctx context.Context, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 20
	}

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

type OrderSearchOptions struct {
	Ticker        *string
	Kind          *string
	Status        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

func (r *OrderRepository) Search(ctx context.Context, opts OrderSearchOptions) ([]model.Order, error) {
	query := r.db.WithContext(ctx).Model(&model.Order{})

	if opts.Ticker != nil {
		query = query.Where("ticker = ?", *opts.Ticker)
	}
	if opts.Kind != nil {
		query = query.Where("kind = ?", *opts.Kind)
	}
	if opts.Status != nil {
		query = query.Where("status = ?", *opts.Status)
	}
	if opts.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *opts.CreatedAfter)
	}
	if opts.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *opts.CreatedBefore)
	}

	query = query.Order("created_at DESC, id DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var orders []model.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
