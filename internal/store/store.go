package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"refund-service/internal/models"
	"refund-service/internal/refund"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetOrderByID retrieves an order by ID, without transactions
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", refund.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderWithTransactions retrieves an order and its transactions in
// insertion order
func (s *Store) GetOrderWithTransactions(ctx context.Context, id int64) (*models.Order, error) {
	order, err := s.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &order.Transactions,
		"SELECT * FROM transactions WHERE order_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, err
	}

	return order, nil
}

// UpdateOrderRefundState writes the derived refund aggregates on an order
func (s *Store) UpdateOrderRefundState(ctx context.Context, orderID, totalRefunded int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET total_refunded = $1, status = $2, updated_at = NOW() WHERE id = $3",
		totalRefunded, status, orderID)
	return err
}

// UpdateOrderStatus updates only the order status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// UpdateTransactionStatus updates a transaction's status
func (s *Store) UpdateTransactionStatus(ctx context.Context, txID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2",
		status, txID)
	return err
}
