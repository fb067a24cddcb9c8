package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
)

const queueItemColumns = `id, side, customer_id, amount, payment_method, payment_details, priority, status, matched_with, notes, created_at, updated_at`

type QueueItemRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewQueueItemRepository(db SQLExecutor, logger *slog.Logger) *QueueItemRepository {
	return &QueueItemRepository{
		db:     db,
		logger: logger,
	}
}

func (r *QueueItemRepository) Insert(ctx context.Context, item *domain.QueueItem) error {
	query := `
		INSERT INTO queue_items (` + queueItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		string(item.Side),
		item.CustomerID,
		item.Amount.String(),
		item.PaymentMethod,
		nullableJSON(item.PaymentDetails),
		item.Priority,
		string(item.Status),
		nullableUUID(item.MatchedWith),
		item.Notes,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert queue item", "item_id", item.ID, "error", err)
		return errors.ErrPersistence.WithDetails(err.Error())
	}

	r.logger.Debug("Queue item inserted", "item_id", item.ID, "side", item.Side, "status", item.Status)
	return nil
}

// UpdateIfStatus writes the mutable columns only while the row still has prev status.
func (r *QueueItemRepository) UpdateIfStatus(ctx context.Context, item *domain.QueueItem, prev domain.ItemStatus) error {
	query := `
		UPDATE queue_items
		SET status = $1, matched_with = $2, notes = $3, priority = $4, updated_at = $5
		WHERE id = $6 AND status = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		string(item.Status),
		nullableUUID(item.MatchedWith),
		item.Notes,
		item.Priority,
		item.UpdatedAt,
		item.ID,
		string(prev),
	)
	if err != nil {
		r.logger.Error("Failed to update queue item", "item_id", item.ID, "error", err)
		return errors.ErrPersistence.WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.ErrPersistence.WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.logger.Warn("Queue item changed concurrently", "item_id", item.ID, "expected_status", prev)
		return errors.ErrPersistence.WithDetails("queue item " + item.ID.String() + " is no longer " + string(prev))
	}

	return nil
}

// LockForUpdate takes row locks on ids (sorted, so lock order is stable) and
// returns their current statuses.
func (r *QueueItemRepository) LockForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ItemStatus, error) {
	query := `SELECT id, status FROM queue_items WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`

	params := make([]string, len(ids))
	for i, id := range ids {
		params[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx, query, pq.Array(params))
	if err != nil {
		r.logger.Error("Failed to lock queue items", "count", len(ids), "error", err)
		return nil, errors.ErrPersistence.WithDetails(err.Error())
	}
	defer rows.Close()

	statuses := make(map[uuid.UUID]domain.ItemStatus, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, errors.ErrPersistence.WithDetails(err.Error())
		}
		statuses[id] = domain.ItemStatus(status)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrPersistence.WithDetails(err.Error())
	}
	return statuses, nil
}

func (r *QueueItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM queue_items WHERE id = $1`

	item, err := scanQueueItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrItemNotFound
		}
		r.logger.Error("Failed to get queue item", "item_id", id, "error", err)
		return nil, errors.ErrPersistence.WithDetails(err.Error())
	}
	return item, nil
}

// ListWorkingSet returns every non-terminal item plus terminal items updated after since.
func (r *QueueItemRepository) ListWorkingSet(ctx context.Context, since time.Time) ([]domain.QueueItem, error) {
	query := `
		SELECT ` + queueItemColumns + `
		FROM queue_items
		WHERE status IN ('pending', 'matched', 'processing') OR updated_at >= $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		r.logger.Error("Failed to list queue items", "error", err)
		return nil, errors.ErrPersistence.WithDetails(err.Error())
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, errors.ErrPersistence.WithDetails(err.Error())
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrPersistence.WithDetails(err.Error())
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner) (*domain.QueueItem, error) {
	var item domain.QueueItem
	var side, status, amountStr string
	var details []byte
	var matchedWith uuid.NullUUID

	err := row.Scan(
		&item.ID,
		&side,
		&item.CustomerID,
		&amountStr,
		&item.PaymentMethod,
		&details,
		&item.Priority,
		&status,
		&matchedWith,
		&item.Notes,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, err
	}

	item.Side = domain.Side(side)
	item.Status = domain.ItemStatus(status)
	item.Amount = amount
	if len(details) > 0 {
		item.PaymentDetails = json.RawMessage(details)
	}
	if matchedWith.Valid {
		id := matchedWith.UUID
		item.MatchedWith = &id
	}
	return &item, nil
}

func nullableUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
