package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
)

const matchColumns = `id, withdrawal_item_id, deposit_item_id, amount, score, status, notes, created_at, updated_at, completed_at`

type MatchRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewMatchRepository(db SQLExecutor, logger *slog.Logger) *MatchRepository {
	return &MatchRepository{
		db:     db,
		logger: logger,
	}
}

func (r *MatchRepository) Insert(ctx context.Context, m *domain.Match) error {
	query := `
		INSERT INTO queue_matches (` + matchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		m.ID,
		m.WithdrawalItemID,
		m.DepositItemID,
		m.Amount.String(),
		m.Score,
		string(m.Status),
		m.Notes,
		m.CreatedAt,
		m.UpdatedAt,
		m.CompletedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == uniqueViolation && pqErr.Constraint == "uq_queue_matches_pair" {
				r.logger.Warn("Pair already matched", "withdrawal_item_id", m.WithdrawalItemID, "deposit_item_id", m.DepositItemID)
				return errors.ErrPersistence.WithDetails("pair already matched")
			}
		}
		r.logger.Error("Failed to insert match", "match_id", m.ID, "error", err)
		return errors.ErrPersistence.WithDetails(err.Error())
	}

	r.logger.Debug("Match inserted", "match_id", m.ID, "score", m.Score)
	return nil
}

func (r *MatchRepository) UpdateIfStatus(ctx context.Context, m *domain.Match, prev domain.MatchStatus) error {
	query := `
		UPDATE queue_matches
		SET status = $1, notes = $2, updated_at = $3, completed_at = $4
		WHERE id = $5 AND status = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		string(m.Status),
		m.Notes,
		m.UpdatedAt,
		m.CompletedAt,
		m.ID,
		string(prev),
	)
	if err != nil {
		r.logger.Error("Failed to update match", "match_id", m.ID, "error", err)
		return errors.ErrPersistence.WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.ErrPersistence.WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.logger.Warn("Match changed concurrently", "match_id", m.ID, "expected_status", prev)
		return errors.ErrPersistence.WithDetails("match " + m.ID.String() + " is no longer " + string(prev))
	}

	return nil
}

func (r *MatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM queue_matches WHERE id = $1`

	m, err := scanMatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrMatchNotFound
		}
		r.logger.Error("Failed to get match", "match_id", id, "error", err)
		return nil, errors.ErrPersistence.WithDetails(err.Error())
	}
	return m, nil
}

// ListForItems returns every match, any status, referencing one of itemIDs.
func (r *MatchRepository) ListForItems(ctx context.Context, itemIDs []uuid.UUID) ([]domain.Match, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + matchColumns + `
		FROM queue_matches
		WHERE withdrawal_item_id = ANY($1::uuid[]) OR deposit_item_id = ANY($1::uuid[])
		ORDER BY created_at, id
	`

	params := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		params[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx, query, pq.Array(params))
	if err != nil {
		r.logger.Error("Failed to list matches", "error", err)
		return nil, errors.ErrPersistence.WithDetails(err.Error())
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, errors.ErrPersistence.WithDetails(err.Error())
		}
		matches = append(matches, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrPersistence.WithDetails(err.Error())
	}
	return matches, nil
}

func scanMatch(row rowScanner) (*domain.Match, error) {
	var m domain.Match
	var status, amountStr string
	var completedAt sql.NullTime

	err := row.Scan(
		&m.ID,
		&m.WithdrawalItemID,
		&m.DepositItemID,
		&amountStr,
		&m.Score,
		&status,
		&m.Notes,
		&m.CreatedAt,
		&m.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, err
	}

	m.Amount = amount
	m.Status = domain.MatchStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		m.CompletedAt = &t
	}
	return &m, nil
}
