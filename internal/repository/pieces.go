package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrInsufficientPieces is returned when a deduction would drive a balance
// negative.
var ErrInsufficientPieces = errors.New("insufficient pieces")

// PiecesRepository handles the pieces currency balance. All mutations are
// single atomic statements; the CHECK constraint on the table is the last
// line of defense against a negative balance.
type PiecesRepository struct {
	db DBTX
}

// NewPiecesRepository creates a new PiecesRepository instance.
func NewPiecesRepository(db DBTX) *PiecesRepository {
	return &PiecesRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *PiecesRepository) WithTx(tx pgx.Tx) *PiecesRepository {
	return &PiecesRepository{db: tx}
}

// Balance returns the user's current pieces balance. A user with no row has
// a balance of zero.
func (r *PiecesRepository) Balance(ctx context.Context, userID int64) (int64, error) {
	const query = `SELECT pieces FROM user_pieces WHERE user_id = $1`

	var pieces int64
	err := r.db.QueryRow(ctx, query, userID).Scan(&pieces)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get pieces balance: %w", err)
	}
	return pieces, nil
}

// Add credits pieces to the user's balance and returns the new balance.
func (r *PiecesRepository) Add(ctx context.Context, userID int64, amount int64) (int64, error) {
	const query = `
		INSERT INTO user_pieces (user_id, pieces, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET pieces = user_pieces.pieces + EXCLUDED.pieces, updated_at = NOW()
		RETURNING pieces
	`

	var balance int64
	if err := r.db.QueryRow(ctx, query, userID, amount).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to add pieces: %w", err)
	}
	return balance, nil
}

// Deduct debits pieces from the user's balance, failing with
// ErrInsufficientPieces if the balance cannot cover the amount. The guard is
// in the WHERE clause, so concurrent deductions cannot overdraw.
func (r *PiecesRepository) Deduct(ctx context.Context, userID int64, amount int64) (int64, error) {
	const query = `
		UPDATE user_pieces
		SET pieces = pieces - $2, updated_at = NOW()
		WHERE user_id = $1 AND pieces >= $2
		RETURNING pieces
	`

	var balance int64
	err := r.db.QueryRow(ctx, query, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientPieces
		}
		return 0, fmt.Errorf("failed to deduct pieces: %w", err)
	}
	return balance, nil
}
