package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"edubox-core/internal/model"
)

// ErrSubjectNotFound is returned when a subject does not exist.
var ErrSubjectNotFound = errors.New("subject not found")

const subjectColumns = `id, name, description, price, is_free, track, category`

// SubjectRepository handles the subject catalog.
type SubjectRepository struct {
	db DBTX
}

// NewSubjectRepository creates a new SubjectRepository instance.
func NewSubjectRepository(db DBTX) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *SubjectRepository) WithTx(tx pgx.Tx) *SubjectRepository {
	return &SubjectRepository{db: tx}
}

func scanSubject(row pgx.Row) (*model.Subject, error) {
	var s model.Subject
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Price, &s.IsFree, &s.Track, &s.Category)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByID retrieves a subject by id.
func (r *SubjectRepository) GetByID(ctx context.Context, id int64) (*model.Subject, error) {
	const query = `SELECT ` + subjectColumns + ` FROM subjects WHERE id = $1`

	subject, err := scanSubject(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return subject, nil
}

// GetByName retrieves a subject by its unique name.
func (r *SubjectRepository) GetByName(ctx context.Context, name string) (*model.Subject, error) {
	const query = `SELECT ` + subjectColumns + ` FROM subjects WHERE name = $1`

	subject, err := scanSubject(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to get subject by name: %w", err)
	}
	return subject, nil
}

// List returns the full catalog ordered by name.
func (r *SubjectRepository) List(ctx context.Context) ([]model.Subject, error) {
	const query = `SELECT ` + subjectColumns + ` FROM subjects ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []model.Subject
	for rows.Next() {
		var s model.Subject
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Price, &s.IsFree, &s.Track, &s.Category); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

// Create inserts a new catalog entry.
func (r *SubjectRepository) Create(ctx context.Context, s *model.Subject) (*model.Subject, error) {
	const query = `
		INSERT INTO subjects (name, description, price, is_free, track, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + subjectColumns

	created, err := scanSubject(r.db.QueryRow(ctx, query, s.Name, s.Description, s.Price, s.IsFree, s.Track, s.Category))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("subject %q already exists", s.Name)
		}
		return nil, fmt.Errorf("failed to create subject: %w", err)
	}
	return created, nil
}
