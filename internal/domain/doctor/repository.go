package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository persists doctor records.
//
// Update loads the record under a row lock, applies fn and stores the
// result; an error from fn aborts without writing.
type Repository interface {
	Get(ctx context.Context, id string) (*Doctor, error)
	List(ctx context.Context) ([]*Doctor, error)
	Create(ctx context.Context, d *Doctor) error
	Update(ctx context.Context, id string, fn func(*Doctor) error) (*Doctor, error)
	Delete(ctx context.Context, id string) error
}

// PostgresRepository stores doctors in the doctors table.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresRepository{pool: pool, logger: logger}
}

const doctorCols = `id, name, email, image, speciality, degree, experience, about,
	fees, address, available, created_at, updated_at`

const uniqueViolation = "23505"

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var (
		d       Doctor
		address []byte
	)
	err := row.Scan(&d.ID, &d.Name, &d.Email, &d.Image, &d.Speciality, &d.Degree, &d.Experience, &d.About,
		&d.Fees, &address, &d.Available, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(address, &d.Address); err != nil {
		return nil, fmt.Errorf("decode address of %s: %w", d.ID, err)
	}
	return &d, nil
}

// Get loads one doctor. A missing row yields ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Doctor, error) {
	d, err := scanDoctor(r.pool.QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor %s: %w", id, err)
	}
	return d, nil
}

// List returns every doctor in signup order.
func (r *PostgresRepository) List(ctx context.Context) ([]*Doctor, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+doctorCols+` FROM doctors ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	out := []*Doctor{}
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Create inserts d. A duplicate email yields ErrEmailTaken.
func (r *PostgresRepository) Create(ctx context.Context, d *Doctor) error {
	_, err := r.insert(ctx, d, "")
	return err
}

// Import inserts a migrated doctor unless one with the same id exists.
func (r *PostgresRepository) Import(ctx context.Context, d *Doctor) (bool, error) {
	return r.insert(ctx, d, " ON CONFLICT (id) DO NOTHING")
}

func (r *PostgresRepository) insert(ctx context.Context, d *Doctor, suffix string) (bool, error) {
	address, err := json.Marshal(d.Address)
	if err != nil {
		return false, fmt.Errorf("encode address: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (`+doctorCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`+suffix,
		d.ID, d.Name, d.Email, d.Image, d.Speciality, d.Degree, d.Experience, d.About,
		d.Fees, address, d.Available, d.CreatedAt, d.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return false, ErrEmailTaken
	}
	if err != nil {
		return false, fmt.Errorf("insert doctor %s: %w", d.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Update applies fn to the locked row inside one transaction.
func (r *PostgresRepository) Update(ctx context.Context, id string, fn func(*Doctor) error) (*Doctor, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := scanDoctor(tx.QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock doctor %s: %w", id, err)
	}
	if err := fn(d); err != nil {
		return nil, err
	}

	address, err := json.Marshal(d.Address)
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE doctors
		SET name = $2, image = $3, speciality = $4, degree = $5, experience = $6, about = $7,
		    fees = $8, address = $9, available = $10, updated_at = $11
		WHERE id = $1`,
		d.ID, d.Name, d.Image, d.Speciality, d.Degree, d.Experience, d.About,
		d.Fees, address, d.Available, d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update doctor %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return d, nil
}

// Delete removes a doctor. A missing row yields ErrNotFound.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM doctors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete doctor %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	r.logger.Debug("doctor row deleted", zap.String("doctor_id", id))
	return nil
}
