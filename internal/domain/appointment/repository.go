package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/infrastructure/postgres"
)

// EventsTopic is the stream every appointment event is relayed to.
const EventsTopic = "appointment.events"

// Repository persists appointments as whole documents.
//
// Save is a compare-and-swap on Version: it succeeds only if the stored
// version still equals a.Version, and increments it on success. A lost race
// returns ErrVersionConflict and leaves the stored document untouched.
type Repository interface {
	Get(ctx context.Context, id string) (*Appointment, error)
	Create(ctx context.Context, a *Appointment) error
	Save(ctx context.Context, a *Appointment) error
	ListByDoctor(ctx context.Context, doctorID string) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID string) ([]*Appointment, error)
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PostgresRepository stores appointments in the appointments table and writes
// their events to the outbox in the same transaction.
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

const appointmentCols = `id, patient_id, doctor_id, slot_date, slot_time, amount, payment,
	cancelled, completed, doctor_info, patient_info, prescription, version, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                       Appointment
		doctorInfo, patientInfo []byte
		prescription            []byte
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SlotDate, &a.SlotTime, &a.Amount, &a.Payment,
		&a.Cancelled, &a.Completed, &doctorInfo, &patientInfo, &prescription, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doctorInfo, &a.DoctorInfo); err != nil {
		return nil, fmt.Errorf("decode doctor_info of %s: %w", a.ID, err)
	}
	if err := json.Unmarshal(patientInfo, &a.PatientInfo); err != nil {
		return nil, fmt.Errorf("decode patient_info of %s: %w", a.ID, err)
	}
	if err := json.Unmarshal(prescription, &a.Prescription); err != nil {
		return nil, fmt.Errorf("decode prescription of %s: %w", a.ID, err)
	}
	if a.Prescription.Entries == nil {
		a.Prescription.Entries = []Entry{}
	}
	return &a, nil
}

type documentColumns struct {
	doctorInfo, patientInfo, prescription []byte
}

func encodeDocument(a *Appointment) (*documentColumns, error) {
	var (
		cols documentColumns
		err  error
	)
	if cols.doctorInfo, err = json.Marshal(a.DoctorInfo); err != nil {
		return nil, fmt.Errorf("encode doctor_info: %w", err)
	}
	if cols.patientInfo, err = json.Marshal(a.PatientInfo); err != nil {
		return nil, fmt.Errorf("encode patient_info: %w", err)
	}
	if cols.prescription, err = json.Marshal(a.Prescription); err != nil {
		return nil, fmt.Errorf("encode prescription: %w", err)
	}
	return &cols, nil
}

// Get loads one appointment. A missing row yields ErrAppointmentNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return a, nil
}

// Create inserts a new appointment at version 1.
func (r *PostgresRepository) Create(ctx context.Context, a *Appointment) error {
	cols, err := encodeDocument(a)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (`+appointmentCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)`,
		a.ID, a.PatientID, a.DoctorID, a.SlotDate, a.SlotTime, a.Amount, a.Payment,
		a.Cancelled, a.Completed, cols.doctorInfo, cols.patientInfo, cols.prescription, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	if err := r.writeChanges(ctx, tx, a, 1); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	a.Version = 1
	a.ClearChanges()
	return nil
}

// Save replaces the stored document if its version still matches a.Version.
func (r *PostgresRepository) Save(ctx context.Context, a *Appointment) error {
	cols, err := encodeDocument(a)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET payment = $3, cancelled = $4, completed = $5, doctor_info = $6, patient_info = $7,
		    prescription = $8, updated_at = $9, version = version + 1
		WHERE id = $1 AND version = $2`,
		a.ID, a.Version, a.Payment, a.Cancelled, a.Completed,
		cols.doctorInfo, cols.patientInfo, cols.prescription, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	next := a.Version + 1
	if err := r.writeChanges(ctx, tx, a, next); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	a.Version = next
	a.ClearChanges()
	return nil
}

// Import inserts a migrated appointment unless one with the same id exists.
func (r *PostgresRepository) Import(ctx context.Context, a *Appointment) (bool, error) {
	cols, err := encodeDocument(a)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (`+appointmentCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.PatientID, a.DoctorID, a.SlotDate, a.SlotTime, a.Amount, a.Payment,
		a.Cancelled, a.Completed, cols.doctorInfo, cols.patientInfo, cols.prescription, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("import appointment %s: %w", a.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByDoctor returns a doctor's appointments in booking order.
func (r *PostgresRepository) ListByDoctor(ctx context.Context, doctorID string) ([]*Appointment, error) {
	return r.list(ctx, r.pool, `SELECT `+appointmentCols+` FROM appointments WHERE doctor_id = $1 ORDER BY created_at ASC, id ASC`, doctorID)
}

// ListByPatient returns a patient's appointments, newest first.
func (r *PostgresRepository) ListByPatient(ctx context.Context, patientID string) ([]*Appointment, error) {
	return r.list(ctx, r.pool, `SELECT `+appointmentCols+` FROM appointments WHERE patient_id = $1 ORDER BY created_at DESC, id DESC`, patientID)
}

func (r *PostgresRepository) list(ctx context.Context, q queryable, query string, arg string) ([]*Appointment, error) {
	rows, err := q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	out := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) writeChanges(ctx context.Context, tx pgx.Tx, a *Appointment, version int) error {
	for _, event := range a.Changes() {
		event.Version = version
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", event.ID, err)
		}
		entry := &postgres.OutboxEntry{
			AggregateID:   a.ID,
			AggregateType: AggregateType,
			EventType:     string(event.EventType),
			Payload:       payload,
			KafkaTopic:    EventsTopic,
			KafkaKey:      a.ID,
		}
		if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
		r.logger.Debug("event staged",
			zap.String("appointment_id", a.ID),
			zap.String("event_type", string(event.EventType)),
			zap.Int("version", version),
			zap.Time("at", event.Timestamp.Truncate(time.Millisecond)))
	}
	return nil
}
