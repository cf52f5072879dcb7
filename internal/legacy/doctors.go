package legacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/domain/doctor"
)

// DoctorCollection is the legacy doctors collection name.
const DoctorCollection = "doctors"

// DoctorRecord is one document of the legacy doctors collection. The
// password hash is never read.
type DoctorRecord struct {
	ID         bson.RawValue `bson:"_id"`
	Name       string        `bson:"name"`
	Email      string        `bson:"email"`
	Image      string        `bson:"image"`
	Speciality string        `bson:"speciality"`
	Degree     string        `bson:"degree"`
	Experience string        `bson:"experience"`
	About      string        `bson:"about"`
	Available  bool          `bson:"available"`
	Fees       float64       `bson:"fees"`
	Address    struct {
		Line1 string `bson:"line1"`
		Line2 string `bson:"line2"`
	} `bson:"address"`
	Date float64 `bson:"date"`
}

// DoctorSource yields legacy doctor records one at a time.
type DoctorSource interface {
	EachDoctor(ctx context.Context, fn func(DoctorRecord) error) error
}

// DoctorSink stores a converted doctor, reporting false when it already exists.
type DoctorSink interface {
	Import(ctx context.Context, d *doctor.Doctor) (bool, error)
}

var errNoDoctorName = errors.New("doctor record has no name or email")

// ConvertDoctor maps a legacy doctor record onto a doctor.
func ConvertDoctor(rec DoctorRecord, now time.Time) (*doctor.Doctor, error) {
	id, err := recordID(rec.ID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(rec.Name)
	email := strings.ToLower(strings.TrimSpace(rec.Email))
	if name == "" || email == "" {
		return nil, fmt.Errorf("doctor %s: %w", id, errNoDoctorName)
	}
	if rec.Fees < 0 {
		return nil, fmt.Errorf("doctor %s: %w", id, doctor.ErrInvalidFees)
	}

	created := now.UTC()
	if rec.Date > 0 {
		created = time.UnixMilli(int64(rec.Date)).UTC()
	}
	return &doctor.Doctor{
		ID:         id,
		Name:       name,
		Email:      email,
		Image:      rec.Image,
		Speciality: rec.Speciality,
		Degree:     rec.Degree,
		Experience: rec.Experience,
		About:      rec.About,
		Fees:       rec.Fees,
		Address:    doctor.Address{Line1: rec.Address.Line1, Line2: rec.Address.Line2},
		Available:  rec.Available,
		CreatedAt:  created,
		UpdatedAt:  created,
	}, nil
}

// EachDoctor streams every legacy doctor in insertion order.
func (s *MongoSource) EachDoctor(ctx context.Context, fn func(DoctorRecord) error) error {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.D{{Key: "password", Value: 0}, {Key: "slots_booked", Value: 0}})
	cursor, err := s.db.Collection(DoctorCollection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return fmt.Errorf("find doctors: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var rec DoctorRecord
		if err := cursor.Decode(&rec); err != nil {
			return fmt.Errorf("decode doctor: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// ImportDoctors copies legacy doctors into sink. Doctors must exist before
// their appointments are bookable again, so migrations run this first.
func ImportDoctors(ctx context.Context, source DoctorSource, sink DoctorSink, dryRun bool, logger *zap.Logger) (Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var rep Report
	err := source.EachDoctor(ctx, func(rec DoctorRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep.Read++

		d, err := ConvertDoctor(rec, time.Now())
		if err != nil {
			rep.Failed++
			logger.Warn("skipping unconvertible doctor", zap.Error(err))
			return nil
		}
		if dryRun {
			rep.Imported++
			return nil
		}

		inserted, err := sink.Import(ctx, d)
		switch {
		case err != nil:
			rep.Failed++
			logger.Error("doctor import failed", zap.String("doctor_id", d.ID), zap.Error(err))
		case inserted:
			rep.Imported++
		default:
			rep.Existing++
		}
		return nil
	})
	if err != nil {
		return rep, err
	}

	logger.Info("legacy doctor import finished",
		zap.Int("read", rep.Read),
		zap.Int("imported", rep.Imported),
		zap.Int("existing", rep.Existing),
		zap.Int("failed", rep.Failed),
		zap.Bool("dry_run", dryRun))
	return rep, nil
}
