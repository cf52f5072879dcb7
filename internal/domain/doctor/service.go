package doctor

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/domain/appointment"
)

// Service implements the doctor record operations.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIDGenerator overrides doctor id generation.
func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

// NewService creates a new service
func NewService(repo Repository, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{repo: repo, logger: logger, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the public directory, without email addresses.
func (s *Service) List(ctx context.Context) ([]*Doctor, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Doctor, len(all))
	for i, d := range all {
		out[i] = d.Public()
	}
	return out, nil
}

// ListAll returns every record including contact details, for admins.
func (s *Service) ListAll(ctx context.Context) ([]*Doctor, error) {
	return s.repo.List(ctx)
}

// Profile returns the full record of one doctor.
func (s *Service) Profile(ctx context.Context, id string) (*Doctor, error) {
	return s.repo.Get(ctx, id)
}

// ProfileUpdate holds the fields a doctor may change. Nil fields are kept.
type ProfileUpdate struct {
	Fees      *float64
	Address   *Address
	Available *bool
}

// UpdateProfile applies u to the doctor's record.
func (s *Service) UpdateProfile(ctx context.Context, id string, u ProfileUpdate) (*Doctor, error) {
	if u.Fees != nil && *u.Fees < 0 {
		return nil, ErrInvalidFees
	}
	d, err := s.repo.Update(ctx, id, func(d *Doctor) error {
		if u.Fees != nil {
			d.Fees = *u.Fees
		}
		if u.Address != nil {
			d.Address = *u.Address
		}
		if u.Available != nil {
			d.Available = *u.Available
		}
		d.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("doctor profile updated", zap.String("doctor_id", id))
	return d, nil
}

// ToggleAvailability flips whether the doctor accepts bookings.
func (s *Service) ToggleAvailability(ctx context.Context, id string) (*Doctor, error) {
	d, err := s.repo.Update(ctx, id, func(d *Doctor) error {
		d.Available = !d.Available
		d.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("doctor availability changed",
		zap.String("doctor_id", id),
		zap.Bool("available", d.Available))
	return d, nil
}

// NewDoctor is the admin input for adding a doctor.
type NewDoctor struct {
	Name       string
	Email      string
	Image      string
	Speciality string
	Degree     string
	Experience string
	About      string
	Fees       float64
	Address    Address
}

// Create adds a doctor who is available from the start.
func (s *Service) Create(ctx context.Context, in NewDoctor) (*Doctor, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if name == "" || email == "" || strings.TrimSpace(in.Speciality) == "" {
		return nil, ErrMissingDetails
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}
	if in.Fees < 0 {
		return nil, ErrInvalidFees
	}

	now := s.now().UTC()
	d := &Doctor{
		ID:         s.newID(),
		Name:       name,
		Email:      email,
		Image:      strings.TrimSpace(in.Image),
		Speciality: strings.TrimSpace(in.Speciality),
		Degree:     strings.TrimSpace(in.Degree),
		Experience: strings.TrimSpace(in.Experience),
		About:      in.About,
		Fees:       in.Fees,
		Address:    in.Address,
		Available:  true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info("doctor added", zap.String("doctor_id", d.ID), zap.String("speciality", d.Speciality))
	return d, nil
}

// Delete removes a doctor record. Existing appointments keep the doctor
// details captured when they were booked.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("doctor deleted", zap.String("doctor_id", id))
	return nil
}

// BookingProfile implements appointment.DoctorDirectory.
func (s *Service) BookingProfile(ctx context.Context, id string) (appointment.DoctorProfile, error) {
	d, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return appointment.DoctorProfile{}, appointment.ErrDoctorNotFound
	}
	if err != nil {
		return appointment.DoctorProfile{}, fmt.Errorf("load doctor %s: %w", id, err)
	}
	return appointment.DoctorProfile{
		Info:      appointment.DoctorInfo{Name: d.Name, Speciality: d.Speciality},
		Fees:      d.Fees,
		Available: d.Available,
	}, nil
}
