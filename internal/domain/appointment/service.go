package appointment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Upload is an attachment payload received from a client. Only the URL
// returned by the AttachmentStore ever enters the appointment document.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// AttachmentStore persists attachment payloads and returns their URL.
type AttachmentStore interface {
	Put(ctx context.Context, up Upload) (string, error)
}

// MutationRecorder observes the outcome of every service operation.
type MutationRecorder interface {
	ObserveMutation(op, outcome string, d time.Duration)
}

// DoctorProfile is the part of a doctor record booking depends on.
type DoctorProfile struct {
	Info      DoctorInfo
	Fees      float64
	Available bool
}

// DoctorDirectory resolves doctor records for booking. BookingProfile
// returns ErrDoctorNotFound for unknown ids.
type DoctorDirectory interface {
	BookingProfile(ctx context.Context, doctorID string) (DoctorProfile, error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMutation(string, string, time.Duration) {}

type correlationKey struct{}

// ContextWithCorrelationID tags events produced under ctx with id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Service runs every appointment operation end to end: lock, load,
// authorize, validate, mutate and persist.
type Service struct {
	repo        Repository
	store       AttachmentStore
	doctors     DoctorDirectory
	locker      Locker
	logger      *zap.Logger
	tracer      trace.Tracer
	metrics     MutationRecorder
	now         func() time.Time
	newID       func() string
	maxAttempts int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithMetrics records operation outcomes.
func WithMetrics(m MutationRecorder) Option { return func(s *Service) { s.metrics = m } }

// WithIDGenerator overrides appointment id generation.
func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

// WithDoctorDirectory makes Book take the fee and doctor details from the
// doctor record and refuse unknown or unavailable doctors.
func WithDoctorDirectory(d DoctorDirectory) Option { return func(s *Service) { s.doctors = d } }

// WithMaxAttempts bounds the retries after a version conflict.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService wires a Service. A nil locker falls back to an in-process one.
func NewService(repo Repository, store AttachmentStore, locker Locker, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	s := &Service{
		repo:        repo,
		store:       store,
		locker:      locker,
		logger:      logger,
		tracer:      otel.Tracer("appointment-service"),
		metrics:     nopRecorder{},
		now:         time.Now,
		newID:       uuid.NewString,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddEntryRequest appends a prescription entry.
type AddEntryRequest struct {
	AppointmentID  string
	DoctorID       string
	Text           string
	Uploads        []Upload
	AttachmentURLs []string
}

// EditEntryRequest edits the entry at Index, which is parsed against the
// current entry count.
type EditEntryRequest struct {
	AppointmentID  string
	DoctorID       string
	Index          string
	Text           *string
	Uploads        []Upload
	AttachmentURLs []string
}

// AddEntry appends a new prescription entry to an appointment.
func (s *Service) AddEntry(ctx context.Context, req AddEntryRequest) (*Appointment, error) {
	attachments := s.attachmentsOnce(req.Uploads, req.AttachmentURLs)
	return s.mutate(ctx, "add_entry", req.AppointmentID, func(ctx context.Context, a *Appointment) error {
		if err := authorizeDoctor(a, req.DoctorID); err != nil {
			return err
		}
		if a.Cancelled {
			return newError(KindInvalidArgument, ErrAppointmentCancelled)
		}
		if strings.TrimSpace(req.Text) == "" && len(req.Uploads)+len(req.AttachmentURLs) == 0 {
			return newError(KindInvalidArgument, ErrEmptyEntry)
		}
		urls, err := attachments(ctx)
		if err != nil {
			return err
		}
		idx, err := a.AddEntry(EntryInput{Text: req.Text, Attachments: urls}, s.now())
		if err != nil {
			return err
		}
		s.logger.Info("prescription entry added",
			zap.String("appointment_id", a.ID),
			zap.Int("index", idx),
			zap.Int("attachments", len(urls)))
		return nil
	})
}

// EditEntry edits an existing prescription entry in place.
func (s *Service) EditEntry(ctx context.Context, req EditEntryRequest) (*Appointment, error) {
	attachments := s.attachmentsOnce(req.Uploads, req.AttachmentURLs)
	return s.mutate(ctx, "edit_entry", req.AppointmentID, func(ctx context.Context, a *Appointment) error {
		if err := authorizeDoctor(a, req.DoctorID); err != nil {
			return err
		}
		if a.Cancelled {
			return newError(KindInvalidArgument, ErrAppointmentCancelled)
		}
		idx, err := a.Prescription.ParseIndex(req.Index)
		if err != nil {
			return err
		}
		urls, err := attachments(ctx)
		if err != nil {
			return err
		}
		if err := a.EditEntry(idx, EntryPatch{Text: req.Text, Attachments: urls}, s.now()); err != nil {
			return err
		}
		s.logger.Info("prescription entry edited",
			zap.String("appointment_id", a.ID),
			zap.Int("index", idx),
			zap.Int("attachments", len(urls)))
		return nil
	})
}

// Book creates an appointment with an empty prescription.
func (s *Service) Book(ctx context.Context, in BookingInput) (res *Appointment, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "appointment.book")
	defer func() { s.finish(span, "book", start, err) }()

	if s.doctors != nil && strings.TrimSpace(in.DoctorID) != "" {
		prof, err := s.doctors.BookingProfile(ctx, strings.TrimSpace(in.DoctorID))
		switch {
		case errors.Is(err, ErrDoctorNotFound):
			return nil, newError(KindNotFound, ErrDoctorNotFound)
		case err != nil:
			return nil, wrapError(KindStorage, ErrDoctorLookup, err)
		case !prof.Available:
			return nil, newError(KindInvalidArgument, ErrDoctorUnavailable)
		}
		in.Amount = prof.Fees
		in.DoctorInfo = prof.Info
	}

	a, err := New(s.newID(), in, s.now())
	if err != nil {
		return nil, err
	}
	tagEvents(ctx, a)
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, wrapError(KindStorage, ErrPersist, err)
	}
	s.logger.Info("appointment booked",
		zap.String("appointment_id", a.ID),
		zap.String("doctor_id", a.DoctorID),
		zap.String("slot_date", a.SlotDate))
	return a, nil
}

// Complete marks an appointment completed on behalf of its doctor. An
// appointment without prescription entries cannot be completed.
func (s *Service) Complete(ctx context.Context, appointmentID, doctorID string) (*Appointment, error) {
	return s.mutate(ctx, "complete", appointmentID, func(_ context.Context, a *Appointment) error {
		if err := authorizeDoctor(a, doctorID); err != nil {
			return err
		}
		_, err := a.Complete(doctorID, s.now())
		return err
	})
}

// CancelByDoctor cancels an appointment on behalf of its doctor.
func (s *Service) CancelByDoctor(ctx context.Context, appointmentID, doctorID string) (*Appointment, error) {
	return s.mutate(ctx, "cancel_by_doctor", appointmentID, func(_ context.Context, a *Appointment) error {
		if err := authorizeDoctor(a, doctorID); err != nil {
			return err
		}
		_, err := a.Cancel(doctorID, s.now())
		return err
	})
}

// CancelByPatient cancels an appointment on behalf of the patient who booked it.
func (s *Service) CancelByPatient(ctx context.Context, appointmentID, patientID string) (*Appointment, error) {
	return s.mutate(ctx, "cancel_by_patient", appointmentID, func(_ context.Context, a *Appointment) error {
		if patientID == "" || a.PatientID != patientID {
			return newError(KindUnauthorized, ErrPatientMismatch)
		}
		_, err := a.Cancel(patientID, s.now())
		return err
	})
}

// ListForDoctor returns every appointment of a doctor with full prescriptions.
func (s *Service) ListForDoctor(ctx context.Context, doctorID string) ([]*Appointment, error) {
	list, err := s.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, wrapError(KindStorage, ErrLoad, err)
	}
	return list, nil
}

// ListForPatient returns every appointment of a patient, newest first.
func (s *Service) ListForPatient(ctx context.Context, patientID string) ([]*Appointment, error) {
	list, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, wrapError(KindStorage, ErrLoad, err)
	}
	return list, nil
}

// Dashboard summarizes a doctor's practice.
type Dashboard struct {
	Earnings           float64        `json:"earnings"`
	Appointments       int            `json:"appointments"`
	Patients           int            `json:"patients"`
	LatestAppointments []*Appointment `json:"latestAppointments"`
}

const dashboardLatest = 5

// Dashboard computes earnings from completed or paid appointments, the
// number of distinct patients and the most recent bookings.
func (s *Service) Dashboard(ctx context.Context, doctorID string) (*Dashboard, error) {
	list, err := s.ListForDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{Appointments: len(list), LatestAppointments: []*Appointment{}}
	patients := make(map[string]struct{})
	for _, a := range list {
		if a.Completed || a.Payment {
			d.Earnings += a.Amount
		}
		patients[a.PatientID] = struct{}{}
	}
	d.Patients = len(patients)
	for i := len(list) - 1; i >= 0 && len(d.LatestAppointments) < dashboardLatest; i-- {
		d.LatestAppointments = append(d.LatestAppointments, list[i])
	}
	return d, nil
}

func authorizeDoctor(a *Appointment, doctorID string) error {
	if doctorID == "" || a.DoctorID != doctorID {
		return newError(KindUnauthorized, ErrDoctorMismatch)
	}
	return nil
}

// attachmentsOnce stores uploads at most once even when the mutation is
// retried after a version conflict.
func (s *Service) attachmentsOnce(uploads []Upload, urls []string) func(context.Context) ([]string, error) {
	var stored []string
	done := false
	return func(ctx context.Context) ([]string, error) {
		if done {
			return stored, nil
		}
		out := make([]string, 0, len(uploads)+len(urls))
		for _, up := range uploads {
			if s.store == nil {
				return nil, newError(KindStorage, ErrAttachmentStore)
			}
			url, err := s.store.Put(ctx, up)
			if err != nil {
				if sentinel := rejectedUpload(err); sentinel != nil {
					return nil, wrapError(KindInvalidArgument, sentinel, err)
				}
				s.logger.Error("attachment store failed", zap.String("filename", up.Filename), zap.Error(err))
				return nil, wrapError(KindStorage, ErrAttachmentStore, err)
			}
			out = append(out, url)
		}
		for _, u := range urls {
			if u = strings.TrimSpace(u); u != "" {
				out = append(out, u)
			}
		}
		stored, done = out, true
		return stored, nil
	}
}

// rejectedUpload returns the sentinel for uploads the store refused on
// content grounds, or nil for infrastructure failures.
func rejectedUpload(err error) error {
	for _, sentinel := range []error{ErrEmptyAttachment, ErrAttachmentTooLarge, ErrUnsupportedAttachment} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

// mutate serializes fn per appointment and retries it from a fresh load when
// the compare-and-swap save loses a race.
func (s *Service) mutate(ctx context.Context, op, id string, fn func(context.Context, *Appointment) error) (res *Appointment, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "appointment."+op,
		trace.WithAttributes(attribute.String("appointment_id", id)))
	defer func() { s.finish(span, op, start, err) }()

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, wrapError(KindStorage, ErrLockUnavailable, err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		a, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(ctx, a); err != nil {
			return nil, err
		}
		if len(a.Changes()) == 0 {
			return a, nil
		}
		tagEvents(ctx, a)

		err = s.repo.Save(ctx, a)
		if err == nil {
			return a, nil
		}
		if errors.Is(err, ErrVersionConflict) {
			if attempt < s.maxAttempts {
				s.logger.Warn("appointment version conflict, retrying",
					zap.String("appointment_id", id),
					zap.String("op", op),
					zap.Int("attempt", attempt))
				continue
			}
			return nil, &Error{Kind: KindStorage, Message: ErrVersionConflict.Error(), Err: ErrVersionConflict}
		}
		s.logger.Error("appointment save failed", zap.String("appointment_id", id), zap.Error(err))
		return nil, wrapError(KindStorage, ErrPersist, err)
	}
}

func (s *Service) load(ctx context.Context, id string) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, newError(KindNotFound, ErrAppointmentNotFound)
	}
	if err != nil {
		s.logger.Error("appointment load failed", zap.String("appointment_id", id), zap.Error(err))
		return nil, wrapError(KindStorage, ErrLoad, err)
	}
	return a, nil
}

func (s *Service) finish(span trace.Span, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, MessageOf(err))
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	span.End()
	s.metrics.ObserveMutation(op, outcome, time.Since(start))
}

func tagEvents(ctx context.Context, a *Appointment) {
	if id := correlationID(ctx); id != "" {
		for _, e := range a.Changes() {
			e.WithCorrelationID(id)
		}
	}
}
