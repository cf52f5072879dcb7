package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/api/middleware"
	"github.com/carebridge/carebridge/internal/domain/appointment"
)

// AppointmentService is the domain surface the HTTP layer needs.
type AppointmentService interface {
	AddEntry(ctx context.Context, req appointment.AddEntryRequest) (*appointment.Appointment, error)
	EditEntry(ctx context.Context, req appointment.EditEntryRequest) (*appointment.Appointment, error)
	Book(ctx context.Context, in appointment.BookingInput) (*appointment.Appointment, error)
	Complete(ctx context.Context, appointmentID, doctorID string) (*appointment.Appointment, error)
	CancelByDoctor(ctx context.Context, appointmentID, doctorID string) (*appointment.Appointment, error)
	CancelByPatient(ctx context.Context, appointmentID, patientID string) (*appointment.Appointment, error)
	ListForDoctor(ctx context.Context, doctorID string) ([]*appointment.Appointment, error)
	ListForPatient(ctx context.Context, patientID string) ([]*appointment.Appointment, error)
	Dashboard(ctx context.Context, doctorID string) (*appointment.Dashboard, error)
}

// uploadFields are the multipart fields that carry attachment files.
var uploadFields = []string{"attachments", "images"}

const multipartMemory = 8 << 20

// AppointmentHandler serves the doctor and patient appointment routes.
type AppointmentHandler struct {
	svc       AppointmentService
	logger    *zap.Logger
	maxUpload int64
}

// NewAppointmentHandler creates a new handler. maxUpload bounds the whole
// request body of prescription uploads.
func NewAppointmentHandler(svc AppointmentService, maxUpload int64, logger *zap.Logger) *AppointmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppointmentHandler{svc: svc, logger: logger, maxUpload: maxUpload}
}

// DoctorRoutes registers the routes of authenticated doctors on r.
func (h *AppointmentHandler) DoctorRoutes(r chi.Router) {
	r.Get("/appointments", h.DoctorAppointments)
	r.Get("/dashboard", h.Dashboard)
	r.Post("/add-prescription", h.AddPrescription)
	r.Post("/edit-prescription", h.EditPrescription)
	r.Post("/complete-appointment", h.Complete)
	r.Post("/cancel-appointment", h.CancelByDoctor)
}

// PatientRoutes registers the routes of authenticated patients on r.
func (h *AppointmentHandler) PatientRoutes(r chi.Router) {
	r.Get("/appointments", h.PatientAppointments)
	r.Post("/book-appointment", h.Book)
	r.Post("/cancel-appointment", h.CancelByPatient)
}

// entryForm is a prescription add or edit request in either encoding.
type entryForm struct {
	AppointmentID string
	Text          *string
	EntryIndex    string
	URLs          []string
	Uploads       []appointment.Upload
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(data)))
	return nil
}

type entryJSON struct {
	AppointmentID  string     `json:"appointmentId"`
	Text           *string    `json:"text"`
	EntryIndex     flexString `json:"entryIndex"`
	AttachmentURLs []string   `json:"attachmentUrls"`
}

var errBadBody = errors.New("invalid request body")

func (h *AppointmentHandler) parseEntryForm(w http.ResponseWriter, r *http.Request) (*entryForm, error) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var body entryJSON
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, errBadBody
		}
		return &entryForm{
			AppointmentID: strings.TrimSpace(body.AppointmentID),
			Text:          body.Text,
			EntryIndex:    string(body.EntryIndex),
			URLs:          body.AttachmentURLs,
		}, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)
		}
		return nil, errBadBody
	}

	form := &entryForm{
		AppointmentID: strings.TrimSpace(r.FormValue("appointmentId")),
		EntryIndex:    strings.TrimSpace(r.FormValue("entryIndex")),
		URLs:          r.MultipartForm.Value["attachmentUrl"],
	}
	if vals, ok := r.MultipartForm.Value["text"]; ok && len(vals) > 0 {
		text := vals[0]
		form.Text = &text
	}
	for _, field := range uploadFields {
		for _, fh := range r.MultipartForm.File[field] {
			up, err := readUpload(fh)
			if err != nil {
				return nil, err
			}
			form.Uploads = append(form.Uploads, up)
		}
	}
	return form, nil
}

func readUpload(fh *multipart.FileHeader) (appointment.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return appointment.Upload{}, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return appointment.Upload{}, fmt.Errorf("read upload %q: %w", fh.Filename, err)
	}
	return appointment.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        buf.Bytes(),
	}, nil
}

// AddPrescription handles POST /add-prescription
func (h *AppointmentHandler) AddPrescription(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	form, err := h.parseEntryForm(w, r)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if form.AppointmentID == "" {
		fail(w, http.StatusBadRequest, "appointmentId is required")
		return
	}

	var text string
	if form.Text != nil {
		text = *form.Text
	}
	a, err := h.svc.AddEntry(r.Context(), appointment.AddEntryRequest{
		AppointmentID:  form.AppointmentID,
		DoctorID:       caller.ID,
		Text:           text,
		Uploads:        form.Uploads,
		AttachmentURLs: form.URLs,
	})
	if err != nil {
		domainError(w, h.logger, err)
		return
	}
	ok(w, "New prescription added", envelope{"appointment": a})
}

// EditPrescription handles POST /edit-prescription
func (h *AppointmentHandler) EditPrescription(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	form, err := h.parseEntryForm(w, r)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if form.AppointmentID == "" {
		fail(w, http.StatusBadRequest, "appointmentId is required")
		return
	}

	a, err := h.svc.EditEntry(r.Context(), appointment.EditEntryRequest{
		AppointmentID:  form.AppointmentID,
		DoctorID:       caller.ID,
		Index:          form.EntryIndex,
		Text:           form.Text,
		Uploads:        form.Uploads,
		AttachmentURLs: form.URLs,
	})
	if err != nil {
		domainError(w, h.logger, err)
		return
	}
	ok(w, "Prescription updated successfully", envelope{"appointment": a})
}

type appointmentRef struct {
	AppointmentID string `json:"appointmentId"`
}

func decodeRef(w http.ResponseWriter, r *http.Request) (string, bool) {
	var ref appointmentRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		fail(w, http.StatusBadRequest, errBadBody.Error())
		return "", false
	}
	if strings.TrimSpace(ref.AppointmentID) == "" {
		fail(w, http.StatusBadRequest, "appointmentId is required")
		return "", false
	}
	return strings.TrimSpace(ref.AppointmentID), true
}

// Complete handles POST /complete-appointment
func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	id, okRef := decodeRef(w, r)
	if !okRef {
		return
	}
	a, err := h.svc.Complete(r.Context(), id, caller.ID)
	if err != nil {
		domainError(w, h.logger, err)
		return
	}
	ok(w, "Appointment Completed", envelope{"appointment": a})
}

// CancelByDoctor handles POST /api/doctor/cancel-appointment
func (h *AppointmentHandler) CancelByDoctor(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	id, okRef := decodeRef(w, r)
	if !okRef {
		return
	}
	a, err := h.svc.CancelByDoctor(r.Context(), id, caller.ID)
	if err != nil {
		domainError(w, h.logger, err)
		return
	}
	ok(w, "Appointment Cancelled", envelope{"appointment": a})
}

// CancelByPatient handles POST /api/user/cancel-appointment
func (h *AppointmentHandler) CancelByPatient(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	id, okRef := decodeRef(w, r)
	if !okRef {
		return
	}
	a, err := h.svc.CancelByPatient(r.Context(), id, caller.ID)
	if err != nil {
		domainError(w, h.logger, err)
		return
	}
	ok(w, "Appointment Cancelled", envelope{"appointment": a})
}

// DoctorAppointments handles GET /api/doctor/appointments
func (h *AppointmentHandler) DoctorAppointments(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	list, err := h.svc.ListForDoctor(r.Context(), caller.ID)
	if err != nil {
		domainError(w, h.logger, err)
		return
	}
	ok(w, "Appointments fetched", envelope{"appointments": nonNil(list)})
}

// PatientAppointments handles GET /api/user/appointments
func (h *AppointmentHandler) PatientAppointments(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	list, err := h.svc.ListForPatient(r.Context(), caller.ID)
	if err != nil {
		domainError(w, h.logger, err)
		return
	}
	ok(w, "Appointments fetched", envelope{"appointments": nonNil(list)})
}

// Dashboard handles GET /api/doctor/dashboard
func (h *AppointmentHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	d, err := h.svc.Dashboard(r.Context(), caller.ID)
	if err != nil {
		domainError(w, h.logger, err)
		return
	}
	ok(w, "Dashboard fetched", envelope{"dashData": d})
}

// BookRequest is the request body for booking an appointment. The fee and
// doctor details come from the doctor record, never from the client.
type BookRequest struct {
	DoctorID string                  `json:"docId"`
	SlotDate string                  `json:"slotDate"`
	SlotTime string                  `json:"slotTime"`
	UserInfo appointment.PatientInfo `json:"userData"`
}

// Book handles POST /api/user/book-appointment
func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, errBadBody.Error())
		return
	}
	a, err := h.svc.Book(r.Context(), appointment.BookingInput{
		PatientID:   caller.ID,
		DoctorID:    strings.TrimSpace(req.DoctorID),
		SlotDate:    strings.TrimSpace(req.SlotDate),
		SlotTime:    req.SlotTime,
		PatientInfo: req.UserInfo,
	})
	if err != nil {
		domainError(w, h.logger, err)
		return
	}
	ok(w, "Appointment Booked", envelope{"appointment": a})
}

func principal(w http.ResponseWriter, r *http.Request) (middleware.Principal, bool) {
	p, found := middleware.GetPrincipal(r.Context())
	if !found || p.ID == "" {
		fail(w, http.StatusUnauthorized, "not authorized, login again")
		return middleware.Principal{}, false
	}
	return p, true
}

func nonNil(list []*appointment.Appointment) []*appointment.Appointment {
	if list == nil {
		return []*appointment.Appointment{}
	}
	return list
}
