package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/domain/doctor"
)

// DoctorService is the doctor record surface the HTTP layer needs.
type DoctorService interface {
	List(ctx context.Context) ([]*doctor.Doctor, error)
	ListAll(ctx context.Context) ([]*doctor.Doctor, error)
	Profile(ctx context.Context, id string) (*doctor.Doctor, error)
	UpdateProfile(ctx context.Context, id string, u doctor.ProfileUpdate) (*doctor.Doctor, error)
	ToggleAvailability(ctx context.Context, id string) (*doctor.Doctor, error)
	Create(ctx context.Context, in doctor.NewDoctor) (*doctor.Doctor, error)
	Delete(ctx context.Context, id string) error
}

// DoctorHandler serves the doctor directory, the doctor's own profile and
// the admin doctor management routes.
type DoctorHandler struct {
	svc    DoctorService
	logger *zap.Logger
}

// NewDoctorHandler creates a new handler
func NewDoctorHandler(svc DoctorService, logger *zap.Logger) *DoctorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DoctorHandler{svc: svc, logger: logger}
}

// ProfileRoutes registers the routes of an authenticated doctor on r.
func (h *DoctorHandler) ProfileRoutes(r chi.Router) {
	r.Get("/profile", h.Profile)
	r.Post("/update-profile", h.UpdateProfile)
	r.Post("/change-availability", h.ChangeOwnAvailability)
}

// AdminRoutes registers the admin doctor management routes on r.
func (h *DoctorHandler) AdminRoutes(r chi.Router) {
	r.Get("/all-doctors", h.AllDoctors)
	r.Post("/add-doctor", h.AddDoctor)
	r.Post("/change-availability", h.ChangeAvailability)
	r.Post("/delete-doctor", h.DeleteDoctor)
	r.Delete("/delete-doctor/{id}", h.DeleteDoctor)
}

// doctorStatus pairs each doctor failure with its HTTP status.
var doctorStatus = []struct {
	err    error
	status int
}{
	{doctor.ErrNotFound, http.StatusNotFound},
	{doctor.ErrMissingDetails, http.StatusBadRequest},
	{doctor.ErrInvalidEmail, http.StatusBadRequest},
	{doctor.ErrInvalidFees, http.StatusBadRequest},
	{doctor.ErrEmailTaken, http.StatusConflict},
}

func (h *DoctorHandler) fail(w http.ResponseWriter, err error) {
	for _, m := range doctorStatus {
		if errors.Is(err, m.err) {
			fail(w, m.status, m.err.Error())
			return
		}
	}
	h.logger.Error("doctor operation failed", zap.Error(err))
	fail(w, http.StatusInternalServerError, "internal error")
}

// List handles GET /api/doctor/list
func (h *DoctorHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	ok(w, "Doctors fetched", envelope{"doctors": list})
}

// AllDoctors handles GET /api/admin/all-doctors
func (h *DoctorHandler) AllDoctors(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListAll(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	ok(w, "Doctors fetched", envelope{"doctors": list})
}

// Profile handles GET /api/doctor/profile
func (h *DoctorHandler) Profile(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	d, err := h.svc.Profile(r.Context(), caller.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	ok(w, "Profile fetched", envelope{"profileData": d})
}

type profileUpdateRequest struct {
	Fees      *float64        `json:"fees"`
	Address   *doctor.Address `json:"address"`
	Available *bool           `json:"available"`
}

// UpdateProfile handles POST /api/doctor/update-profile
func (h *DoctorHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, errBadBody.Error())
		return
	}
	d, err := h.svc.UpdateProfile(r.Context(), caller.ID, doctor.ProfileUpdate{
		Fees:      req.Fees,
		Address:   req.Address,
		Available: req.Available,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	ok(w, "Profile Updated", envelope{"profileData": d})
}

// ChangeOwnAvailability handles POST /api/doctor/change-availability
func (h *DoctorHandler) ChangeOwnAvailability(w http.ResponseWriter, r *http.Request) {
	caller, okCaller := principal(w, r)
	if !okCaller {
		return
	}
	h.toggle(w, r, caller.ID)
}

type doctorRef struct {
	DoctorID string `json:"docId"`
}

func decodeDoctorRef(w http.ResponseWriter, r *http.Request) (string, bool) {
	var ref doctorRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		fail(w, http.StatusBadRequest, errBadBody.Error())
		return "", false
	}
	id := strings.TrimSpace(ref.DoctorID)
	if id == "" {
		fail(w, http.StatusBadRequest, "docId is required")
		return "", false
	}
	return id, true
}

// ChangeAvailability handles POST /api/admin/change-availability
func (h *DoctorHandler) ChangeAvailability(w http.ResponseWriter, r *http.Request) {
	id, okRef := decodeDoctorRef(w, r)
	if !okRef {
		return
	}
	h.toggle(w, r, id)
}

func (h *DoctorHandler) toggle(w http.ResponseWriter, r *http.Request, id string) {
	d, err := h.svc.ToggleAvailability(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	ok(w, "Availability Changed", envelope{"available": d.Available})
}

type addDoctorRequest struct {
	Name       string         `json:"name"`
	Email      string         `json:"email"`
	Image      string         `json:"image"`
	Speciality string         `json:"speciality"`
	Degree     string         `json:"degree"`
	Experience string         `json:"experience"`
	About      string         `json:"about"`
	Fees       float64        `json:"fees"`
	Address    doctor.Address `json:"address"`
}

// AddDoctor handles POST /api/admin/add-doctor
func (h *DoctorHandler) AddDoctor(w http.ResponseWriter, r *http.Request) {
	var req addDoctorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, errBadBody.Error())
		return
	}
	d, err := h.svc.Create(r.Context(), doctor.NewDoctor(req))
	if err != nil {
		h.fail(w, err)
		return
	}
	ok(w, "Doctor Added", envelope{"doctor": d})
}

// DeleteDoctor handles DELETE /api/admin/delete-doctor/{id} and the POST
// form that carries docId in the body.
func (h *DoctorHandler) DeleteDoctor(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		var okRef bool
		if id, okRef = decodeDoctorRef(w, r); !okRef {
			return
		}
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	ok(w, "Doctor deleted successfully", nil)
}
