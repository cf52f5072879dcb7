package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/carebridge/carebridge/internal/domain/appointment"
	"github.com/carebridge/carebridge/pkg/rxpdf"
)

type source interface {
	Load(ctx context.Context) (rxpdf.Input, error)
}

// fileSource reads one appointment document. Relative attachment URLs are
// resolved against base when given.
type fileSource struct {
	path string
	base string
}

func (s fileSource) Load(context.Context) (rxpdf.Input, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return rxpdf.Input{}, err
	}
	var a appointment.Appointment
	if err := json.Unmarshal(raw, &a); err != nil {
		return rxpdf.Input{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return toInput(&a, s.base)
}

// apiSource fetches the caller's appointment list and picks one by id.
type apiSource struct {
	client *http.Client
	base   string
	token  string
	role   string
	id     string
}

var errAppointmentNotFound = errors.New("appointment not found in caller's list")

func (s apiSource) Load(ctx context.Context) (rxpdf.Input, error) {
	segment := "user"
	if s.role == "doctor" {
		segment = "doctor"
	}
	endpoint := strings.TrimRight(s.base, "/") + "/api/" + segment + "/appointments"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return rxpdf.Input{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return rxpdf.Input{}, fmt.Errorf("fetch appointments: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success      bool                       `json:"success"`
		Message      string                     `json:"message"`
		Appointments []*appointment.Appointment `json:"appointments"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&body); err != nil {
		return rxpdf.Input{}, fmt.Errorf("decode appointments (status %d): %w", resp.StatusCode, err)
	}
	if !body.Success {
		return rxpdf.Input{}, fmt.Errorf("api: %s", body.Message)
	}
	for _, a := range body.Appointments {
		if a.ID == s.id {
			return toInput(a, s.base)
		}
	}
	return rxpdf.Input{}, fmt.Errorf("%w: %s", errAppointmentNotFound, s.id)
}

func toInput(a *appointment.Appointment, base string) (rxpdf.Input, error) {
	var baseURL *url.URL
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return rxpdf.Input{}, fmt.Errorf("invalid base url: %w", err)
		}
		baseURL = u
	}

	in := rxpdf.Input{
		Doctor:   rxpdf.Doctor{Name: a.DoctorInfo.Name, Speciality: a.DoctorInfo.Speciality},
		Patient:  rxpdf.Patient{Name: a.PatientInfo.Name, Gender: a.PatientInfo.Gender},
		SlotDate: a.SlotDate,
		SlotTime: a.SlotTime,
	}
	if a.PatientInfo.Age > 0 {
		in.Patient.Age = strconv.Itoa(a.PatientInfo.Age)
	}
	for _, e := range a.Prescription.Entries {
		refs := make([]string, 0, len(e.Attachments))
		for _, ref := range e.Attachments {
			refs = append(refs, resolve(baseURL, ref))
		}
		in.Entries = append(in.Entries, rxpdf.Entry{
			Text:        e.Text,
			Attachments: refs,
			IsEdited:    e.IsEdited,
			CreatedAt:   e.CreatedAt,
			UpdatedAt:   e.UpdatedAt,
		})
	}
	return in, nil
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return base.ResolveReference(u).String()
}
