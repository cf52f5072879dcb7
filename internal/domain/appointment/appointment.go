// Package appointment implements the appointment aggregate, its embedded
// prescription history and the mutation protocol that guards it.
package appointment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DoctorInfo is the doctor display data captured at booking time.
type DoctorInfo struct {
	Name       string `json:"name"`
	Speciality string `json:"speciality,omitempty"`
}

// PatientInfo is the patient display data captured at booking time.
type PatientInfo struct {
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Age    int    `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

// Appointment is the aggregate root. The embedded prescription is persisted
// with it as a single document.
type Appointment struct {
	ID           string       `json:"id"`
	PatientID    string       `json:"patientId"`
	DoctorID     string       `json:"doctorId"`
	SlotDate     string       `json:"slotDate"`
	SlotTime     string       `json:"slotTime"`
	Amount       float64      `json:"amount"`
	Payment      bool         `json:"payment"`
	Cancelled    bool         `json:"cancelled"`
	Completed    bool         `json:"isCompleted"`
	DoctorInfo   DoctorInfo   `json:"docData"`
	PatientInfo  PatientInfo  `json:"userData"`
	Prescription Prescription `json:"prescription"`
	Version      int          `json:"version"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`

	changes []*Event
}

// BookingInput carries the fields needed to create an appointment.
type BookingInput struct {
	PatientID   string
	DoctorID    string
	SlotDate    string
	SlotTime    string
	Amount      float64
	DoctorInfo  DoctorInfo
	PatientInfo PatientInfo
}

var slotDatePattern = regexp.MustCompile(`^(\d{1,2})_(\d{1,2})_(\d{4})$`)

// ValidSlotDate reports whether s is a compact D_M_YYYY slot key.
func ValidSlotDate(s string) bool {
	m := slotDatePattern.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return day >= 1 && day <= 31 && month >= 1 && month <= 12
}

// New books an appointment with an empty prescription.
func New(id string, in BookingInput, now time.Time) (*Appointment, error) {
	if strings.TrimSpace(in.PatientID) == "" || strings.TrimSpace(in.DoctorID) == "" {
		return nil, newError(KindInvalidArgument, ErrMissingParticipant)
	}
	if !ValidSlotDate(in.SlotDate) {
		return nil, &Error{
			Kind:    KindInvalidArgument,
			Message: fmt.Sprintf("invalid slot date %q: expected D_M_YYYY", in.SlotDate),
			Err:     ErrInvalidSlot,
		}
	}
	if strings.TrimSpace(in.SlotTime) == "" {
		return nil, &Error{Kind: KindInvalidArgument, Message: "slot time is required", Err: ErrInvalidSlot}
	}
	if in.Amount < 0 {
		return nil, newError(KindInvalidArgument, ErrInvalidAmount)
	}

	now = now.UTC()
	a := &Appointment{
		ID:           id,
		PatientID:    in.PatientID,
		DoctorID:     in.DoctorID,
		SlotDate:     in.SlotDate,
		SlotTime:     strings.TrimSpace(in.SlotTime),
		Amount:       in.Amount,
		DoctorInfo:   in.DoctorInfo,
		PatientInfo:  in.PatientInfo,
		Prescription: Prescription{Entries: []Entry{}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.record(EventAppointmentBooked, BookedData{Summary: a.summary(), Amount: a.Amount}, now); err != nil {
		return nil, err
	}
	return a, nil
}

// Changes returns uncommitted events
func (a *Appointment) Changes() []*Event { return a.changes }

// ClearChanges clears uncommitted events
func (a *Appointment) ClearChanges() { a.changes = nil }

// AddEntry appends a prescription entry and returns its index.
func (a *Appointment) AddEntry(in EntryInput, now time.Time) (int, error) {
	if !in.HasContent() {
		return 0, newError(KindInvalidArgument, ErrEmptyEntry)
	}
	idx := a.Prescription.Append(in, now)
	a.UpdatedAt = now.UTC()
	data := EntryChangedData{Summary: a.summary(), EntryIndex: idx, AttachmentCount: len(in.Attachments)}
	if err := a.record(EventPrescriptionEntryAdded, data, now); err != nil {
		return 0, err
	}
	return idx, nil
}

// EditEntry applies patch to the entry at index.
func (a *Appointment) EditEntry(index int, patch EntryPatch, now time.Time) error {
	if err := a.Prescription.Update(index, patch, now); err != nil {
		return err
	}
	a.UpdatedAt = now.UTC()
	data := EntryChangedData{Summary: a.summary(), EntryIndex: index, AttachmentCount: len(patch.Attachments)}
	return a.record(EventPrescriptionEdited, data, now)
}

// Complete marks the appointment completed. It requires at least one
// prescription entry and is a no-op when already completed.
func (a *Appointment) Complete(by string, now time.Time) (bool, error) {
	if a.Cancelled {
		return false, newError(KindInvalidArgument, ErrAppointmentCancelled)
	}
	if a.Completed {
		return false, nil
	}
	if a.Prescription.Len() == 0 {
		return false, newError(KindInvalidArgument, ErrNoPrescription)
	}
	a.Completed = true
	a.UpdatedAt = now.UTC()
	return true, a.record(EventAppointmentCompleted, StatusChangedData{Summary: a.summary(), By: by}, now)
}

// Cancel marks the appointment cancelled. Completed appointments cannot be
// cancelled; cancelling twice is a no-op.
func (a *Appointment) Cancel(by string, now time.Time) (bool, error) {
	if a.Completed {
		return false, newError(KindInvalidArgument, ErrAppointmentCompleted)
	}
	if a.Cancelled {
		return false, nil
	}
	a.Cancelled = true
	a.UpdatedAt = now.UTC()
	return true, a.record(EventAppointmentCancelled, StatusChangedData{Summary: a.summary(), By: by}, now)
}

// Clone returns a deep copy without uncommitted events.
func (a *Appointment) Clone() *Appointment {
	c := *a
	c.Prescription = a.Prescription.Snapshot()
	c.changes = nil
	return &c
}

func (a *Appointment) summary() Summary {
	return Summary{
		AppointmentID: a.ID,
		DoctorName:    a.DoctorInfo.Name,
		PatientName:   a.PatientInfo.Name,
		PatientEmail:  a.PatientInfo.Email,
		SlotDate:      a.SlotDate,
		SlotTime:      a.SlotTime,
	}
}

func (a *Appointment) record(t EventType, data interface{}, now time.Time) error {
	event, err := NewEvent(a.ID, t, data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", t, err)
	}
	event.Timestamp = now.UTC()
	event.WithParticipants(a.DoctorID, a.PatientID)
	a.changes = append(a.changes, event)
	return nil
}
