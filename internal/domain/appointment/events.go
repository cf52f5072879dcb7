package appointment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AggregateType is recorded on every event and outbox row.
const AggregateType = "Appointment"

// EventType represents the type of domain event
type EventType string

const (
	EventAppointmentBooked      EventType = "AppointmentBooked"
	EventPrescriptionEntryAdded EventType = "PrescriptionEntryAdded"
	EventPrescriptionEdited     EventType = "PrescriptionEntryEdited"
	EventAppointmentCompleted   EventType = "AppointmentCompleted"
	EventAppointmentCancelled   EventType = "AppointmentCancelled"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	DoctorID      string          `json:"doctor_id,omitempty"`
	PatientID     string          `json:"patient_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// Summary is the notification-relevant view of an appointment carried by events.
type Summary struct {
	AppointmentID string `json:"appointment_id"`
	DoctorName    string `json:"doctor_name"`
	PatientName   string `json:"patient_name"`
	PatientEmail  string `json:"patient_email,omitempty"`
	SlotDate      string `json:"slot_date"`
	SlotTime      string `json:"slot_time"`
}

// BookedData contains booking details
type BookedData struct {
	Summary
	Amount float64 `json:"amount"`
}

// EntryChangedData is emitted for both added and edited entries.
type EntryChangedData struct {
	Summary
	EntryIndex      int `json:"entry_index"`
	AttachmentCount int `json:"attachment_count"`
}

// StatusChangedData is emitted on completion and cancellation.
type StatusChangedData struct {
	Summary
	By string `json:"by"`
}

// WithParticipants sets the doctor and patient references
func (e *Event) WithParticipants(doctorID, patientID string) *Event {
	e.DoctorID = doctorID
	e.PatientID = patientID
	return e
}

// WithCorrelationID links the event to the request that caused it.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}
