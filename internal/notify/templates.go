package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carebridge/carebridge/internal/domain/appointment"
	"github.com/carebridge/carebridge/pkg/rxpdf"
)

// Message is one outgoing email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// compose renders the patient email for evt. It returns false for event
// types patients are not notified about.
func compose(evt *appointment.Event) (Message, bool, error) {
	var data struct {
		appointment.Summary
		By string `json:"by"`
	}
	switch evt.EventType {
	case appointment.EventAppointmentBooked,
		appointment.EventAppointmentCompleted,
		appointment.EventAppointmentCancelled:
	default:
		return Message{}, false, nil
	}
	if err := json.Unmarshal(evt.EventData, &data); err != nil {
		return Message{}, false, fmt.Errorf("decode %s data: %w", evt.EventType, err)
	}

	doctor := "Dr. " + strings.TrimSpace(strings.TrimPrefix(data.DoctorName, "Dr."))
	date := rxpdf.FormatSlotDate(data.SlotDate)
	msg := Message{To: strings.TrimSpace(data.PatientEmail)}

	switch evt.EventType {
	case appointment.EventAppointmentBooked:
		msg.Subject = "Appointment Confirmation"
		msg.Body = fmt.Sprintf("Hello %s , Your appointment with %s is confirmed on %s at %s.",
			data.PatientName, doctor, date, data.SlotTime)
	case appointment.EventAppointmentCompleted:
		msg.Subject = "Your Prescription Is Ready"
		msg.Body = fmt.Sprintf("Hello %s , Your appointment with %s on %s is complete. Your prescription is available in your appointments.",
			data.PatientName, doctor, date)
	case appointment.EventAppointmentCancelled:
		msg.Subject = "Appointment Cancelled"
		msg.Body = fmt.Sprintf("Hello %s , Your appointment with %s on %s at %s has been cancelled.",
			data.PatientName, doctor, date, data.SlotTime)
	}
	return msg, true, nil
}
