// Package legacy migrates appointments from the legacy MongoDB store into
// the appointments table, normalizing every historical prescription shape.
package legacy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/carebridge/carebridge/internal/domain/appointment"
)

// Record is one document of the legacy appointments collection.
type Record struct {
	ID           bson.RawValue `bson:"_id"`
	UserID       string        `bson:"userId"`
	DocID        string        `bson:"docId"`
	SlotDate     string        `bson:"slotDate"`
	SlotTime     string        `bson:"slotTime"`
	UserData     userData      `bson:"userData"`
	DocData      docData       `bson:"docData"`
	Amount       float64       `bson:"amount"`
	Date         float64       `bson:"date"`
	Cancelled    bool          `bson:"cancelled"`
	Payment      bool          `bson:"payment"`
	IsCompleted  bool          `bson:"isCompleted"`
	Prescription bson.RawValue `bson:"prescription"`
}

type userData struct {
	Name   string `bson:"name"`
	Email  string `bson:"email"`
	Gender string `bson:"gender"`
	Dob    string `bson:"dob"`
}

type docData struct {
	Name       string `bson:"name"`
	Speciality string `bson:"speciality"`
}

// entry covers both the text+images revision and the attachments revision.
type entry struct {
	Text        string     `bson:"text"`
	Images      []string   `bson:"images"`
	Attachments []string   `bson:"attachments"`
	IsEdited    bool       `bson:"isEdited"`
	CreatedAt   time.Time  `bson:"createdAt"`
	UpdatedAt   *time.Time `bson:"updatedAt"`
}

var errMissingID = errors.New("record has no usable _id")

// Convert maps a legacy record onto the appointment aggregate. now is used
// to derive the patient's age from their date of birth.
func Convert(rec Record, now time.Time) (*appointment.Appointment, error) {
	id, err := recordID(rec.ID)
	if err != nil {
		return nil, err
	}

	booked := now.UTC()
	if rec.Date > 0 {
		booked = time.UnixMilli(int64(rec.Date)).UTC()
	}

	rx, err := convertPrescription(rec.Prescription, booked)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", id, err)
	}

	updated := booked
	for _, e := range rx.Entries {
		if e.CreatedAt.After(updated) {
			updated = e.CreatedAt
		}
		if e.UpdatedAt != nil && e.UpdatedAt.After(updated) {
			updated = *e.UpdatedAt
		}
	}

	return &appointment.Appointment{
		ID:        id,
		PatientID: rec.UserID,
		DoctorID:  rec.DocID,
		SlotDate:  rec.SlotDate,
		SlotTime:  rec.SlotTime,
		Amount:    rec.Amount,
		Payment:   rec.Payment,
		Cancelled: rec.Cancelled,
		Completed: rec.IsCompleted,
		DoctorInfo: appointment.DoctorInfo{
			Name:       rec.DocData.Name,
			Speciality: rec.DocData.Speciality,
		},
		PatientInfo: appointment.PatientInfo{
			Name:   rec.UserData.Name,
			Email:  rec.UserData.Email,
			Age:    ageOn(rec.UserData.Dob, now),
			Gender: rec.UserData.Gender,
		},
		Prescription: rx,
		CreatedAt:    booked,
		UpdatedAt:    updated,
	}, nil
}

func recordID(v bson.RawValue) (string, error) {
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex(), nil
	}
	if s, ok := v.StringValueOK(); ok && strings.TrimSpace(s) != "" {
		return s, nil
	}
	return "", errMissingID
}

// convertPrescription accepts a missing or null field, a bare string, a bare
// array of entries or an {entries: [...]} document.
func convertPrescription(v bson.RawValue, booked time.Time) (appointment.Prescription, error) {
	rx := appointment.Prescription{Entries: []appointment.Entry{}}

	var raw []entry
	switch v.Type {
	case 0, bson.TypeNull, bson.TypeUndefined:
		return rx, nil
	case bson.TypeString:
		if text := strings.TrimSpace(v.StringValue()); text != "" {
			rx.Entries = append(rx.Entries, appointment.NormalizeEntry(text, nil, nil, false, booked, nil))
		}
		return rx, nil
	case bson.TypeArray:
		if err := v.Unmarshal(&raw); err != nil {
			return rx, fmt.Errorf("decode prescription entries: %w", err)
		}
	case bson.TypeEmbeddedDocument:
		var doc struct {
			Entries []entry `bson:"entries"`
		}
		if err := v.Unmarshal(&doc); err != nil {
			return rx, fmt.Errorf("decode prescription: %w", err)
		}
		raw = doc.Entries
	default:
		return rx, fmt.Errorf("unsupported prescription type %s", v.Type)
	}

	for _, e := range raw {
		created := e.CreatedAt
		if created.IsZero() {
			created = booked
		}
		rx.Entries = append(rx.Entries, appointment.NormalizeEntry(e.Text, e.Images, e.Attachments, e.IsEdited, created, e.UpdatedAt))
	}
	return rx, nil
}

// ageOn returns whole years between a YYYY-MM-DD birth date and now, or 0
// when dob is unset ("Not Selected" in old records) or malformed.
func ageOn(dob string, now time.Time) int {
	born, err := time.Parse("2006-01-02", strings.TrimSpace(dob))
	if err != nil || born.After(now) {
		return 0
	}
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	return age
}
