package appointment

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func booking() BookingInput {
	return BookingInput{
		PatientID:   "patient-1",
		DoctorID:    "doctor-1",
		SlotDate:    "5_3_2026",
		SlotTime:    "10:30 AM",
		Amount:      50,
		DoctorInfo:  DoctorInfo{Name: "Dr. Asha Rao", Speciality: "Dermatologist"},
		PatientInfo: PatientInfo{Name: "Ravi Kumar", Email: "ravi@example.com", Age: 34, Gender: "Male"},
	}
}

func TestNewValidatesBooking(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*BookingInput)
		want   error
	}{
		{name: "missing doctor", mutate: func(b *BookingInput) { b.DoctorID = "" }, want: ErrMissingParticipant},
		{name: "missing patient", mutate: func(b *BookingInput) { b.PatientID = " " }, want: ErrMissingParticipant},
		{name: "bad slot date", mutate: func(b *BookingInput) { b.SlotDate = "2026-03-05" }, want: ErrInvalidSlot},
		{name: "month out of range", mutate: func(b *BookingInput) { b.SlotDate = "05_13_2026" }, want: ErrInvalidSlot},
		{name: "missing slot time", mutate: func(b *BookingInput) { b.SlotTime = "" }, want: ErrInvalidSlot},
		{name: "negative amount", mutate: func(b *BookingInput) { b.Amount = -1 }, want: ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := booking()
			tt.mutate(&in)
			_, err := New("a-1", in, t0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
			assert.Equal(t, KindInvalidArgument, KindOf(err))
		})
	}
}

func TestNewRecordsBookedEvent(t *testing.T) {
	a, err := New("a-1", booking(), t0)
	require.NoError(t, err)

	assert.Empty(t, a.Prescription.Entries)
	require.Len(t, a.Changes(), 1)
	ev := a.Changes()[0]
	assert.Equal(t, EventAppointmentBooked, ev.EventType)
	assert.Equal(t, "doctor-1", ev.DoctorID)
	assert.Equal(t, "patient-1", ev.PatientID)

	var data BookedData
	require.NoError(t, json.Unmarshal(ev.EventData, &data))
	assert.Equal(t, "ravi@example.com", data.PatientEmail)
	assert.Equal(t, "Dr. Asha Rao", data.DoctorName)
	assert.Equal(t, 50.0, data.Amount)
}

func TestAddEntryRejectsEmptyContent(t *testing.T) {
	a, err := New("a-1", booking(), t0)
	require.NoError(t, err)
	a.ClearChanges()

	_, err = a.AddEntry(EntryInput{Text: "  "}, t0)
	assert.True(t, errors.Is(err, ErrEmptyEntry))
	assert.Empty(t, a.Changes())

	idx, err := a.AddEntry(EntryInput{Attachments: []string{"scan.png"}}, t0)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	require.Len(t, a.Changes(), 1)
	assert.Equal(t, EventPrescriptionEntryAdded, a.Changes()[0].EventType)
}

func TestCompleteRequiresPrescription(t *testing.T) {
	a, err := New("a-1", booking(), t0)
	require.NoError(t, err)

	_, err = a.Complete("doctor-1", t0)
	assert.True(t, errors.Is(err, ErrNoPrescription))
	assert.False(t, a.Completed)

	_, err = a.AddEntry(EntryInput{Text: "ORS sachets"}, t0)
	require.NoError(t, err)

	changed, err := a.Complete("doctor-1", t0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, a.Completed)

	changed, err = a.Complete("doctor-1", t0)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCancelTransitions(t *testing.T) {
	a, err := New("a-1", booking(), t0)
	require.NoError(t, err)

	changed, err := a.Cancel("patient-1", t0)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = a.Cancel("patient-1", t0)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = a.Complete("doctor-1", t0)
	assert.True(t, errors.Is(err, ErrAppointmentCancelled))

	b, err := New("a-2", booking(), t0)
	require.NoError(t, err)
	_, err = b.AddEntry(EntryInput{Text: "x"}, t0)
	require.NoError(t, err)
	_, err = b.Complete("doctor-1", t0)
	require.NoError(t, err)
	_, err = b.Cancel("doctor-1", t0)
	assert.True(t, errors.Is(err, ErrAppointmentCompleted))
}

func TestErrorMessagesAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrAppointmentNotFound, ErrDoctorMismatch, ErrPatientMismatch, ErrIndexOutOfRange,
		ErrEmptyEntry, ErrAppointmentCancelled, ErrAppointmentCompleted, ErrNoPrescription,
		ErrVersionConflict, ErrInvalidSlot, ErrInvalidAmount, ErrMissingParticipant,
		ErrAttachmentStore, ErrLockUnavailable, ErrPersist, ErrLoad,
	}
	seen := make(map[string]bool)
	for _, err := range sentinels {
		assert.False(t, seen[err.Error()], "duplicate message %q", err.Error())
		seen[err.Error()] = true
	}
}

func TestCloneDropsChanges(t *testing.T) {
	a, err := New("a-1", booking(), t0.Add(time.Hour))
	require.NoError(t, err)

	c := a.Clone()
	assert.Empty(t, c.Changes())
	assert.Len(t, a.Changes(), 1)
	assert.Equal(t, a.Prescription.Entries, c.Prescription.Entries)
}
