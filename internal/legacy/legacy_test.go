package legacy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/carebridge/carebridge/internal/domain/appointment"
)

var (
	now    = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	booked = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func decode(t *testing.T, doc bson.M) Record {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var rec Record
	require.NoError(t, bson.Unmarshal(raw, &rec))
	return rec
}

func baseDoc(prescription interface{}) bson.M {
	doc := bson.M{
		"_id":         primitive.NewObjectIDFromTimestamp(booked),
		"userId":      "pat-1",
		"docId":       "doc-1",
		"slotDate":    "5_3_2026",
		"slotTime":    "10:30 AM",
		"userData":    bson.M{"name": "Asha", "email": "asha@example.com", "gender": "Female", "dob": "1990-06-15"},
		"docData":     bson.M{"name": "Dr. Rao", "speciality": "Dermatologist", "fees": 50},
		"amount":      int32(50),
		"date":        booked.UnixMilli(),
		"cancelled":   false,
		"payment":     true,
		"isCompleted": true,
	}
	if prescription != nil {
		doc["prescription"] = prescription
	}
	return doc
}

func TestConvertFields(t *testing.T) {
	a, err := Convert(decode(t, baseDoc(nil)), now)
	require.NoError(t, err)

	assert.Len(t, a.ID, 24)
	assert.Equal(t, "pat-1", a.PatientID)
	assert.Equal(t, "doc-1", a.DoctorID)
	assert.Equal(t, 50.0, a.Amount)
	assert.True(t, a.Payment)
	assert.True(t, a.Completed)
	assert.Equal(t, booked, a.CreatedAt)
	assert.Equal(t, appointment.DoctorInfo{Name: "Dr. Rao", Speciality: "Dermatologist"}, a.DoctorInfo)
	assert.Equal(t, 35, a.PatientInfo.Age)
	assert.Equal(t, "asha@example.com", a.PatientInfo.Email)
	assert.Empty(t, a.Prescription.Entries)
	assert.NotNil(t, a.Prescription.Entries)
}

func TestConvertPrescriptionShapes(t *testing.T) {
	created := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	edited := created.Add(time.Hour)

	tests := []struct {
		name  string
		value interface{}
		check func(t *testing.T, entries []appointment.Entry)
	}{
		{
			name:  "null",
			value: primitive.Null{},
			check: func(t *testing.T, entries []appointment.Entry) { assert.Empty(t, entries) },
		},
		{
			name:  "bare string",
			value: "Paracetamol 500mg",
			check: func(t *testing.T, entries []appointment.Entry) {
				require.Len(t, entries, 1)
				assert.Equal(t, "Paracetamol 500mg", entries[0].Text)
				assert.Equal(t, booked, entries[0].CreatedAt)
				assert.False(t, entries[0].IsEdited)
			},
		},
		{
			name: "text and images",
			value: bson.M{"entries": bson.A{
				bson.M{"text": "first", "images": bson.A{"uploads/a.png"}, "isEdited": false, "createdAt": created},
				bson.M{"text": "second", "images": bson.A{"uploads/b.png"}, "attachments": bson.A{"https://x/c.pdf"}, "isEdited": true, "createdAt": created, "updatedAt": edited},
			}},
			check: func(t *testing.T, entries []appointment.Entry) {
				require.Len(t, entries, 2)
				assert.Equal(t, []string{"uploads/a.png"}, entries[0].Attachments)
				assert.Nil(t, entries[0].UpdatedAt)
				assert.Equal(t, []string{"uploads/b.png", "https://x/c.pdf"}, entries[1].Attachments)
				require.NotNil(t, entries[1].UpdatedAt)
				assert.Equal(t, edited, *entries[1].UpdatedAt)
			},
		},
		{
			name:  "bare array with edited flag but no timestamp",
			value: bson.A{bson.M{"text": "only", "isEdited": true}},
			check: func(t *testing.T, entries []appointment.Entry) {
				require.Len(t, entries, 1)
				assert.True(t, entries[0].IsEdited)
				require.NotNil(t, entries[0].UpdatedAt)
				assert.Equal(t, booked, *entries[0].UpdatedAt)
			},
		},
		{
			name:  "updatedAt without flag",
			value: bson.A{bson.M{"text": "x", "createdAt": created, "updatedAt": edited}},
			check: func(t *testing.T, entries []appointment.Entry) {
				require.Len(t, entries, 1)
				assert.True(t, entries[0].IsEdited)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Convert(decode(t, baseDoc(tt.value)), now)
			require.NoError(t, err)
			tt.check(t, a.Prescription.Entries)
			for _, e := range a.Prescription.Entries {
				assert.Equal(t, e.IsEdited, e.UpdatedAt != nil)
			}
		})
	}
}

func TestConvertRejects(t *testing.T) {
	doc := baseDoc(int32(7))
	_, err := Convert(decode(t, doc), now)
	assert.ErrorContains(t, err, "unsupported prescription type")

	doc = baseDoc(nil)
	delete(doc, "_id")
	_, err = Convert(decode(t, doc), now)
	assert.ErrorIs(t, err, errMissingID)

	doc = baseDoc(nil)
	doc["_id"] = "legacy-42"
	a, err := Convert(decode(t, doc), now)
	require.NoError(t, err)
	assert.Equal(t, "legacy-42", a.ID)
}

func TestAgeOn(t *testing.T) {
	assert.Equal(t, 36, ageOn("1990-03-10", now))
	assert.Equal(t, 35, ageOn("1990-03-11", now))
	assert.Equal(t, 0, ageOn("Not Selected", now))
	assert.Equal(t, 0, ageOn("2030-01-01", now))
}

type sliceSource []Record

func (s sliceSource) Each(ctx context.Context, fn func(Record) error) error {
	for _, r := range s {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Import(ctx context.Context, a *appointment.Appointment) (bool, error) {
	args := m.Called(ctx, a)
	return args.Bool(0), args.Error(1)
}

func TestImporterCounts(t *testing.T) {
	first := baseDoc("rest")
	first["_id"] = "a1"
	second := baseDoc(nil)
	second["_id"] = "a2"
	third := baseDoc(nil)
	third["_id"] = "a3"
	broken := baseDoc(true)
	broken["_id"] = "a4"

	source := sliceSource{decode(t, first), decode(t, second), decode(t, third), decode(t, broken)}

	sink := new(MockSink)
	byID := func(id string) interface{} {
		return mock.MatchedBy(func(a *appointment.Appointment) bool { return a.ID == id })
	}
	sink.On("Import", mock.Anything, byID("a1")).Return(true, nil)
	sink.On("Import", mock.Anything, byID("a2")).Return(false, nil)
	sink.On("Import", mock.Anything, byID("a3")).Return(false, errors.New("db down"))

	rep, err := NewImporter(source, sink, false, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Read: 4, Imported: 1, Existing: 1, Failed: 2}, rep)
	sink.AssertExpectations(t)
}

func TestImporterDryRun(t *testing.T) {
	sink := new(MockSink)
	rep, err := NewImporter(sliceSource{decode(t, baseDoc("x"))}, sink, true, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Report{Read: 1, Imported: 1}, rep)
	sink.AssertNotCalled(t, "Import", mock.Anything, mock.Anything)
}
