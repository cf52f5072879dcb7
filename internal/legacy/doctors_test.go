package legacy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/carebridge/carebridge/internal/domain/doctor"
)

func decodeDoctor(t *testing.T, doc bson.M) DoctorRecord {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var rec DoctorRecord
	require.NoError(t, bson.Unmarshal(raw, &rec))
	return rec
}

func doctorDoc() bson.M {
	return bson.M{
		"_id":          primitive.NewObjectIDFromTimestamp(booked),
		"name":         "Dr. Richard James",
		"email":        "Richard@Example.com",
		"password":     "$2b$10$hash",
		"speciality":   "General physician",
		"degree":       "MBBS",
		"experience":   "4 Years",
		"about":        "Committed to preventive care.",
		"available":    true,
		"fees":         int32(50),
		"address":      bson.M{"line1": "17th Cross, Richmond", "line2": "Circle, Ring Road, London"},
		"date":         booked.UnixMilli(),
		"slots_booked": bson.M{"5_3_2026": bson.A{"10:30 AM"}},
	}
}

func TestConvertDoctor(t *testing.T) {
	d, err := ConvertDoctor(decodeDoctor(t, doctorDoc()), now)
	require.NoError(t, err)

	assert.Len(t, d.ID, 24)
	assert.Equal(t, "richard@example.com", d.Email)
	assert.Equal(t, 50.0, d.Fees)
	assert.Equal(t, "Circle, Ring Road, London", d.Address.Line2)
	assert.True(t, d.Available)
	assert.Equal(t, booked, d.CreatedAt)

	noEmail := doctorDoc()
	delete(noEmail, "email")
	_, err = ConvertDoctor(decodeDoctor(t, noEmail), now)
	assert.ErrorIs(t, err, errNoDoctorName)
}

type doctorSlice []DoctorRecord

func (s doctorSlice) EachDoctor(ctx context.Context, fn func(DoctorRecord) error) error {
	for _, rec := range s {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

type MockDoctorSink struct {
	mock.Mock
}

func (m *MockDoctorSink) Import(ctx context.Context, d *doctor.Doctor) (bool, error) {
	args := m.Called(ctx, d)
	return args.Bool(0), args.Error(1)
}

func TestImportDoctorsCounts(t *testing.T) {
	first := doctorDoc()
	first["_id"] = "d1"
	second := doctorDoc()
	second["_id"] = "d2"
	third := doctorDoc()
	third["_id"] = "d3"
	broken := doctorDoc()
	broken["_id"] = "d4"
	broken["name"] = ""

	source := doctorSlice{decodeDoctor(t, first), decodeDoctor(t, second), decodeDoctor(t, third), decodeDoctor(t, broken)}

	sink := new(MockDoctorSink)
	byID := func(id string) interface{} {
		return mock.MatchedBy(func(d *doctor.Doctor) bool { return d.ID == id })
	}
	sink.On("Import", mock.Anything, byID("d1")).Return(true, nil)
	sink.On("Import", mock.Anything, byID("d2")).Return(false, nil)
	sink.On("Import", mock.Anything, byID("d3")).Return(false, errors.New("db down"))

	rep, err := ImportDoctors(context.Background(), source, sink, false, nil)
	require.NoError(t, err)
	assert.Equal(t, Report{Read: 4, Imported: 1, Existing: 1, Failed: 2}, rep)
	sink.AssertExpectations(t)
}
