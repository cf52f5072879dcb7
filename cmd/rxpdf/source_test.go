package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyDoc = `{
	"id": "apt-1",
	"slotDate": "05_03_2026",
	"slotTime": "10:30 AM",
	"docData": {"name": "Dr. Rao", "speciality": "Dermatologist"},
	"userData": {"name": "Asha", "age": 31, "gender": "Female"},
	"prescription": {"entries": [
		{"text": "Cream twice daily", "images": ["/uploads/a.png"], "attachments": ["https://cdn.example/lab.pdf"], "createdAt": "2026-03-05T10:00:00Z"}
	]}
}`

func TestFileSourceNormalizesAndResolves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apt.json")
	require.NoError(t, os.WriteFile(path, []byte(legacyDoc), 0o600))

	in, err := fileSource{path: path, base: "https://api.example"}.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Dr. Rao", in.Doctor.Name)
	assert.Equal(t, "31", in.Patient.Age)
	require.Len(t, in.Entries, 1)
	assert.Equal(t, []string{"https://api.example/uploads/a.png", "https://cdn.example/lab.pdf"}, in.Entries[0].Attachments)
}

func TestAPISource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/doctor/appointments" || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"message":"not authorized, login again"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Appointments fetched","appointments":[` + legacyDoc + `]}`))
	}))
	defer srv.Close()

	src := apiSource{client: srv.Client(), base: srv.URL, token: "tok", role: "doctor", id: "apt-1"}
	in, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "05_03_2026", in.SlotDate)
	assert.Equal(t, srv.URL+"/uploads/a.png", in.Entries[0].Attachments[0])

	src.id = "apt-2"
	_, err = src.Load(context.Background())
	assert.ErrorIs(t, err, errAppointmentNotFound)

	src.token = "bad"
	_, err = src.Load(context.Background())
	assert.ErrorContains(t, err, "not authorized")
}
