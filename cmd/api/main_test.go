package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/ai"
	"github.com/carebridge/carebridge/internal/api/handlers"
	"github.com/carebridge/carebridge/internal/api/middleware"
	"github.com/carebridge/carebridge/internal/domain/appointment"
	"github.com/carebridge/carebridge/internal/domain/doctor"
	"github.com/carebridge/carebridge/internal/infrastructure/storage"
	"github.com/carebridge/carebridge/internal/observability/metrics"
)

const secret = "test-secret"

func sign(t *testing.T, role, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func testRouter(t *testing.T) (http.Handler, *appointment.Appointment) {
	t.Helper()
	m := metrics.New(nil)
	store := storage.NewLocalStorage(t.TempDir(), "", 1<<20, nil)
	doctors := doctor.NewService(doctor.NewMemoryRepository(&doctor.Doctor{
		ID: "doc-1", Name: "Dr. Rao", Email: "rao@example.com", Speciality: "Dermatologist", Fees: 40, Available: true,
	}), nil)
	svc := appointment.NewService(appointment.NewMemoryRepository(), store, nil, nil,
		appointment.WithMetrics(m), appointment.WithDoctorDirectory(doctors))

	appt, err := svc.Book(context.Background(), appointment.BookingInput{
		PatientID:   "pat-1",
		DoctorID:    "doc-1",
		SlotDate:    "05_03_2026",
		SlotTime:    "10:30 AM",
		PatientInfo: appointment.PatientInfo{Name: "Asha", Email: "asha@example.com"},
	})
	require.NoError(t, err)

	r := newRouter(routerDeps{
		logger:      zap.NewNop(),
		metrics:     m,
		verifier:    middleware.NewTokenVerifier(secret),
		appointment: handlers.NewAppointmentHandler(svc, 1<<20, nil),
		doctor:      handlers.NewDoctorHandler(doctors, nil),
		ai:          handlers.NewAIHandler(ai.NewClient(ai.DefaultConfig(""), nil, m, nil)),
		health:      handlers.NewHealthHandler(serviceName, version, nil, nil),
		uploads:     store.Handler(),
	})
	return r, appt
}

func call(t *testing.T, h http.Handler, method, path, token, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestRouterAuth(t *testing.T) {
	r, _ := testRouter(t)

	code, body := call(t, r, http.MethodGet, "/api/doctor/appointments", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, false, body["success"])

	code, _ = call(t, r, http.MethodGet, "/api/doctor/appointments", sign(t, "patient", "pat-1"), "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = call(t, r, http.MethodGet, "/api/doctor/appointments", sign(t, "doctor", "doc-1"), "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["appointments"], 1)

	code, body = call(t, r, http.MethodGet, "/api/user/appointments", sign(t, "patient", "pat-1"), "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["appointments"], 1)

	code, _ = call(t, r, http.MethodGet, "/api/admin/all-doctors", sign(t, "doctor", "doc-1"), "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = call(t, r, http.MethodGet, "/api/admin/all-doctors", sign(t, "admin", "admin-1"), "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["doctors"], 1)
}

func TestRouterLegacyHeaderNeedsRoleClaim(t *testing.T) {
	r, _ := testRouter(t)
	noRole := sign(t, "", "pat-1")

	for _, header := range []string{"dtoken", "token"} {
		req := httptest.NewRequest(http.MethodGet, "/api/doctor/appointments", nil)
		req.Header.Set(header, noRole)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/doctor/appointments", nil)
	req.Header.Set("dtoken", sign(t, "doctor", "doc-1"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterDoctorDirectory(t *testing.T) {
	r, _ := testRouter(t)

	code, body := call(t, r, http.MethodGet, "/api/doctor/list", "", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["doctors"], 1)

	code, body = call(t, r, http.MethodGet, "/api/doctor/profile", sign(t, "doctor", "doc-1"), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "rao@example.com", body["profileData"].(map[string]interface{})["email"])

	code, body = call(t, r, http.MethodPost, "/api/doctor/change-availability", sign(t, "doctor", "doc-1"), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["available"])

	code, body = call(t, r, http.MethodPost, "/api/user/book-appointment", sign(t, "patient", "pat-2"),
		`{"docId":"doc-1","slotDate":"6_3_2026","slotTime":"11:00 AM","amount":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "doctor not available", body["message"])
}

func TestRouterRejectsUnsupportedUpload(t *testing.T) {
	r, appt := testRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("appointmentId", appt.ID))
	fw, err := mw.CreateFormFile("attachments", "virus.exe")
	require.NoError(t, err)
	_, err = fw.Write([]byte("MZ"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/doctor/add-prescription", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+sign(t, "doctor", "doc-1"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "attachment type is not supported", body["message"])
}

func TestRouterPrescriptionFlow(t *testing.T) {
	r, appt := testRouter(t)
	doc := sign(t, "doctor", "doc-1")

	code, body := call(t, r, http.MethodPost, "/api/doctor/add-prescription", doc,
		`{"appointmentId":"`+appt.ID+`","text":"Rest"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "New prescription added", body["message"])

	code, body = call(t, r, http.MethodPost, "/api/doctor/add-prescription", sign(t, "doctor", "doc-2"),
		`{"appointmentId":"`+appt.ID+`","text":"Rest"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, false, body["success"])

	code, body = call(t, r, http.MethodPost, "/api/doctor/complete-appointment", doc,
		`{"appointmentId":"`+appt.ID+`"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Appointment Completed", body["message"])
}

func TestRouterPublicEndpoints(t *testing.T) {
	r, _ := testRouter(t)

	code, _ := call(t, r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)

	code, body := call(t, r, http.MethodGet, "/api/ai/health-tip", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, ai.Fallback, body["tip"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")

	req = httptest.NewRequest(http.MethodGet, "/uploads/missing.png", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
