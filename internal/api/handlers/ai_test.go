package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAssistant struct {
	mock.Mock
}

func (m *MockAssistant) ExplainPrescription(ctx context.Context, text string) string {
	return m.Called(ctx, text).String(0)
}

func (m *MockAssistant) CheckSymptoms(ctx context.Context, symptoms string) string {
	return m.Called(ctx, symptoms).String(0)
}

func (m *MockAssistant) HealthTip(ctx context.Context) string {
	return m.Called(ctx).String(0)
}

func TestAIRoutes(t *testing.T) {
	assistant := new(MockAssistant)
	assistant.On("ExplainPrescription", mock.Anything, "Amoxicillin 250mg").Return("An antibiotic.")
	assistant.On("CheckSymptoms", mock.Anything, "fever").Return("See a general physician.")
	assistant.On("HealthTip", mock.Anything).Return("Drink water.")

	routes := NewAIHandler(assistant).Routes()

	tests := []struct {
		method, path, body, want string
	}{
		{http.MethodPost, "/explain-prescription", `{"prescriptionText":"Amoxicillin 250mg"}`, `{"success":true,"message":"","explanation":"An antibiotic."}`},
		{http.MethodPost, "/symptom-checker", `{"symptoms":"fever"}`, `{"success":true,"message":"","suggestion":"See a general physician."}`},
		{http.MethodGet, "/health-tip", ``, `{"success":true,"message":"","tip":"Drink water."}`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			routes.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
	assistant.AssertExpectations(t)
}

func TestAIRejectsMalformedBody(t *testing.T) {
	assistant := new(MockAssistant)
	rec := httptest.NewRecorder()
	NewAIHandler(assistant).Routes().ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/symptom-checker", strings.NewReader("nope")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assistant.AssertNotCalled(t, "CheckSymptoms", mock.Anything, mock.Anything)
}
