package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReady(t *testing.T) {
	healthy := NewHealthHandler("api", "1.0.0", map[string]Check{
		"postgres": func(context.Context) error { return nil },
	}, nil)
	rec := httptest.NewRecorder()
	healthy.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true,"checks":{"postgres":"ok"}}`, rec.Body.String())

	broken := NewHealthHandler("api", "1.0.0", map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, nil)
	rec = httptest.NewRecorder()
	broken.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"ready":false,"checks":{"postgres":"ok","redis":"connection refused"}}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler("api", "1.0.0", nil, nil).Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"healthy","service":"api","version":"1.0.0"}`, rec.Body.String())
}
