package ai

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/carebridge/pkg/circuitbreaker"
)

type recorded struct {
	endpoint string
	fallback bool
}

type fakeRecorder struct {
	mu  sync.Mutex
	got []recorded
}

func (f *fakeRecorder) ObserveAI(endpoint string, fallback bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, recorded{endpoint, fallback})
}

func newTestClient(t *testing.T, handler http.HandlerFunc, rec Recorder) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig("test-key")
	cfg.BaseURL = srv.URL
	return NewClient(cfg, nil, rec, nil)
}

func TestExplainPrescriptionSendsPrompt(t *testing.T) {
	var gotPath, gotKey, gotPrompt string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		var req struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Contents)
		require.NotEmpty(t, req.Contents[0].Parts)
		gotPrompt = req.Contents[0].Parts[0].Text
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Take one tablet "},{"text":"after meals."}]}}]}`))
	}, nil)

	answer := client.ExplainPrescription(t.Context(), "Paracetamol 500mg twice daily")

	assert.Equal(t, "Take one tablet after meals.", answer)
	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Contains(t, gotPrompt, "Paracetamol 500mg twice daily")
	assert.Contains(t, gotPrompt, "simple terms")
}

func TestFallbackOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}},
		{"empty candidates", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			client := newTestClient(t, tt.handler, rec)

			assert.Equal(t, Fallback, client.CheckSymptoms(t.Context(), "headache"))
			assert.Equal(t, []recorded{{EndpointSymptoms, true}}, rec.got)
		})
	}
}

func TestMissingKeyNeverCallsModel(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	cfg := DefaultConfig("")
	cfg.BaseURL = srv.URL
	client := NewClient(cfg, nil, nil, nil)

	assert.Equal(t, Fallback, client.HealthTip(t.Context()))
	assert.False(t, called)
}

func TestOpenCircuitFallsBack(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	bcfg := circuitbreaker.DefaultConfig("gemini")
	bcfg.FailureThreshold = 2
	breaker, err := circuitbreaker.New(bcfg, nil)
	require.NoError(t, err)

	cfg := DefaultConfig("test-key")
	cfg.BaseURL = srv.URL
	client := NewClient(cfg, breaker, nil, nil)

	for i := 0; i < 2; i++ {
		assert.Equal(t, Fallback, client.HealthTip(t.Context()))
	}
	require.Equal(t, circuitbreaker.StateOpen, breaker.GetState())
	hits := calls.Load()
	assert.Positive(t, hits)

	for i := 0; i < 2; i++ {
		assert.Equal(t, Fallback, client.HealthTip(t.Context()))
	}
	assert.Equal(t, hits, calls.Load(), "an open circuit never reaches the model")
}
