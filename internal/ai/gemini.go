// Package ai answers patient-facing questions through the Gemini API. Every failure degrades to a fixed fallback
// answer; callers never see an error.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/carebridge/carebridge/pkg/circuitbreaker"
)

// Fallback is returned whenever the model cannot produce an answer.
const Fallback = "Sorry, AI couldn't generate a response right now."

// Endpoint names, used for metrics and logs.
const (
	EndpointExplain  = "explain"
	EndpointSymptoms = "symptoms"
	EndpointTip      = "health_tip"
)

var (
	errNoAPIKey = errors.New("gemini api key not configured")
	errNoText   = errors.New("gemini returned no text")
)

// Config configures the Gemini client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns the production endpoint and model.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:  apiKey,
		Model:   "gemini-2.5-flash",
		BaseURL: "https://generativelanguage.googleapis.com",
		Timeout: 20 * time.Second,
	}
}

// Recorder observes whether each answer came from the model.
type Recorder interface {
	ObserveAI(endpoint string, fallback bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAI(string, bool) {}

// Client calls Gemini through a circuit breaker.
type Client struct {
	cfg     Config
	genai   *genai.Client
	initErr error
	breaker *circuitbreaker.CircuitBreaker
	metrics Recorder
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewClient creates a Gemini client. breaker and metrics may be nil.
func NewClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, metrics Recorder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		breaker: breaker,
		metrics: metrics,
		logger:  logger,
		tracer:  otel.Tracer("gemini"),
	}
	if cfg.APIKey == "" {
		c.initErr = errNoAPIKey
		return c
	}
	// genai.NewClient only validates its config; no request is made here.
	c.genai, c.initErr = genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if c.initErr != nil {
		logger.Error("gemini client disabled", zap.Error(c.initErr))
	}
	return c
}

// ExplainPrescription restates a prescription in plain language.
func (c *Client) ExplainPrescription(ctx context.Context, prescriptionText string) string {
	prompt := fmt.Sprintf("Explain this prescription in simple terms for a patient: %s. Keep it short, friendly, and easy to understand.", prescriptionText)
	return c.answer(ctx, EndpointExplain, prompt)
}

// CheckSymptoms suggests common causes and which doctor to see.
func (c *Client) CheckSymptoms(ctx context.Context, symptoms string) string {
	prompt := fmt.Sprintf("The patient reports these symptoms: %s. Suggest 2-3 possible common causes and which type of doctor they should consult. Keep it short and educational (not diagnostic).", symptoms)
	return c.answer(ctx, EndpointSymptoms, prompt)
}

// HealthTip generates one short daily tip.
func (c *Client) HealthTip(ctx context.Context) string {
	return c.answer(ctx, EndpointTip, "Generate one short daily health tip related to diet, exercise, or medication care. Keep it under 25 words, positive, and easy to read.")
}

func (c *Client) answer(ctx context.Context, endpoint, prompt string) string {
	ctx, span := c.tracer.Start(ctx, "gemini."+endpoint,
		trace.WithAttributes(attribute.String("model", c.cfg.Model)))
	defer span.End()

	text, err := c.generate(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("ai request failed, using fallback",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		c.metrics.ObserveAI(endpoint, true)
		return Fallback
	}
	c.metrics.ObserveAI(endpoint, false)
	return text
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	if c.initErr != nil {
		return "", c.initErr
	}
	if c.breaker == nil {
		return c.call(ctx, prompt)
	}
	return circuitbreaker.Call(ctx, c.breaker, func(ctx context.Context) (string, error) {
		return c.call(ctx, prompt)
	})
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	resp, err := c.genai.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errNoText
	}
	return text, nil
}
