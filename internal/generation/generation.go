// Package generation classifies user messages into intents and produces the
// conversational replies. The model itself lives in an external sidecar;
// deterministic local implementations answer when it is absent or failing.
package generation

import (
	"context"
	"log/slog"
	"time"

	"github.com/meleki1/salesagent/internal/domain"
	"github.com/meleki1/salesagent/internal/metrics"
)

// Purpose tells the generator what kind of message is wanted.
type Purpose string

const (
	// PurposeReply is an ordinary conversational turn.
	PurposeReply Purpose = "reply"
	// PurposeCollectInfo asks the customer for the fields still missing.
	PurposeCollectInfo Purpose = "collect_info"
	// PurposePaymentConfirmation thanks the customer after a reconciled payment.
	PurposePaymentConfirmation Purpose = "payment_confirmation"
)

// Prompt is everything a generator may use to produce one message.
type Prompt struct {
	SessionID string
	Purpose   Purpose
	Intent    domain.Intent
	History   []domain.Message
	Info      domain.CustomerInfo
	Missing   []string
	OrderID   int64
	// Amount is in major units.
	Amount int64
}

// Classifier maps a user message to an intent.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.Intent, error)
}

// Generator produces assistant text.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

const defaultTimeout = 20 * time.Second

// Service bounds every call with a timeout and answers from the local
// fallbacks when the primary collaborator errors.
type Service struct {
	classifier Classifier
	generator  Generator

	fallbackClassifier Classifier
	fallbackGenerator  Generator

	timeout time.Duration
	logger  *slog.Logger
}

// NewService wires primary collaborators. Either may be nil, in which case
// the keyword classifier or static generator is used directly.
func NewService(classifier Classifier, generator Generator, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		classifier:         classifier,
		generator:          generator,
		fallbackClassifier: NewKeywordClassifier(),
		fallbackGenerator:  StaticGenerator{},
		timeout:            timeout,
		logger:             logger,
	}
}

// Classify returns the intent of text. It never fails: errors degrade to the
// keyword classifier, and anything unrecognised is IntentUnknown.
func (s *Service) Classify(ctx context.Context, text string) (domain.Intent, error) {
	if s.classifier != nil {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		start := time.Now()
		intent, err := s.classifier.Classify(cctx, text)
		cancel()
		if err == nil {
			metrics.GenerationLatency.WithLabelValues("classify", "ok").Observe(time.Since(start).Seconds())
			return intent, nil
		}
		metrics.GenerationLatency.WithLabelValues("classify", "error").Observe(time.Since(start).Seconds())
		metrics.GenerationFallbacks.WithLabelValues("classify").Inc()
		s.logger.Warn("Classifier failed, using keyword fallback", "error", err)
	}
	return s.fallbackClassifier.Classify(ctx, text)
}

// Generate returns assistant text for p, falling back to templates on error.
func (s *Service) Generate(ctx context.Context, p Prompt) (string, error) {
	if s.generator != nil {
		gctx, cancel := context.WithTimeout(ctx, s.timeout)
		start := time.Now()
		text, err := s.generator.Generate(gctx, p)
		cancel()
		if err == nil && text != "" {
			metrics.GenerationLatency.WithLabelValues("generate", "ok").Observe(time.Since(start).Seconds())
			return text, nil
		}
		metrics.GenerationLatency.WithLabelValues("generate", "error").Observe(time.Since(start).Seconds())
		metrics.GenerationFallbacks.WithLabelValues("generate").Inc()
		s.logger.Warn("Generator failed, using static fallback",
			"session_id", p.SessionID,
			"purpose", p.Purpose,
			"error", err)
	}
	return s.fallbackGenerator.Generate(ctx, p)
}
