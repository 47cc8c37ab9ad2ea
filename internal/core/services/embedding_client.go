package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/ratelimit"
	"github.com/zahidkhandev/flopods-sub000/internal/retry"
)

// EmbedCall is one text to embed with a resolved key.
type EmbedCall struct {
	APIKey      string
	Model       string
	Text        string
	Fingerprint string
	Tier        ratelimit.Tier
}

// EmbeddingClientConfig holds retry and timeout settings.
type EmbeddingClientConfig struct {
	MaxRetries  int           // retries after the first attempt
	BackoffBase time.Duration // first 5xx/network backoff, doubled per retry
	BackoffMax  time.Duration
	CallTimeout time.Duration // per provider request

	// Sleep overrides the backoff wait (tests)
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// DefaultEmbeddingClientConfig returns the production retry settings.
func DefaultEmbeddingClientConfig() EmbeddingClientConfig {
	return EmbeddingClientConfig{
		MaxRetries:  3,
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
		CallTimeout: 60 * time.Second,
	}
}

// EmbeddingClient wraps an EmbeddingProvider with rate limiting, retries and
// response validation.
type EmbeddingClient struct {
	provider driven.EmbeddingProvider
	limiter  *ratelimit.Limiter
	cfg      EmbeddingClientConfig
	logger   *slog.Logger
}

// NewEmbeddingClient creates a client. The limiter is shared by every client
// of the process.
func NewEmbeddingClient(provider driven.EmbeddingProvider, limiter *ratelimit.Limiter, cfg EmbeddingClientConfig) *EmbeddingClient {
	defaults := DefaultEmbeddingClientConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaults.BackoffMax
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingClient{
		provider: provider,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Provider returns the wrapped provider
func (c *EmbeddingClient) Provider() driven.EmbeddingProvider {
	return c.provider
}

// Embed returns the vector of call.Text.
//
// Throttled calls escalate the key's cooldown and are retried once the limiter
// admits them again. Server and network failures are retried with exponential
// backoff. Rejected keys and bad requests fail immediately. After the retries
// are spent the error matches domain.ErrRateLimited or
// domain.ErrProviderUnavailable.
func (c *EmbeddingClient) Embed(ctx context.Context, call EmbedCall) (*domain.EmbeddingResult, error) {
	var result *domain.EmbeddingResult

	policy := retry.Policy{
		MaxAttempts: c.cfg.MaxRetries + 1,
		Classify: func(err error) retry.Decision {
			if ctx.Err() != nil {
				return retry.Fatal
			}
			return classifyProviderError(err)
		},
		Backoff: retry.Exponential(c.cfg.BackoffBase, c.cfg.BackoffMax, 0.2),
		Sleep:   c.cfg.Sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("embedding call failed, retrying",
				"provider", c.provider.Name(),
				"fingerprint", call.Fingerprint,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		},
	}

	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx, call.Fingerprint, call.Tier); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()

		res, err := c.provider.Embed(callCtx, call.APIKey, call.Model, call.Text)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				err = domain.NewTransportError(c.provider.Name(), err)
			}
			if errors.Is(err, domain.ErrRateLimited) {
				var pe *domain.ProviderError
				var retryAfter time.Duration
				if errors.As(err, &pe) {
					retryAfter = pe.RetryAfter
				}
				c.limiter.RecordThrottle(call.Fingerprint, retryAfter)
			}
			return err
		}

		if err := validateVector(res.Vector, c.provider.Dimensions(call.Model)); err != nil {
			return fmt.Errorf("%s: %w", c.provider.Name(), err)
		}
		c.limiter.RecordSuccess(call.Fingerprint)
		result = res
		return nil
	})
	if err != nil {
		return nil, c.finalError(ctx, err)
	}
	return result, nil
}

// classifyProviderError maps the error taxonomy onto retry decisions.
func classifyProviderError(err error) retry.Decision {
	switch {
	case errors.Is(err, context.Canceled):
		return retry.Fatal
	case errors.Is(err, domain.ErrRateLimited):
		return retry.Immediate
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidInput):
		return retry.Fatal
	default:
		return retry.Backoff
	}
}

func (c *EmbeddingClient) finalError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrProviderUnavailable):
		return err
	default:
		// Malformed responses and unclassified failures
		return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
}

func validateVector(vector []float32, dimensions int) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrMalformedResponse)
	}
	if dimensions > 0 && len(vector) != dimensions {
		return fmt.Errorf("%w: got %d dimensions, expected %d", domain.ErrMalformedResponse, len(vector), dimensions)
	}
	for i, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value at %d", domain.ErrMalformedResponse, i)
		}
	}
	return nil
}
