package receivers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/message"
)

const (
	webhookTimeout            = 30 * time.Second
	webhookMaxRetries         = 3
	webhookBaseBackoff        = time.Second
	circuitBreakerMinRequests = 10
	circuitBreakerRatio       = 0.5
	circuitBreakerOpenTimeout = 5 * time.Second
)

// WebhookInitOptions configures the webhook receiver's constructor state:
// the shared HMAC secret used to sign an optional bearer token, and the
// send rate of this receiver instance, one limiter shared by every URL the
// instance delivers to (distinct from C4's per-host fetch pacer; this
// throttles outbound deliveries, not inbound fetches).
type WebhookInitOptions struct {
	JWTSecret       string  `mapstructure:"jwt_secret"`
	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec"`
}

func (WebhookInitOptions) Validate() error { return nil }

// WebhookCallOptions carries the per-stream destination.
type WebhookCallOptions struct {
	URL string `mapstructure:"url"`
}

func (o *WebhookCallOptions) Validate() error {
	if o.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

type webhookReceiver struct {
	client         *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	limiter        *rate.Limiter
	jwtSecret      []byte
}

func newWebhookReceiver(_ context.Context, initOpts handler.Options) (handler.Handler, error) {
	opts, ok := initOpts.(*WebhookInitOptions)
	if !ok {
		return nil, fmt.Errorf("receivers/webhook: unexpected init options type %T", initOpts)
	}

	var limiter *rate.Limiter
	if opts.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitPerSec), 1)
	}

	w := &webhookReceiver{
		client:    &http.Client{Timeout: webhookTimeout},
		limiter:   limiter,
		jwtSecret: []byte(opts.JWTSecret),
	}
	w.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "webhook-receiver",
		Timeout: circuitBreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < circuitBreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= circuitBreakerRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("receivers/webhook: circuit breaker state changed", "name", name, "from", from, "to", to)
		},
	})
	return w, nil
}

func (w *webhookReceiver) Call(ctx context.Context, callOptions handler.Options, payload any) (any, error) {
	opts, ok := callOptions.(*WebhookCallOptions)
	if !ok {
		return nil, fmt.Errorf("receivers/webhook: unexpected options type %T", callOptions)
	}
	messages, ok := payload.([]message.Message)
	if !ok {
		return nil, fmt.Errorf("receivers/webhook: unexpected payload type %T", payload)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("receivers/webhook: rate limit wait: %w", err)
		}
	}

	_, err := w.circuitBreaker.Execute(func() (any, error) {
		return nil, w.sendWithRetry(ctx, opts.URL, messages)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("receivers/webhook: circuit open: %w", err)
		}
		return nil, err
	}
	return nil, nil
}

func (w *webhookReceiver) sendWithRetry(ctx context.Context, url string, messages []message.Message) error {
	var lastErr error
	for attempt := 1; attempt <= webhookMaxRetries; attempt++ {
		err := w.sendOnce(ctx, url, messages)
		if err == nil {
			return nil
		}
		lastErr = err

		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && statusErr.code >= 400 && statusErr.code < 500 && statusErr.code != http.StatusTooManyRequests {
			return err // config-shaped error, not worth retrying
		}

		if attempt < webhookMaxRetries {
			backoff := time.Duration(attempt) * webhookBaseBackoff
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}

type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

func (w *webhookReceiver) sendOnce(ctx context.Context, url string, messages []message.Message) error {
	body, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if len(w.jwtSecret) > 0 {
		token, err := w.signBearerToken()
		if err != nil {
			return fmt.Errorf("signing bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &httpStatusError{code: resp.StatusCode}
	}
	return nil
}

func (w *webhookReceiver) signBearerToken() (string, error) {
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(w.jwtSecret)
}

func init() {
	handler.Register(handler.Registration{
		Kind:           handler.KindReceiver,
		Name:           "webhook",
		NewInitOptions: func() handler.Options { return &WebhookInitOptions{} },
		Construct:      newWebhookReceiver,
		NewCallOptions: func() handler.Options { return &WebhookCallOptions{} },
	})
}
