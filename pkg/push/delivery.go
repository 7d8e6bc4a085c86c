package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/taskmesh/runtime/pkg/log"
	"github.com/taskmesh/runtime/pkg/metrics"
	"github.com/taskmesh/runtime/pkg/types"
)

// DeliveryTimeout bounds a single webhook POST attempt (§4.2, §5).
const DeliveryTimeout = 10 * time.Second

const (
	deliveryMaxAttempts  = 3
	deliveryBaseInterval = 500 * time.Millisecond
	deliveryMaxInterval  = 10 * time.Second
)

// Deliverer dispatches one PushEvent to one webhook destination.
type Deliverer interface {
	Deliver(ctx context.Context, cfg types.WebhookConfig, event types.PushEvent) error
}

// permanentHTTPError marks a 4xx response: recorded, never retried (§4.2).
type permanentHTTPError struct {
	statusCode int
}

func (e *permanentHTTPError) Error() string {
	return fmt.Sprintf("webhook returned non-retryable status %d", e.statusCode)
}

// HTTPDeliverer is the default Deliverer: an HTTP POST per event, retried
// with exponential backoff on 5xx/network errors, with a circuit breaker
// per destination URL so a persistently failing webhook stops consuming
// retry budget from every subsequent event.
type HTTPDeliverer struct {
	client   *http.Client
	logger   zerolog.Logger
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHTTPDeliverer constructs an HTTPDeliverer.
func NewHTTPDeliverer() *HTTPDeliverer {
	return &HTTPDeliverer{
		client:   &http.Client{Timeout: DeliveryTimeout},
		logger:   log.WithComponent("push.delivery"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (d *HTTPDeliverer) breakerFor(url string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.breakers[url]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn().Str("url", name).Str("from", from.String()).Str("to", to.String()).Msg("webhook circuit breaker state change")
		},
	})
	d.breakers[url] = b
	return b
}

// Deliver implements Deliverer.
func (d *HTTPDeliverer) Deliver(ctx context.Context, cfg types.WebhookConfig, event types.PushEvent) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WebhookDeliveryDuration)

	body, err := json.Marshal(event)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("push: marshal event: %w", err)
	}

	breaker := d.breakerFor(cfg.URL)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = deliveryBaseInterval
	b.MaxInterval = deliveryMaxInterval
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(b, deliveryMaxAttempts-1), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		_, breakerErr := breaker.Execute(func() (any, error) {
			return nil, d.post(ctx, cfg, body)
		})
		if breakerErr != nil {
			var permErr *permanentHTTPError
			if errors.As(breakerErr, &permErr) {
				return backoff.Permanent(breakerErr)
			}
			if errors.Is(breakerErr, gobreaker.ErrOpenState) || errors.Is(breakerErr, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(breakerErr)
			}
			d.logger.Warn().Err(breakerErr).Str("url", cfg.URL).Int("attempt", attempt).Msg("webhook delivery attempt failed")
		}
		return breakerErr
	}, bo)

	switch {
	case err == nil:
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.WebhookDeliveriesTotal.WithLabelValues("breaker_open").Inc()
		return err
	default:
		if attempt > 1 {
			metrics.WebhookDeliveriesTotal.WithLabelValues("retried").Inc()
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		return err
	}
}

func (d *HTTPDeliverer) post(ctx context.Context, cfg types.WebhookConfig, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("push: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("push: webhook returned status %d", resp.StatusCode)
	default:
		return &permanentHTTPError{statusCode: resp.StatusCode}
	}
}
