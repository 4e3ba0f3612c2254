package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultDeadline = 10 * time.Minute
	requestTimeout  = 10 * time.Second
	baseDelay       = time.Second
	maxDelay        = 60 * time.Second
)

// ErrDeliveryTimeout is returned when the callback never acknowledged the
// result before the overall deadline.
var ErrDeliveryTimeout = errors.New("evaluation callback not acknowledged before deadline")

// Notifier delivers build outcomes to evaluation callbacks, retrying with
// capped exponential backoff until acknowledged or the deadline passes.
type Notifier struct {
	deadline   time.Duration
	baseDelay  time.Duration
	httpClient *http.Client
}

// New creates a notifier. A non-positive deadline falls back to 10 minutes.
func New(deadline time.Duration) *Notifier {
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	return &Notifier{
		deadline:  deadline,
		baseDelay: baseDelay,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Deliver POSTs the payload as JSON until the callback answers 200. Any other
// status or transport error schedules a retry after the current backoff
// delay, which starts at one second and doubles up to the 60-second cap.
func (n *Notifier) Deliver(ctx context.Context, callbackURL string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	deadline := time.Now().Add(n.deadline)
	delay := n.baseDelay

	for time.Now().Before(deadline) {
		if err := n.post(ctx, callbackURL, body); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = nextDelay(delay)
	}

	return ErrDeliveryTimeout
}

func (n *Notifier) post(ctx context.Context, callbackURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("notification rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return nil
}

// nextDelay doubles the backoff, capped at 60 seconds.
func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxDelay {
		return maxDelay
	}
	return d
}
