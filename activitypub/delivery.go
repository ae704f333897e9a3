package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
)

// DeliveryResult is the outcome of one signed POST to an inbox.
type DeliveryResult struct {
	StatusCode int
	Err        error
}

// Retryable reports whether the delivery should be tried again later.
// Network errors, 5xx, 408 and 429 are transient; any other 4xx means the
// receiver will never accept the activity.
func (r DeliveryResult) Retryable() bool {
	if r.Err != nil {
		return true
	}
	switch {
	case r.StatusCode >= 200 && r.StatusCode < 300:
		return false
	case r.StatusCode == http.StatusRequestTimeout, r.StatusCode == http.StatusTooManyRequests:
		return true
	case r.StatusCode >= 400 && r.StatusCode < 500:
		return false
	default:
		return true
	}
}

func (r DeliveryResult) Succeeded() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r DeliveryResult) String() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return fmt.Sprintf("status %d", r.StatusCode)
}

// Deliver signs body with the actor key and POSTs it to inbox.
func Deliver(ctx context.Context, client *http.Client, inbox string, body []byte, key *rsa.PrivateKey, keyId, userAgent string) DeliveryResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", userAgent)

	if err := SignRequest(req, body, key, keyId); err != nil {
		return DeliveryResult{Err: fmt.Errorf("failed to sign request: %w", err)}
	}

	resp, err := client.Do(req)
	if err != nil {
		return DeliveryResult{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxBodySize))

	return DeliveryResult{StatusCode: resp.StatusCode}
}
