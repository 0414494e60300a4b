// internal/gateway/retry.go
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
)

// RetryingSender retries transient send failures with bounded exponential
// backoff. Attempts counts the first try; 0 or 1 disables retrying.
type RetryingSender struct {
	Next            Sender
	Attempts        int
	InitialInterval time.Duration
}

func (s *RetryingSender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	if s.Attempts <= 1 {
		return s.Next.Send(ctx, msg)
	}

	var receipt *Receipt
	operation := func() error {
		r, err := s.Next.Send(ctx, msg)
		if err != nil {
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		receipt = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if s.InitialInterval > 0 {
		b.InitialInterval = s.InitialInterval
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.Attempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return receipt, nil
}

// isPermanent reports failures a retry cannot fix: missing credentials,
// a dead context, or a Twilio 21xxx request validation error.
func isPermanent(err error) bool {
	if errors.Is(err, appErrors.ErrGatewayNotConfigured) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sendErr *appErrors.SendError
	if errors.As(err, &sendErr) {
		return strings.HasPrefix(sendErr.Code, "21")
	}
	return false
}

var _ Sender = (*RetryingSender)(nil)
