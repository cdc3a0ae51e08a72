package ai

import (
	"context"
	"net"
	"net/url"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// Sentinel errors for failure classes the caller may branch on. Transient
// classes (rate limit, timeout, connection) are retried by the service.
var (
	ErrRateLimited   = errors.New("ai: rate limited")
	ErrTimeout       = errors.New("ai: request timeout")
	ErrConnection    = errors.New("ai: connection failed")
	ErrEmptyResponse = errors.New("ai: empty response from model")
)

// ParseError reports model output that could not be interpreted as the
// expected JSON object.
type ParseError struct {
	Reason  string
	Content string
}

func (e *ParseError) Error() string {
	snippet := e.Content
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return "ai: failed to parse model response: " + e.Reason + ": " + snippet
}

// classifyError maps transport and API errors to the sentinel classes,
// wrapping so the original cause stays inspectable.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return errors.Wrap(ErrRateLimited, err.Error())
		case apiErr.HTTPStatusCode >= 500:
			return errors.Wrap(ErrConnection, err.Error())
		default:
			return err
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errors.Wrap(ErrTimeout, err.Error())
		}
		return errors.Wrap(ErrConnection, err.Error())
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return errors.Wrap(ErrConnection, err.Error())
	}

	return err
}

// isRetryable reports whether the classified error is worth another
// attempt.
func isRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnection)
}
