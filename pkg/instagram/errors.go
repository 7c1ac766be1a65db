package instagram

import (
	"errors"
	"fmt"
)

// Sentinel errors callers branch on. They are wrapped by APIError so that
// errors.Is works against both.
var (
	// ErrAuthExpired means the access token is invalid or expired and a
	// human has to renew it; retrying is pointless.
	ErrAuthExpired = errors.New("instagram access token invalid or expired")
	// ErrRateLimited means the Graph API throttled us for this window.
	ErrRateLimited = errors.New("instagram api rate limited")
	// ErrMediaNotReady means the container is still processing and the
	// publish step can be retried shortly.
	ErrMediaNotReady = errors.New("instagram media container not ready")
)

// Graph API error codes observed in production.
const (
	codeAuthExpired   = 190
	codeRateLimited   = 4
	codeUserRateLimit = 17
	codePageRateLimit = 32
	codeMediaNotReady = 9007
)

// APIError is a structured Graph API failure.
type APIError struct {
	HTTPStatus int
	Code       int
	Subcode    int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("instagram api error %d (code %d): %s", e.HTTPStatus, e.Code, e.Message)
}

// Unwrap maps well-known Graph error codes onto the sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case codeAuthExpired:
		return ErrAuthExpired
	case codeRateLimited, codeUserRateLimit, codePageRateLimit:
		return ErrRateLimited
	case codeMediaNotReady:
		return ErrMediaNotReady
	}
	if e.HTTPStatus == 429 {
		return ErrRateLimited
	}
	return nil
}
