package inference

import "errors"

var (
	ErrMissingCredentials  = errors.New("missing provider credentials")
	ErrProviderUnavailable = errors.New("inference provider unavailable")
	ErrInvalidResponse     = errors.New("inference provider returned invalid response")
	ErrPollTimeout         = errors.New("timeout")
)
