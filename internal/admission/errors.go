package admission

import "errors"

// Rejections returned by the Service. Each is wrapped with a readable
// reason, so callers check with errors.Is and show err.Error() to users.
var (
	ErrNoDestination            = errors.New("no destination")
	ErrTenantQuotaExceeded      = errors.New("tenant feed limit reached")
	ErrMultipleNotAllowed       = errors.New("destination allows a single feed")
	ErrDestinationQuotaExceeded = errors.New("destination feed limit reached")
	ErrInvalidURL               = errors.New("invalid feed url")

	ErrUnknownAsset        = errors.New("unknown asset")
	ErrUpstreamUnavailable = errors.New("price service unavailable")
	ErrInvalidCondition    = errors.New("invalid condition")
	ErrInvalidTarget       = errors.New("invalid target price")

	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNotOwner        = errors.New("not the owner")
	ErrNotFound        = errors.New("not found")

	ErrInvalidLimit     = errors.New("invalid limit")
	ErrIntervalTooShort = errors.New("interval too short")
	ErrEmptyKeyword     = errors.New("empty keyword")
	ErrKeywordExists    = errors.New("keyword already present")
	ErrKeywordNotFound  = errors.New("keyword not found")
	ErrAlreadyManager   = errors.New("already a manager")
	ErrNotManager       = errors.New("not a manager")
)
