package signature

import (
	"fmt"

	"github.com/isometry/s3-authserver/internal/model"
)

// Reason is the specific cause of a rejected request. It is kept for
// operator diagnostics and never returned to the caller.
type Reason int

const (
	ReasonUnknownAccessKey Reason = iota + 1
	ReasonRequestExpired
	ReasonSignatureMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonUnknownAccessKey:
		return "unknown_access_key"
	case ReasonRequestExpired:
		return "request_expired"
	case ReasonSignatureMismatch:
		return "signature_mismatch"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Rejection is returned by Verify for a request that failed authentication.
// It unwraps to model.ErrAccessDenied only, so every reason classifies the
// same way at the protocol boundary.
type Rejection struct {
	Reason      Reason
	AccessKeyID string
	Cause       error
}

func (e *Rejection) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("request rejected: %s", e.Reason)
	}
	return fmt.Sprintf("request rejected: %s: %s", e.Reason, e.Cause)
}

func (e *Rejection) Unwrap() error {
	return model.ErrAccessDenied
}

func reject(reason Reason, accessKeyID string, cause error) *Rejection {
	return &Rejection{Reason: reason, AccessKeyID: accessKeyID, Cause: cause}
}
