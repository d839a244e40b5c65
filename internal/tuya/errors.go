package tuya

import (
	"errors"
	"fmt"
)

// Vendor error codes that matter for remediation. Signature and token codes
// mean the protocol implementation is wrong; permission codes mean the device
// is not linked to the cloud project.
const (
	codeSecretInvalid   = 1001
	codeSignInvalid     = 1004
	codeTokenExpired    = 1010
	codeTokenInvalid    = 1011
	codeTokenStateWrong = 1012
	codePermissionDeny  = 1106
	codeDeviceNotBound  = 2007
)

// APIError is a vendor-reported failure ({success:false, code, msg}).
// The vendor code is preserved verbatim so callers can tell a broken
// signature from a provisioning problem.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tuya api error %d: %s", e.Code, e.Msg)
}

// IsAuth reports whether the failure is an authentication rejection
// (bad signature or unusable token). Never retried.
func (e *APIError) IsAuth() bool {
	switch e.Code {
	case codeSecretInvalid, codeSignInvalid, codeTokenExpired, codeTokenInvalid, codeTokenStateWrong:
		return true
	}
	return false
}

// IsProvisioning reports whether the failure is an account or device-linking
// problem rather than a protocol bug.
func (e *APIError) IsProvisioning() bool {
	return e.Code == codePermissionDeny || e.Code == codeDeviceNotBound
}

// AsAPIError unwraps err to an *APIError if one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
