// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates no stored data matches the request.
	ErrNotFound = errors.New("not found")

	// ErrDeviceOffline indicates the vendor reports the station offline.
	ErrDeviceOffline = errors.New("device offline")

	// ErrEmptyRecord indicates a candidate record with no physical fields set.
	ErrEmptyRecord = errors.New("record carries no measurements")

	// ErrDuplicate indicates a record was dropped by duplicate suppression.
	ErrDuplicate = errors.New("duplicate record")

	// ErrNoTimestamp indicates a row or blob with no usable timestamp.
	ErrNoTimestamp = errors.New("no usable timestamp")

	// ErrAmbiguousValue indicates a decoded value that matches several
	// physical quantities and carries no field-name hint to pick one.
	ErrAmbiguousValue = errors.New("ambiguous value")
)
