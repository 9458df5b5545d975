package blob

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by blob stores. Callers match them with errors.Is;
// the concrete error usually wraps one of these together with the cause.
var (
	ErrUnknownBackend = errors.New("unknown blob backend")
	ErrStorageConfig  = errors.New("invalid blob storage configuration")
	ErrRefMismatch    = errors.New("blob reference does not belong to this backend")
	ErrCreateStorage  = errors.New("cannot create blob storage")
	ErrReadStorage    = errors.New("cannot read blob storage")
	ErrWrite          = errors.New("cannot write blob")

	// ErrLocksFound means leftover lock files were found at initialisation.
	// Either a previous process crashed or another one shares the directory.
	ErrLocksFound = fmt.Errorf("%w: lock files present", ErrCreateStorage)

	// ErrAllocationExhausted means no bucket could be acquired within the
	// configured index range and number of attempts.
	ErrAllocationExhausted = fmt.Errorf("%w: bucket allocation exhausted", ErrCreateStorage)
)
