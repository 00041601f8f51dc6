package haul

import "errors"

// Sentinel errors for common failure conditions.
var (
	// ErrNotFound indicates the requested asset does not exist in the
	// vault.
	ErrNotFound = errors.New("asset not found")

	// ErrChecksumMismatch indicates transferred content did not match
	// its expected digest.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrBadIndex indicates a vault index document could not be parsed.
	ErrBadIndex = errors.New("invalid vault index")
)
