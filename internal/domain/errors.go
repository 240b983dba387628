package domain

import "errors"

// Domain errors represent the failure conditions of a transfer run.
// They are wrapped with the failing step and matched with errors.Is.
var (
	// Address and session errors
	ErrInvalidAddress       = errors.New("invalid address")
	ErrSessionEstablishment = errors.New("failed to establish session")

	// Pipeline errors
	ErrExport       = errors.New("image export failed")
	ErrEmptyArchive = errors.New("extracted archive is empty")
	ErrHook         = errors.New("hook failed")

	// Inventory errors (non-fatal, the run falls back to a full transfer)
	ErrInventoryUnavailable = errors.New("layer inventory unavailable")

	// Archive errors
	ErrManifestMismatch = errors.New("manifest layers do not match config diff ids")
	ErrManifestNotFound = errors.New("manifest not found")

	// Transfer errors (non-fatal, logged as a warning)
	ErrTransferSizeMismatch = errors.New("transferred size mismatch")

	// Execution channel errors
	ErrExecution = errors.New("command execution failed")
	ErrIO        = errors.New("i/o failure")

	// Config errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
