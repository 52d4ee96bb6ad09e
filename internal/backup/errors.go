package backup

import "errors"

// Error taxonomy shared by every backup and restore component. Callers
// classify failures with errors.Is.
var (
	// ErrConfiguration reports missing or invalid connection information.
	ErrConfiguration = errors.New("configuration error")
	// ErrExternalTool reports a dump utility that exited non-zero or timed out.
	ErrExternalTool = errors.New("external tool failure")
	// ErrStorage reports an object store list/upload/download/delete failure.
	ErrStorage = errors.New("storage error")
	// ErrCorruptArchive reports an artifact that cannot be decoded or whose
	// contents contradict its own metadata.
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrSchemaMismatch reports an envelope with an unsupported schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrAccessDenied reports a request for an artifact owned by another tenant.
	ErrAccessDenied = errors.New("access denied")
	// ErrTransaction reports a restore whose apply transaction rolled back.
	ErrTransaction = errors.New("transaction failure")
	// ErrLeaseUnavailable reports that the per-tenant lease could not be taken.
	ErrLeaseUnavailable = errors.New("lease unavailable")
)
