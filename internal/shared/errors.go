package shared

import "errors"

// Error kinds surfaced by the core. Callers match them with errors.Is; the
// transport layer maps each kind to a distinct response.
var (
	// ErrNotFound indicates an id reference that does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates an authorization failure.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates an invariant violation such as removing the last admin.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput indicates a missing or malformed required field.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
