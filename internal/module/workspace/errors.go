package workspace

import "errors"

var (
	// ErrCaseNotFound is returned when a case does not exist or belongs to
	// another tenant.
	ErrCaseNotFound = errors.New("case not found")

	// ErrDocumentNotFound is returned when a document does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrMemberExists is returned when the invited email already has a seat.
	ErrMemberExists = errors.New("team member already exists")

	// ErrMemberNotFound is returned when a team member does not exist.
	ErrMemberNotFound = errors.New("team member not found")
)
