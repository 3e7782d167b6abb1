package feedback

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotFoundOrInactive means the entity is unknown, cancelled, or
	// terminated. Callers must not learn which.
	ErrNotFoundOrInactive = eris.New("feedback: entity not found or inactive")

	// ErrDuplicateSubmission means the same actor already submitted about the
	// same entity inside the duplicate window.
	ErrDuplicateSubmission = eris.New("feedback: duplicate submission inside window")
)

// ValidationError is a user-correctable problem with a submission.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "feedback: invalid submission: " + e.Message
	}
	return fmt.Sprintf("feedback: invalid %s: %s", e.Field, e.Message)
}

// UpstreamError means a collaborator store could not answer. The detail is for
// logs; callers should report a generic internal error.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("feedback: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
