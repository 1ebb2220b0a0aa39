package document

import "errors"

// Shared failure classes for document operations. Services wrap these with
// fmt.Errorf("%w: ...") so transports can classify with errors.Is while
// messages stay specific.
var (
	// ErrForbidden: the caller is authenticated but does not own the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrIllegalTransition: the operation asks for a state change the
	// lifecycle does not permit (voiding a draft, completing twice). The
	// request was well-formed; the document's current status rejects it.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrValidation: the request itself is unacceptable (missing title,
	// unknown field type, unsatisfied required fields, out-of-turn signing).
	ErrValidation = errors.New("validation failed")
)
