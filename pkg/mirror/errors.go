package mirror

import "strings"

// ErrorKind classifies failures by how far they propagate.
type ErrorKind string

const (
	ConfigError     ErrorKind = "config"     // source list missing or corrupt; fatal
	AuthError       ErrorKind = "auth"       // login failed; fatal
	ResolutionError ErrorKind = "resolution" // account lookup failed; skips the source
	TransferError   ErrorKind = "transfer"   // media download failed; aborts the post
	ImageError      ErrorKind = "image"      // overlay failed; aborts the post
	PublishError    ErrorKind = "publish"    // remote publish rejected
	CleanupError    ErrorKind = "cleanup"    // scratch removal failed
)

// Error is a failure tagged with its kind and the source and operation it happened in.
type Error struct {
	Err    error
	Kind   ErrorKind
	Source string
	Op     string
}

// NewError wraps err with a kind. Source and Op may be empty.
func NewError(kind ErrorKind, source, op string, err error) *Error {
	return &Error{Kind: kind, Source: source, Op: op, Err: err}
}

func (e *Error) Error() string {
	parts := []string{string(e.Kind) + " error"}
	if e.Source != "" {
		parts = append(parts, e.Source)
	}
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
// Joined errors are searched too.
func IsKind(err error, kind ErrorKind) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *Error:
		return e.Kind == kind || IsKind(e.Err, kind)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if IsKind(inner, kind) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return IsKind(e.Unwrap(), kind)
	}
	return false
}
