package bloom

import "github.com/pkg/errors"

// Kind is the error taxonomy from spec §4.G / §7.
type Kind int

const (
	KindIo Kind = iota
	KindParse
	KindConfigInvalid
	KindDependencyCycle
	KindUnknownDependency
	KindAlreadyRegistered
	KindNotFound
	KindServiceFailed
	KindLaunchFailed
	KindStopFailed
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindIo:
		return "Io"
	case KindParse:
		return "Parse"
	case KindConfigInvalid:
		return "ConfigInvalid"
	case KindDependencyCycle:
		return "DependencyCycle"
	case KindUnknownDependency:
		return "UnknownDependency"
	case KindAlreadyRegistered:
		return "AlreadyRegistered"
	case KindNotFound:
		return "NotFound"
	case KindServiceFailed:
		return "ServiceFailed"
	case KindLaunchFailed:
		return "LaunchFailed"
	case KindStopFailed:
		return "StopFailed"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is a typed, wrappable error carrying a Kind alongside the usual
// pkg/errors stack-trace-bearing cause chain.
type Error struct {
	Kind    Kind
	Names   []string // populated by WithNames: the service names involved
	cause   error
	message string
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Kind.String() + ": " + e.message + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a Kind-tagged error with a message, wrapped through
// pkg/errors so callers get a stack trace at the construction site.
func New(kind Kind, message string) error {
	return errors.WithStack(&Error{Kind: kind, message: message})
}

// Wrap attaches a Kind and message to an existing error.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, cause: err, message: message})
}

// WithNames is used for DependencyCycle / UnknownDependency /
// AlreadyRegistered / NotFound, which carry the offending service names.
func WithNames(kind Kind, message string, names ...string) error {
	return errors.WithStack(&Error{Kind: kind, message: message, Names: names})
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if be, ok := err.(*Error); ok && be.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
