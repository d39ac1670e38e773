package common

import (
	"errors"
	"fmt"
)

// ProtocolErrType enumerates the outcomes of the learning and policy protocols
// that callers need to tell apart.
type ProtocolErrType uint32

const (
	// InvalidIdentity means a node record failed the address or signature
	// check. The record is quarantined.
	InvalidIdentity ProtocolErrType = iota
	// Stale means a record was not newer than the one already known. It is a
	// normal convergence outcome.
	Stale
	// Unreachable means a peer did not answer in time or could not be dialed.
	Unreachable
	// InsufficientArrangements means a grant collected fewer than m
	// acceptances. Nothing was published.
	InsufficientArrangements
	// NotEnoughTeachers means there is no known node to ask.
	NotEnoughTeachers
	// InvalidArgument means the caller passed malformed input.
	InvalidArgument
	// NotFound means no peer could provide the requested item.
	NotFound
	// Rejected means a peer refused a request.
	Rejected
)

// String returns the name of the error kind.
func (t ProtocolErrType) String() string {
	switch t {
	case InvalidIdentity:
		return "InvalidIdentity"
	case Stale:
		return "Stale"
	case Unreachable:
		return "Unreachable"
	case InsufficientArrangements:
		return "InsufficientArrangements"
	case NotEnoughTeachers:
		return "NotEnoughTeachers"
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// ProtocolErr is a typed protocol failure with a free-form detail message.
type ProtocolErr struct {
	errType ProtocolErrType
	detail  string
}

// NewProtocolErr creates a ProtocolErr. The detail is formatted like
// fmt.Sprintf.
func NewProtocolErr(t ProtocolErrType, format string, args ...interface{}) ProtocolErr {
	return ProtocolErr{
		errType: t,
		detail:  fmt.Sprintf(format, args...),
	}
}

// Type returns the kind of the error.
func (e ProtocolErr) Type() ProtocolErrType {
	return e.errType
}

// Error implements the error interface.
func (e ProtocolErr) Error() string {
	if e.detail == "" {
		return e.errType.String()
	}
	return fmt.Sprintf("%s: %s", e.errType, e.detail)
}

// IsProtocol checks that an error is, or wraps, a ProtocolErr of the given
// kind.
func IsProtocol(err error, t ProtocolErrType) bool {
	var protoErr ProtocolErr
	return errors.As(err, &protoErr) && protoErr.errType == t
}
