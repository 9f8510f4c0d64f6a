package app

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuth          Kind = "auth"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindDelivery      Kind = "delivery"
	KindInternal      Kind = "internal"
)

// Error is the typed failure returned by App operations. Two Errors match
// under errors.Is when their codes are equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// withMessage returns a copy of e carrying a more specific message.
func (e *Error) withMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

// withKind returns a copy of e reclassified as kind.
func (e *Error) withKind(kind Kind) *Error {
	c := *e
	c.Kind = kind
	return &c
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrDomainRejected       = newError(KindValidation, "DomainRejected", "please use your institutional email address")
	ErrAlreadyRegistered    = newError(KindValidation, "AlreadyRegistered", "email already registered, please log in instead")
	ErrMissingFields        = newError(KindValidation, "MissingFields", "required fields are missing")
	ErrPasswordTooLong      = newError(KindValidation, "PasswordTooLong", "password must be at most 72 bytes")
	ErrInvalidOrExpiredCode = newError(KindValidation, "InvalidOrExpiredCode", "invalid or expired verification code")
	ErrUserNotFound         = newError(KindValidation, "UserNotFound", "user not found, please sign up first")
	ErrPasswordNotSet       = newError(KindValidation, "PasswordNotSet", "password not set, please sign up again")
	ErrInvalidPassword      = newError(KindValidation, "InvalidPassword", "invalid password")
	ErrDeliveryFailed       = newError(KindDelivery, "DeliveryFailed", "failed to send verification code")
	ErrUnauthenticated      = newError(KindAuth, "Unauthenticated", "not authenticated")
	ErrUserVanished         = newError(KindAuth, "UserVanished", "user not found")
	ErrForbidden            = newError(KindAuthorization, "Forbidden", "admin access required")
	ErrInvalidPolarity      = newError(KindValidation, "InvalidPolarity", "invalid vote type")
	ErrInvalidTargetKind    = newError(KindValidation, "InvalidTargetKind", "invalid vote target kind")
	ErrInvalidStatus        = newError(KindValidation, "InvalidStatus", "invalid status")
	ErrTargetNotFound       = newError(KindNotFound, "TargetNotFound", "target not found")
	ErrParentNotFound       = newError(KindNotFound, "ParentNotFound", "parent comment not found")
	ErrNestedReply          = newError(KindValidation, "NestedReply", "replies cannot be replied to")
	ErrVoteConflict         = newError(KindConflict, "VoteConflict", "vote changed concurrently, please retry")
	ErrInternal             = newError(KindInternal, "Internal", "internal error")
)

// internal wraps a storage or infrastructure failure. The cause is kept for
// logging and never rendered to clients.
func internal(op string, err error) error {
	c := *ErrInternal
	c.Err = fmt.Errorf("%s: %w", op, err)
	return &c
}

// KindOf returns the kind of err, KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicError returns the code and message safe to show a client.
func PublicError(err error) (code, message string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, e.Message
	}
	return ErrInternal.Code, ErrInternal.Message
}
