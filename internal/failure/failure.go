/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package failure holds the closed set of error kinds every objgate component
// reports through, and the pure mapping from a kind to a caller-visible outcome.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Kind identifies where a failure originated.
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindBuildURL
	KindCredential
	KindTransport
	KindRemoteStorage
	KindLocalIO
)

// Kinds lists every kind in the taxonomy.
var Kinds = []Kind{
	KindInvalidInput,
	KindBuildURL,
	KindCredential,
	KindTransport,
	KindRemoteStorage,
	KindLocalIO,
}

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindBuildURL:
		return "build url"
	case KindCredential:
		return "credential"
	case KindTransport:
		return "transport"
	case KindRemoteStorage:
		return "remote storage"
	case KindLocalIO:
		return "local io"
	default:
		return "unknown"
	}
}

// Outcome is the two-valued severity a caller acts on.
type Outcome int

const (
	ClientError Outcome = iota + 1
	ServerError
)

func (o Outcome) String() string {
	if o == ClientError {
		return "client-error"
	}
	return "server-error"
}

// HTTPStatus returns the status code a gateway response uses for the outcome.
func (o Outcome) HTTPStatus() int {
	if o == ClientError {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Fallback text used when a remote service omits its error code or message.
const (
	UnknownCode   = "unknown code"
	MissingReason = "missing reason"
)

// Error is the only error value that crosses a component boundary.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "put object".
	Op string
	// Code and Message are the remote-provided error code and text, if any.
	Code    string
	Message string
	// Detail is diagnostic text. It must not carry credentials or session names.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	_, msg := Classify(e.Kind, e.Op, e.Code, e.Message, e.Detail)
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Outcome returns the outcome class of the error's kind.
func (e *Error) Outcome() Outcome {
	out, _ := Classify(e.Kind, e.Op, e.Code, e.Message, e.Detail)
	return out
}

// Classify maps a kind and its diagnostic parts to an outcome and a message.
// It performs no I/O.
func Classify(kind Kind, op, code, message, detail string) (Outcome, string) {
	var outcome Outcome
	switch kind {
	case KindInvalidInput, KindBuildURL:
		outcome = ClientError
	default:
		outcome = ServerError
	}

	message = redactPrincipals(message)
	detail = redactPrincipals(detail)

	msg := kind.String()
	if op != "" {
		msg += ": " + op
	}
	switch kind {
	case KindRemoteStorage:
		if code == "" {
			code = UnknownCode
		}
		if message == "" {
			message = MissingReason
		}
		msg += ": " + code + ": " + message
	case KindCredential:
		// Credential failures only ever expose the provider's error code.
		if code != "" {
			msg += ": " + code
		}
		return outcome, msg
	}
	if detail != "" {
		msg += ": " + detail
	}
	return outcome, msg
}

// Redacted replaces each value that appears in the message or detail of a
// taxonomy error, used for identity strings such as a role ARN or session
// name. Other errors and empty values are left alone.
func Redacted(err error, values ...string) error {
	var fe *Error
	if !errors.As(err, &fe) {
		return err
	}
	out := *fe
	for _, v := range values {
		if v == "" {
			continue
		}
		out.Message = strings.ReplaceAll(out.Message, v, redactedText)
		out.Detail = strings.ReplaceAll(out.Detail, v, redactedText)
	}
	return &out
}

const redactedText = "[redacted]"

var (
	// arn:partition:service:region:account:resource
	arnPattern = regexp.MustCompile(`arn:aws[a-z-]*:[a-z0-9-]*:[a-z0-9-]*:[0-9]*:[^\s,;"']+`)
	// assumed-role/<role>/<session> principals without their ARN prefix
	principalPattern = regexp.MustCompile(`assumed-role/[^\s,;"']+`)
)

// redactPrincipals strips ARNs and assumed-role principals, which carry the
// role and session name, from remote-provided text.
func redactPrincipals(s string) string {
	if !strings.Contains(s, "arn:") && !strings.Contains(s, "assumed-role/") {
		return s
	}
	s = arnPattern.ReplaceAllString(s, redactedText)
	return principalPattern.ReplaceAllString(s, redactedText)
}

// Resolve turns any error into an outcome and a message suitable for display.
// Errors outside the taxonomy resolve to a generic server error.
func Resolve(err error) (Outcome, string) {
	if err == nil {
		return 0, ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return Classify(fe.Kind, fe.Op, fe.Code, fe.Message, fe.Detail)
	}
	return ServerError, "internal error"
}

// KindOf reports the kind of err, or 0 when err is not a taxonomy error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// Is reports whether err is a taxonomy error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// InvalidInput reports a caller-supplied value that fails validation.
func InvalidInput(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// BuildURL reports a URL that could not be built from its inputs.
func BuildURL(op string, err error) *Error {
	return &Error{Kind: KindBuildURL, Op: op, Detail: errText(err), Err: err}
}

// Credential reports a failed role assumption or token retrieval. Only code is
// surfaced; err is kept for logging by the component that owns it.
func Credential(op, code string, err error) *Error {
	return &Error{Kind: KindCredential, Op: op, Code: code, Err: err}
}

// Transport reports a network failure reaching a remote service or source.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Detail: errText(err), Err: err}
}

// Remote reports a rejection or failure returned by the remote storage service.
func Remote(op, code, message string, err error) *Error {
	if code == "" {
		code = UnknownCode
	}
	if message == "" {
		message = MissingReason
	}
	return &Error{Kind: KindRemoteStorage, Op: op, Code: code, Message: message, Err: err}
}

// LocalIO reports a local file create, read or write failure.
func LocalIO(op string, err error) *Error {
	return &Error{Kind: KindLocalIO, Op: op, Detail: errText(err), Err: err}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
