// Package launcherr implements the error taxonomy the worker and
// message handler classify peer/protocol failures into (spec §7):
// TransientPeerError, NodeUnreachable, InvalidCredential,
// ProtocolError, AuthFailure, CancelRequested, Timeout, and
// FatalInternal. Classification is by errors.As, never by string
// matching, matching the teacher's fmt.Errorf("...: %w", err) idiom
// throughout pkg/manager and pkg/worker.
package launcherr

import (
	"errors"
	"fmt"
)

// Kind identifies a taxonomy bucket independent of the wrapped cause.
type Kind int

const (
	KindTransientPeer Kind = iota
	KindNodeUnreachable
	KindInvalidCredential
	KindProtocol
	KindAuthFailure
	KindCancelRequested
	KindTimeout
	KindFatalInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransientPeer:
		return "transient_peer_error"
	case KindNodeUnreachable:
		return "node_unreachable"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindProtocol:
		return "protocol_error"
	case KindAuthFailure:
		return "auth_failure"
	case KindCancelRequested:
		return "cancel_requested"
	case KindTimeout:
		return "timeout"
	case KindFatalInternal:
		return "fatal_internal"
	default:
		return "unknown"
	}
}

// Error is the taxonomy's concrete error type. Node/Op are optional
// context fields populated by callers that know which node or
// operation failed.
type Error struct {
	Kind    Kind
	Node    string
	Op      string
	Err     error
	message string
}

func (e *Error) Error() string {
	msg := e.message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Node != "" {
		msg = fmt.Sprintf("%s: node %s", msg, e.Node)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Op)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, launcherr.Transient) style sentinel
// comparisons keyed only on Kind, ignoring Node/Op/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, node, op string, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Node: node, Op: op, Err: cause, message: fmt.Sprintf(format, args...)}
}

// Sentinel instances for errors.Is comparisons where no extra context
// is needed.
var (
	Transient         = &Error{Kind: KindTransientPeer}
	Unreachable       = &Error{Kind: KindNodeUnreachable}
	InvalidCredential = &Error{Kind: KindInvalidCredential}
	Protocol          = &Error{Kind: KindProtocol}
	AuthFailure       = &Error{Kind: KindAuthFailure}
	CancelRequested   = &Error{Kind: KindCancelRequested}
	Timeout           = &Error{Kind: KindTimeout}
	FatalInternal     = &Error{Kind: KindFatalInternal}
)

// TransientPeer wraps a transient RPC failure (timeout, interrupted
// send) that is retryable up to the worker's budget.
func TransientPeer(node string, cause error) error {
	return newf(KindTransientPeer, node, "", cause, "transient peer error")
}

// NodeUnreachable marks a node's retry budget exhausted or a
// non-retryable peer failure.
func NodeUnreachable(node string, cause error) error {
	return newf(KindNodeUnreachable, node, "", cause, "node unreachable")
}

// InvalidCred marks a non-retryable credential rejection.
func InvalidCred(node string, cause error) error {
	return newf(KindInvalidCredential, node, "", cause, "invalid credential")
}

// ProtocolErr marks a malformed reply or unknown message type.
func ProtocolErr(op string, cause error) error {
	return newf(KindProtocol, "", op, cause, "protocol error")
}

// Auth marks an inbound callback whose sender uid failed validation.
func Auth(op string, cause error) error {
	return newf(KindAuthFailure, "", op, cause, "auth failure")
}

// Cancel marks an operation aborted by user cancellation.
func Cancel(op string) error {
	return newf(KindCancelRequested, "", op, nil, "cancel requested")
}

// TimedOut marks a deadline expiry.
func TimedOut(op string, cause error) error {
	return newf(KindTimeout, "", op, cause, "timed out")
}

// Fatal marks an unrecoverable internal failure (allocation failure
// in the pool, pipe I/O failure) that aborts the process after
// logging.
func Fatal(op string, cause error) error {
	return newf(KindFatalInternal, "", op, cause, "fatal internal error")
}

// KindOf extracts the taxonomy Kind from err, if it (or something it
// wraps) is a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Retryable reports whether err's kind is one the worker should
// retry given remaining budget: only TransientPeer qualifies.
// InvalidCredential and ProtocolError are explicitly non-retryable
// per spec §4.4 step 4 and §7.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTransientPeer
}
