// Package mrtd implements the ICAO Doc 9303 access-control and
// secure-channel engine: BAC, PACE and Chip Authentication over an ISO 7816
// transport, the secure-messaging wrappers they negotiate, the adaptive
// elementary-file reading layer, and the session state machine that
// sequences card access, chip authentication and passive authentication.
package mrtd

import (
	"errors"
	"fmt"

	"github.com/gregLibert/mrtd/pkg/iso7816"
)

// Three failure families cross the package boundary, and callers must be
// able to tell them apart: transport failures (retry by re-presenting the
// document), protocol failures (diagnostic, carries the failing step), and
// security failures (reject the document, never relax and retry).

// TransportError wraps a failure of the physical card link.
type TransportError struct {
	Op    string
	Lost  bool // connection/tag loss as classified by the transport
	Cause error
}

func (e *TransportError) Error() string {
	if e.Lost {
		return fmt.Sprintf("transport %s: connection lost: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ProtocolError is a fatal protocol-level failure: an unexpected status
// word, malformed secure-messaging objects, or a desynchronized channel.
type ProtocolError struct {
	Protocol string // "BAC", "PACE", "CA", "SM", "FS"
	Step     int    // protocol step number, 0 when not applicable
	Status   iso7816.StatusWord
	Message  string
	Cause    error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s step %d: %s", e.Protocol, e.Step, e.Message)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %s)", e.Status.Verbose())
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// SecurityError is a security-significant failure: a mutual-authentication
// token mismatch, a secure-messaging MAC failure, or a passive
// authentication mismatch. A document producing one must be rejected.
type SecurityError struct {
	Check   string // "pace-token", "sm-mac", "sod-signature", "dg-hash", ...
	Message string
	Cause   error
}

func (e *SecurityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("security check %s failed: %s: %v", e.Check, e.Message, e.Cause)
	}
	return fmt.Sprintf("security check %s failed: %s", e.Check, e.Message)
}

func (e *SecurityError) Unwrap() error { return e.Cause }

// IsSecurityError reports whether err (or anything it wraps) is a
// SecurityError.
func IsSecurityError(err error) bool {
	var se *SecurityError
	return errors.As(err, &se)
}

// IsTransportError reports whether err (or anything it wraps) is a
// TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ErrRetryShorterRead signals that a read was aborted because the card
// rejected the negotiated length; the file-system layer has already shrunk
// its block size and restored the wrapper, and the caller retries the same
// read. It is the only condition the engine resolves without failing.
var ErrRetryShorterRead = errors.New("mrtd: card rejected read length, retry with shrunk block size")
