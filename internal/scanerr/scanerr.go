// Package scanerr defines the scan error taxonomy. Every failure that can
// surface to a caller is classified into one Kind; unexpected errors collapse
// into KindInternal with a generic message so internals never leak.
package scanerr

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
)

type Kind string

const (
	KindInvalidInput  Kind = "invalid_input"
	KindSSRFRejected  Kind = "ssrf_rejected"
	KindDNSFailure    Kind = "dns_failure"
	KindTimeout       Kind = "timeout"
	KindCanceled      Kind = "canceled"
	KindTLSError      Kind = "tls_error"
	KindConnection    Kind = "connection_error"
	KindResponseLarge Kind = "response_too_large"
	KindInternal      Kind = "internal_failure"
)

// Error is a classified scan error. Message is safe to show to callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the caller-facing text: the message without the wrapped
// cause for internal failures, message plus cause otherwise.
func (e *Error) UserMessage() string {
	if e.Kind == KindInternal {
		return "scan failed due to an internal error"
	}
	return e.Error()
}

// UserMessage extracts the caller-facing text from any error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.UserMessage()
	}
	return "scan failed due to an internal error"
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, or KindInternal if err carries none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// ClassifyTransport maps an error returned by an HTTP round trip onto the
// taxonomy. Already-classified errors pass through unchanged; anything
// unrecognized is treated as a connection error, mirroring how the transport
// reports most network-level failures.
func ClassifyTransport(err error) *Error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return se
	}

	// url.Error wraps the interesting cause; unwrap for inspection but keep
	// the original for %w chains.
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		if inner := ClassifyTransport(ue.Err); inner != nil {
			return inner
		}
	}

	if errors.Is(err, context.Canceled) {
		return Wrap(KindCanceled, "scan canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, "request timeout - site took too long to respond", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(KindTimeout, "request timeout - site took too long to respond", err)
	}

	if isTLSError(err) {
		return Wrap(KindTLSError, "SSL/TLS error", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Wrap(KindConnection, "DNS resolution failed", err)
	}

	return Wrap(KindConnection, "connection error", err)
}

func isTLSError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		certInvalid x509.CertificateInvalidError
		systemErr   x509.SystemRootsError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &recordErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostnameErr),
		errors.As(err, &certInvalid),
		errors.As(err, &systemErr):
		return true
	}
	return false
}
