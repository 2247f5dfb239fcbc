package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	// ErrMissingIdentity blocks connecting without a configured callsign
	ErrMissingIdentity = errors.New("no station callsign configured; set station.callsign (dxmap config init) or pass --call")
	// ErrInvalidSessionState marks a credential prompt arriving out of order or without configuration
	ErrInvalidSessionState = errors.New("invalid session state")
	ErrNotConnected        = errors.New("not connected")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrBadAddress          = errors.New("cluster address must be host:port")
	errRetarget            = errors.New("switching cluster")
	errStale               = errors.New("no spots received, reconnecting")
)

// ErrorClass tells the session whether to reconnect or give up
type ErrorClass int

const (
	Recoverable ErrorClass = iota
	Fatal
)

func (c ErrorClass) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "recoverable"
}

// TransportError wraps a connection failure with its classification
type TransportError struct {
	Op    string
	Class ErrorClass
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Class, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Class: ClassifyError(err), Err: err}
}

// ClassifyError maps a transport failure to recoverable or fatal. Only
// cancellation, missing identity and malformed addresses are fatal; network,
// DNS and TLS failures all lead to a reconnect.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return Recoverable
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Class
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMissingIdentity) {
		return Fatal
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return Fatal
	}
	var parseErr *net.ParseError
	if errors.As(err, &parseErr) {
		return Fatal
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Recoverable
	}

	var recordErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &recordErr) || errors.As(err, &certErr) ||
		errors.As(err, &authErr) || errors.As(err, &hostErr) {
		return Recoverable
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, errStale) {
		return Recoverable
	}

	// Unknown failures are retried; the upstream is free-form and nothing it
	// sends should end the session.
	return Recoverable
}
