package session

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, Recoverable},
		{"canceled", context.Canceled, Fatal},
		{"wrapped canceled", fmt.Errorf("dial: %w", context.Canceled), Fatal},
		{"missing identity", ErrMissingIdentity, Fatal},
		{"bad address", &net.AddrError{Err: "missing port in address", Addr: "cluster"}, Fatal},
		{"dns", &net.DNSError{Err: "no such host", Name: "cluster.invalid"}, Recoverable},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, Recoverable},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), Recoverable},
		{"eof", io.EOF, Recoverable},
		{"deadline", os.ErrDeadlineExceeded, Recoverable},
		{"tls authority", x509.UnknownAuthorityError{}, Recoverable},
		{"stale", errStale, Recoverable},
		{"unknown", errors.New("something odd"), Recoverable},
		{"already classified", &TransportError{Op: "dial", Class: Fatal, Err: io.EOF}, Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestWrapTransport(t *testing.T) {
	assert.NoError(t, wrapTransport("read", nil))

	err := wrapTransport("read", io.EOF)
	var te *TransportError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, "read", te.Op)
	assert.Equal(t, Recoverable, te.Class)
	assert.ErrorIs(t, err, io.EOF)

	assert.Same(t, err, wrapTransport("session", err))
	assert.Equal(t, "read (recoverable): EOF", err.Error())
}
