package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid video id"), false},
		{"explicit", NewTransientError(errors.New("http 503"), 503), true},
		{"wrapped explicit", eris.Wrap(NewTransientError(errors.New("http 429"), 429), "fetch: watch page"), true},
		{"permanent wins", NewPermanentError(NewTransientError(errors.New("http 503"), 503)), false},
		{"network timeout", timeoutErr{}, true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"dns", errors.New("lookup www.youtube.com: no such host"), true},
		{"eof", errors.New("Get \"https://www.youtube.com/oembed\": unexpected EOF"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "transient", ClassifyError(NewTransientError(errors.New("store busy"), 0)))
	assert.Equal(t, "permanent", ClassifyError(NewPermanentError(errors.New("captions disabled"))))
	assert.Equal(t, "permanent", ClassifyError(errors.New("unknown job kind")))
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("http 502")
	te := NewTransientError(inner, 502)

	assert.Equal(t, "http 502", te.Error())
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, 502, te.StatusCode)
}

func TestPermanentError_Unwrap(t *testing.T) {
	inner := errors.New("meeting not found")
	pe := NewPermanentError(inner)

	assert.Equal(t, "meeting not found", pe.Error())
	assert.ErrorIs(t, pe, inner)
	assert.True(t, IsPermanent(eris.Wrap(pe, "jobs: fetch transcript")))
	assert.False(t, IsPermanent(inner))
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "%d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 410} {
		assert.False(t, RetryableStatus(code), "%d", code)
	}
}
