package store

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"syscall"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestSentinelAddrs(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"redis-sentinel", []string{"redis-sentinel:26379"}},
		{"s1:26379, s2:26380", []string{"s1:26379", "s2:26380"}},
		{"s1, ,s2", []string{"s1:26379", "s2:26379"}},
	}
	for _, tt := range tests {
		if got := sentinelAddrs(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("sentinelAddrs(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestIsRetryableNil(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error must not be retryable")
	}
}

func TestIsRetryableMissingKeyIsNotRetryable(t *testing.T) {
	if IsRetryable(redis.Nil) {
		t.Error("redis.Nil (missing key) is a logical condition, not retryable")
	}
	wrapped := fmt.Errorf("getting submission abc: %w", redis.Nil)
	if IsRetryable(wrapped) {
		t.Error("wrapped redis.Nil must still not be retryable")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryableTimeoutWrapped(t *testing.T) {
	var err error = timeoutErr{}
	wrapped := fmt.Errorf("setting submission abc: %w", err)
	if !IsRetryable(wrapped) {
		t.Error("wrapped timeout error must be retryable")
	}
}

func TestIsRetryableConnectionRefused(t *testing.T) {
	err := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	}
	wrapped := fmt.Errorf("getting submission abc: %w", err)
	if !IsRetryable(wrapped) {
		t.Error("wrapped connection-refused error must be retryable")
	}
}

func TestIsRetryableConnectionReset(t *testing.T) {
	err := &net.OpError{
		Op:  "read",
		Net: "tcp",
		Err: os.NewSyscallError("read", syscall.ECONNRESET),
	}
	wrapped := fmt.Errorf("setting submission abc: %w", err)
	if !IsRetryable(wrapped) {
		t.Error("wrapped connection-reset error must be retryable")
	}
}

func TestIsRetryableAddrErrorIsNotRetryable(t *testing.T) {
	err := &net.AddrError{Err: "bad address", Addr: "x"}
	if IsRetryable(err) {
		t.Error("a malformed address is a logical error, not retryable")
	}
}
