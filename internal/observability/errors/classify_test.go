package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

type customErr struct{}

func (*customErr) Error() string { return "custom" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("get session: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", &url.Error{Op: "Get", URL: "http://x", Err: context.Canceled}, "canceled"},
		{"dns", &url.Error{Op: "Get", URL: "http://x", Err: &net.DNSError{Err: "no such host", Name: "x"}}, "dns"},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: goerrors.New("connection refused")}, "dial"},
		{"read", &net.OpError{Op: "read", Net: "tcp", Err: &customErr{}}, "errors_customerr"},
		{"plain", goerrors.New("boom"), "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
