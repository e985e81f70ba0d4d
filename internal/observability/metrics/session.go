package metrics

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/target/dicom-portal/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultDiscarded = "discarded"
)

// Session operations.
const (
	OpLogin   = "login"
	OpRefresh = "refresh"
	OpLogout  = "logout"
)

// StatusCoder is implemented by transport errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// SessionMetric captures one session lifecycle operation.
type SessionMetric struct {
	Operation string
	Result    string
	Duration  time.Duration
	Err       error
}

// EmitSession emits the counter for the operation and, when measured, its duration.
func EmitSession(sink statsd.Sink, in SessionMetric) {
	if sink == nil || in.Operation == "" {
		return
	}

	tags := map[string]string{"result": in.Result}
	if in.Err != nil && in.Result == ResultError {
		tags["error_class"] = ClassifyError(in.Err)
	}

	sink.Count("session."+in.Operation, 1, tags)
	if in.Duration > 0 {
		sink.Timing("session."+in.Operation+".duration", in.Duration, CloneTags(tags))
	}
}

// ClassifyError maps an error to a small, stable tag value.
func ClassifyError(err error) string {
	var sc StatusCoder
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &sc):
		switch code := sc.HTTPStatus(); {
		case code == 401 || code == 403:
			return "rejected"
		case code >= 500:
			return "server"
		default:
			return "client"
		}
	case errors.As(err, &netErr):
		return "transport"
	default:
		return "other"
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
