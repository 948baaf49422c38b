package core

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joshp123/gohome-skyport/internal/manifest"
	"github.com/joshp123/gohome-skyport/internal/rate"
)

// Error classes shared by plugins and transports. Plugins wrap or match these
// so servers can map failures without importing plugin packages.
var (
	ErrUnknownService  = errors.New("unknown service")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnavailable     = errors.New("upstream unavailable")
)

// GRPCCode classifies err for a gRPC status.
func GRPCCode(err error) codes.Code {
	var unknownFields *manifest.UnknownFieldsError
	var limited rate.RateLimitError
	switch {
	case err == nil:
		return codes.OK
	case errors.As(err, &unknownFields), errors.Is(err, ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, ErrUnknownService), errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.As(err, &limited):
		return codes.ResourceExhausted
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, ErrUnavailable):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// GRPCError converts err to a gRPC status error, keeping existing statuses.
func GRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(GRPCCode(err), err.Error())
}

// HTTPStatus classifies err for an HTTP response.
func HTTPStatus(err error) int {
	switch GRPCCode(err) {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
