package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/util"
)

// ErrClientGone indicates the caller went away before the downstream
// call completed.
var ErrClientGone = errors.New("client closed request")

// Error type labels used in metrics and logs.
const (
	errorTypeTimeout     = "timeout"
	errorTypeServer      = "server_error"
	errorTypeTransport   = "transport"
	errorTypeCircuitOpen = "circuit_open"
	errorTypeCanceled    = "canceled"
	errorTypeClient      = "client"
)

// classifyError maps the error reported by the reverse proxy to a gateway
// error. callCtx is the context of the downstream call, clientCtx the one
// of the inbound request.
func classifyError(route string, timeout time.Duration, err error, callCtx, clientCtx context.Context) error {
	var serverErr *util.ServerError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return fmt.Errorf("%w: request body exceeds %d bytes", util.ErrInvalidInput, tooLarge.Limit)
	case errors.As(err, &serverErr):
		return util.NewBackendErrorWithCause(route, "downstream returned server error", err)
	case clientCtx.Err() != nil:
		return errors.Join(ErrClientGone, context.Canceled)
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return util.NewTimeoutErrorWithCause("proxy "+route, timeout, context.DeadlineExceeded)
	default:
		return util.NewBackendErrorWithCause(route, "downstream request failed", err)
	}
}

// errorType returns the metrics label for err.
func errorType(err error) string {
	switch {
	case errors.Is(err, util.ErrCircuitOpen):
		return errorTypeCircuitOpen
	case errors.Is(err, ErrClientGone):
		return errorTypeCanceled
	case errors.Is(err, util.ErrInvalidInput):
		return errorTypeClient
	case errors.Is(err, util.ErrTimeout):
		return errorTypeTimeout
	case isServerStatus(err):
		return errorTypeServer
	default:
		return errorTypeTransport
	}
}

func isServerStatus(err error) bool {
	var serverErr *util.ServerError
	return errors.As(err, &serverErr)
}
