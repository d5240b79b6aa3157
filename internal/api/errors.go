package api

import (
	"errors"
	"net/http"

	"querygate/internal/domain"
)

// httpStatusFromError maps engine errors to HTTP status codes. Every engine
// failure carries a stable kind; anything unrecognized is a 500.
func httpStatusFromError(err error) int {
	var validation *domain.ValidationError
	var execution *domain.QueryExecutionError
	var connection *domain.ConnectionError
	var poolTimeout *domain.PoolTimeoutError
	var poolShutdown *domain.PoolShutdownError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &execution):
		return http.StatusUnprocessableEntity
	case errors.As(err, &connection):
		return http.StatusBadGateway
	case errors.As(err, &poolTimeout):
		return http.StatusTooManyRequests
	case errors.As(err, &poolShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorKind returns the stable machine-readable error kind.
func errorKind(err error) string {
	var validation *domain.ValidationError
	var execution *domain.QueryExecutionError
	var connection *domain.ConnectionError
	var poolTimeout *domain.PoolTimeoutError
	var poolShutdown *domain.PoolShutdownError

	switch {
	case errors.As(err, &validation):
		return "validation_error"
	case errors.As(err, &execution):
		return "query_execution_error"
	case errors.As(err, &connection):
		return "connection_error"
	case errors.As(err, &poolTimeout):
		return "pool_timeout"
	case errors.As(err, &poolShutdown):
		return "pool_shutdown"
	default:
		return "internal_error"
	}
}

// errorDetail extracts the native error detail for the response body.
// Internal driver objects are attached as structured detail, never
// substituted for the message.
func errorDetail(err error) map[string]any {
	var execution *domain.QueryExecutionError
	if errors.As(err, &execution) {
		detail := map[string]any{}
		if execution.Code != "" {
			detail["code"] = execution.Code
		}
		if execution.Position > 0 {
			detail["position"] = execution.Position
		}
		if execution.Detail != "" {
			detail["detail"] = execution.Detail
		}
		if len(detail) > 0 {
			return detail
		}
	}
	return nil
}
