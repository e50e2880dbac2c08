// Package googleapi maps HTTP status codes to Google API canonical status strings,
// as used in the {"error":{"code","message","status"}} error body.
package googleapi

import "net/http"

// HTTPStatusToGoogleStatus 返回 HTTP 状态码对应的 google.rpc.Code 名称。
func HTTPStatusToGoogleStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "ABORTED"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	case http.StatusNotImplemented:
		return "UNIMPLEMENTED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusInternalServerError:
		return "INTERNAL"
	default:
		if status >= 200 && status < 300 {
			return "OK"
		}
		if status >= 400 && status < 500 {
			return "FAILED_PRECONDITION"
		}
		return "INTERNAL"
	}
}
