package googleapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusToGoogleStatus(t *testing.T) {
	cases := map[int]string{
		http.StatusOK:                    "OK",
		http.StatusBadRequest:            "INVALID_ARGUMENT",
		http.StatusUnauthorized:          "UNAUTHENTICATED",
		http.StatusForbidden:             "PERMISSION_DENIED",
		http.StatusNotFound:              "NOT_FOUND",
		http.StatusConflict:              "ABORTED",
		http.StatusRequestEntityTooLarge: "FAILED_PRECONDITION",
		http.StatusTooManyRequests:       "RESOURCE_EXHAUSTED",
		http.StatusInternalServerError:   "INTERNAL",
		http.StatusServiceUnavailable:    "UNAVAILABLE",
		http.StatusGatewayTimeout:        "DEADLINE_EXCEEDED",
		599:                              "INTERNAL",
	}
	for status, want := range cases {
		require.Equal(t, want, HTTPStatusToGoogleStatus(status), "status %d", status)
	}
}
