package codeassist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRefreshTokenSendsFormFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "cid", r.FormValue("client_id"))
		require.Equal(t, "secret", r.FormValue("client_secret"))
		require.Equal(t, "1//rt", r.FormValue("refresh_token"))
		require.Equal(t, "refresh_token", r.FormValue("grant_type"))
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.Positive(t, r.ContentLength, "form body must carry explicit Content-Length")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.new","expires_in":3599,"refresh_token":"1//new"}`))
	}))
	defer server.Close()

	client := NewOAuthClient(server.URL, "cid", "secret", 5*time.Second)
	token, err := client.RefreshToken(context.Background(), "1//rt")
	require.NoError(t, err)
	require.Equal(t, "ya29.new", token.AccessToken)
	require.Equal(t, "1//new", token.RefreshToken)
	require.Equal(t, int64(3599), token.ExpiresIn)
}

func TestRefreshTokenNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	client := NewOAuthClient(server.URL, "cid", "secret", 5*time.Second)
	_, err := client.RefreshToken(context.Background(), "1//rt")
	require.Error(t, err)
	require.Contains(t, err.Error(), "token refresh failed")
	require.Contains(t, err.Error(), "status=400")
}

func TestRefreshTokenEmptyAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"expires_in":3600}`))
	}))
	defer server.Close()

	client := NewOAuthClient(server.URL, "cid", "secret", 5*time.Second)
	_, err := client.RefreshToken(context.Background(), "1//rt")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty access_token")
}

func TestTokenResponseExpiresAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token := &TokenResponse{ExpiresIn: 3600}
	require.Equal(t, now.Add(time.Hour), token.ExpiresAt(now))
}
