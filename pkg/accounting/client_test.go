package accounting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/buildworker/pkg/errs"
)

func TestClient_PreflightCheck_Sufficient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/preflight", r.URL.Path)
		var req preflightRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user-1", req.UserID)
		_ = json.NewEncoder(w).Encode(preflightResponse{Sufficient: true})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.PreflightCheck(context.Background(), "user-1")
	require.NoError(t, err)
}

func TestClient_PreflightCheck_Insufficient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(preflightResponse{Sufficient: false, Reason: "balance below minimum"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.PreflightCheck(context.Background(), "user-1")
	require.Error(t, err)

	var be *errs.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, errs.KindInsufficientFunds, be.Kind)
	assert.True(t, errs.IsUnrecoverable(err))
	assert.Equal(t, "balance below minimum", be.Message)
}

func TestClient_Begin(t *testing.T) {
	var gotBody beginRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/begin", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	require.NoError(t, client.Begin(context.Background(), "build-1", "user-1"))
	assert.Equal(t, "build-1", gotBody.BuildID)
	assert.Equal(t, "user-1", gotBody.UserID)
}

func TestClient_End_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/end", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	require.NoError(t, client.End(context.Background(), "build-1", true))
}

func TestClient_End_DoubleCallTreatedAsSettled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.End(context.Background(), "build-1", true)
	require.NoError(t, err, "a second End call for the same buildId must not fail the job")
}

func TestClient_End_OtherErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.End(context.Background(), "build-1", true)
	require.Error(t, err)
}
