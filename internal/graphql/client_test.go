package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestQuery_DecodesData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "pools")
		assert.Equal(t, "0xpool", req.Variables["address"])

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{
				"pools": []map[string]string{{"id": "0xentity"}},
			},
		})
	}))
	defer server.Close()

	client := New(Options{Name: "test", Endpoint: server.URL})

	var out struct {
		Pools []struct {
			ID string `json:"id"`
		} `json:"pools"`
	}
	err := client.Query(context.Background(), "pools", "query { pools { id } }", map[string]interface{}{"address": "0xpool"}, &out)
	require.NoError(t, err)
	require.Len(t, out.Pools, 1)
	assert.Equal(t, "0xentity", out.Pools[0].ID)
}

func TestQuery_GraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":   nil,
			"errors": []map[string]string{{"message": "block not indexed"}},
		})
	}))
	defer server.Close()

	client := New(Options{Name: "test", Endpoint: server.URL})

	err := client.Query(context.Background(), "reserves", "query { reserves { id } }", nil, &struct{}{})
	var gqlErr *Error
	require.True(t, errors.As(err, &gqlErr), "expected *Error, got %v", err)
	assert.Equal(t, "block not indexed", gqlErr.Entries[0].Message)
}

func TestQuery_NullDataIsSchemaMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": nil})
	}))
	defer server.Close()

	client := New(Options{Name: "test", Endpoint: server.URL})

	err := client.Query(context.Background(), "markets", "query { markets }", nil, &struct{}{})
	assert.ErrorIs(t, err, domain.ErrUpstreamSchemaMismatch)
}

func TestQuery_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{}})
	}))
	defer server.Close()

	client := New(Options{Name: "test", Endpoint: server.URL, Timeout: 20 * time.Millisecond})

	err := client.Query(context.Background(), "markets", "query { markets }", nil, nil)
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestQuery_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(Options{
		Name:            "flaky",
		Endpoint:        server.URL,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	})

	for i := 0; i < 2; i++ {
		err := client.Query(context.Background(), "markets", "query { markets }", nil, nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	err := client.Query(context.Background(), "markets", "query { markets }", nil, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestQuery_GraphQLErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"errors": []map[string]string{{"message": "bad query"}},
		})
	}))
	defer server.Close()

	client := New(Options{Name: "test", Endpoint: server.URL, BreakerFailures: 1})

	for i := 0; i < 3; i++ {
		err := client.Query(context.Background(), "markets", "query { markets }", nil, nil)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
}
