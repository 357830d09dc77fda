package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitTransaction_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/transactions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "c2lnbmVk", body["transaction"])
		assert.Equal(t, "finalized", body["finality"])
		assert.Equal(t, float64(77), body["last_valid_block_height"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"signature":   "5sig",
			"status":      "pending",
			"workflow_id": "payment-5sig",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	sub, err := client.SubmitTransaction(context.Background(), "c2lnbmVk", "finalized", 77)
	require.NoError(t, err)
	assert.Equal(t, "5sig", sub.Signature)
	assert.Equal(t, "pending", sub.Status)
	assert.Equal(t, "payment-5sig", sub.WorkflowID)
}

func TestSubmitTransaction_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "submit: transaction rejected: insufficient lamports",
			"kind":  "transaction_rejected",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.SubmitTransaction(context.Background(), "c2lnbmVk", "", 0)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "transaction_rejected", apiErr.Kind)
	assert.Contains(t, err.Error(), "insufficient lamports")
}

func TestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transactions/5sig", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"signature": "5sig", "status": "confirmed"})
	}))
	defer server.Close()

	status, err := NewClient(server.URL, nil, nil).Status(context.Background(), "5sig")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", status)
}

func TestPayURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/pay/url", r.URL.Path)
		assert.Equal(t, "2.5", r.URL.Query().Get("amount"))
		assert.Equal(t, "order-1", r.URL.Query().Get("memo"))
		json.NewEncoder(w).Encode(map[string]string{
			"id":        "abc",
			"url":       "solana:recipient?amount=2.5",
			"reference": "ref",
		})
	}))
	defer server.Close()

	link, err := NewClient(server.URL+"/", nil, nil).PayURL(context.Background(), "2.5", "order-1", "")
	require.NoError(t, err)
	assert.Equal(t, "solana:recipient?amount=2.5", link.URL)
	assert.Equal(t, "ref", link.Reference)
}

func TestHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer healthy.Close()
	assert.NoError(t, NewClient(healthy.URL, nil, nil).Health(context.Background()))

	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "rpc node unhealthy"})
	}))
	defer sick.Close()
	err := NewClient(sick.URL, nil, nil).Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc node unhealthy")
}

func TestParseErrorResponse_PlainBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Status(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "bad gateway")
}

func TestWatchEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events/5sig", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {\"subject\":\"payments.5sig\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: payment\ndata: {\"type\":\"submitted\",\"signature\":\"5sig\",\"amount\":10}\n\n")
		fmt.Fprint(w, "event: payment\ndata: not json\n\n")
		fmt.Fprint(w, "event: payment\ndata: {\"type\":\"confirmed\",\"signature\":\"5sig\",\"amount\":10}\n\n")
	}))
	defer server.Close()

	var got []string
	err := NewClient(server.URL, nil, nil).WatchEvents(context.Background(), "5sig", func(e *PaymentEvent) error {
		got = append(got, e.Type)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"submitted", "confirmed"}, got)
}

func TestWatchEvents_Stop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events", r.URL.Path)
		fmt.Fprint(w, "event: payment\ndata: {\"type\":\"submitted\",\"signature\":\"a\"}\n\n")
		fmt.Fprint(w, "event: payment\ndata: {\"type\":\"finalized\",\"signature\":\"a\"}\n\n")
	}))
	defer server.Close()

	calls := 0
	err := NewClient(server.URL, nil, nil).WatchEvents(context.Background(), "", func(e *PaymentEvent) error {
		calls++
		return ErrStopWatching
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWatchEvents_StreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"error\":\"failed to subscribe\"}\n\n")
	}))
	defer server.Close()

	err := NewClient(server.URL, nil, nil).WatchEvents(context.Background(), "", func(e *PaymentEvent) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe")
}
