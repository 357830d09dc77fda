package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/solpay/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestJQFilterMatching(t *testing.T) {
	event := &client.PaymentEvent{
		Type:      "confirmed",
		Signature: "5sig",
		Amount:    2_500_000,
		Memo:      strPtr("order-42"),
		Recipient: strPtr("merchant"),
	}

	tests := []struct {
		name        string
		filters     []string
		expectMatch bool
	}{
		{name: "no filters", expectMatch: true},
		{name: "memo match", filters: []string{`.memo == "order-42"`}, expectMatch: true},
		{name: "memo mismatch", filters: []string{`.memo == "order-7"`}, expectMatch: false},
		{name: "numeric comparison", filters: []string{`.amount > 1000000`}, expectMatch: true},
		{
			name:        "all filters must match",
			filters:     []string{`.type == "confirmed"`, `.amount < 10`},
			expectMatch: false,
		},
		{name: "missing field is null", filters: []string{`.token_mint`}, expectMatch: false},
		{name: "non-boolean result is truthy", filters: []string{`.recipient`}, expectMatch: true},
		{name: "runtime error does not match", filters: []string{`.memo | tonumber`}, expectMatch: false},
		{name: "empty output does not match", filters: []string{`empty`}, expectMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters, err := compileJQFilters(tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.expectMatch, matchesJQ(filters, event))
		})
	}
}

func TestCompileJQFilters_Invalid(t *testing.T) {
	_, err := compileJQFilters([]string{`.memo ==`})
	assert.Error(t, err)

	_, err = compileJQFilters([]string{`undefined_function(1)`})
	assert.Error(t, err)
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]interface{}{}))
}

func TestSettled(t *testing.T) {
	for _, typ := range []string{"confirmed", "finalized", "expired", "rejected"} {
		assert.True(t, settled(typ), typ)
	}
	assert.False(t, settled("submitted"))
}

func TestWatchCommand_UntilSettled(t *testing.T) {
	served := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events/5sig", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {}\n\n")
		fmt.Fprint(w, "event: payment\ndata: {\"type\":\"submitted\",\"signature\":\"5sig\",\"memo\":\"order-42\"}\n\n")
		fmt.Fprint(w, "event: payment\ndata: {\"type\":\"confirmed\",\"signature\":\"5sig\",\"memo\":\"order-42\"}\n\n")
		w.(http.Flusher).Flush()
		// Hold the stream open; the command must exit on the confirmed event.
		select {
		case <-r.Context().Done():
		case <-served:
		}
	}))
	defer server.Close()
	defer close(served)

	err := newApp().Run([]string{
		"solpay", "--server-url", server.URL, "--json",
		"events", "watch", "--jq", `.memo == "order-42"`, "--until-settled", "5sig",
	})
	require.NoError(t, err)
}

func TestWatchCommand_BadFilter(t *testing.T) {
	err := newApp().Run([]string{"solpay", "events", "watch", "--jq", `.[`})
	assert.Error(t, err)
}
