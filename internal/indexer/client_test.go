package indexer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_TokensByAuthority(t *testing.T) {
	var capturedPath, capturedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path + "?" + r.URL.RawQuery
		capturedAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"tokens": [
				{"mint": "mint-a", "name": "Token A", "symbol": "TKA", "current_authority": true, "created_at": "2025-11-02T00:00:00Z"},
				{"mint": "mint-b", "current_authority": false}
			]
		}`)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	})

	records, err := client.TokensByAuthority(context.Background(), "wallet-1", 50)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "/v1/authorities/wallet-1/tokens?limit=50", capturedPath)
	assert.Equal(t, "Bearer test-key", capturedAuth)

	assert.Equal(t, "mint-a", records[0].Mint)
	assert.Equal(t, "Token A", records[0].Name)
	assert.Equal(t, "TKA", records[0].Symbol)
	assert.True(t, records[0].CurrentAuthority)
	assert.Equal(t, 2025, records[0].CreatedAt.Year())
	assert.False(t, records[1].CurrentAuthority)
}

func TestHTTPClient_DefaultLimit(t *testing.T) {
	var capturedQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"tokens": []}`)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: server.URL})
	records, err := client.TokensByAuthority(context.Background(), "wallet-1", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, "limit=100", capturedQuery)
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: server.URL})
	_, err := client.TokensByAuthority(context.Background(), "wallet-1", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
}

func TestHTTPClient_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: server.URL})
	_, err := client.TokensByAuthority(context.Background(), "wallet-1", 10)
	assert.Error(t, err)
}

func TestStub_RecordsAndLimit(t *testing.T) {
	stub := NewStub()
	for i := 0; i < 5; i++ {
		stub.AddRecord("wallet-1", TokenRecord{Mint: fmt.Sprintf("mint-%d", i)})
	}

	records, err := stub.TokensByAuthority(context.Background(), "wallet-1", 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = stub.TokensByAuthority(context.Background(), "wallet-2", 3)
	require.NoError(t, err)
	assert.Empty(t, records)
}
