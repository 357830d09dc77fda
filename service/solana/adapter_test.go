package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectRandomEndpoint(t *testing.T) {
	t.Run("successful selection from multiple endpoints", func(t *testing.T) {
		endpoints := []string{
			"https://api.mainnet-beta.solana.com",
			"https://mainnet.helius-rpc.com",
			"https://rpc.ankr.com/solana",
		}

		selected, err := SelectRandomEndpoint(endpoints)
		require.NoError(t, err)
		assert.Contains(t, endpoints, selected)
	})

	t.Run("successful selection from single endpoint", func(t *testing.T) {
		endpoints := []string{"https://api.mainnet-beta.solana.com"}

		selected, err := SelectRandomEndpoint(endpoints)
		require.NoError(t, err)
		assert.Equal(t, endpoints[0], selected)
	})

	t.Run("error on empty slice", func(t *testing.T) {
		_, err := SelectRandomEndpoint([]string{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no RPC endpoints configured")
	})

	t.Run("error on nil slice", func(t *testing.T) {
		_, err := SelectRandomEndpoint(nil)
		assert.Error(t, err)
	})

	t.Run("distribution across multiple calls", func(t *testing.T) {
		endpoints := []string{
			"https://endpoint1.com",
			"https://endpoint2.com",
			"https://endpoint3.com",
		}

		// Run 30 selections and verify we get different endpoints
		// (probabilistic test - very unlikely to select same endpoint 30 times)
		seen := make(map[string]bool)
		for i := 0; i < 30; i++ {
			selected, err := SelectRandomEndpoint(endpoints)
			require.NoError(t, err)
			seen[selected] = true
		}

		// With 30 selections from 3 endpoints, we should see at least 2 different ones
		assert.GreaterOrEqual(t, len(seen), 2, "Expected to see multiple endpoints selected")
	})
}

func TestClusterURL(t *testing.T) {
	url, err := ClusterURL("devnet")
	require.NoError(t, err)
	assert.Equal(t, "https://api.devnet.solana.com", url)

	url, err = ClusterURL("mainnet-beta")
	require.NoError(t, err)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", url)

	_, err = ClusterURL("moonnet")
	assert.Error(t, err)
}

func TestRPCConfigEndpoint(t *testing.T) {
	t.Run("cluster without key", func(t *testing.T) {
		cfg := RPCConfig{Cluster: "devnet"}
		endpoint, err := cfg.Endpoint()
		require.NoError(t, err)
		assert.Equal(t, "https://api.devnet.solana.com", endpoint)
		assert.Equal(t, "devnet", cfg.Label(endpoint))
	})

	t.Run("api key is appended", func(t *testing.T) {
		cfg := RPCConfig{Endpoints: []string{"https://rpc.shyft.to"}, APIKey: "secret"}
		endpoint, err := cfg.Endpoint()
		require.NoError(t, err)
		assert.Equal(t, "https://rpc.shyft.to?api_key=secret", endpoint)
		assert.Equal(t, "rpc.shyft.to", cfg.Label(endpoint))
	})

	t.Run("existing query is preserved", func(t *testing.T) {
		cfg := RPCConfig{Endpoints: []string{"https://RPC.example.com/v1?region=us"}, APIKey: "k"}
		endpoint, err := cfg.Endpoint()
		require.NoError(t, err)
		assert.Contains(t, endpoint, "region=us")
		assert.Contains(t, endpoint, "api_key=k")
		assert.Equal(t, "rpc.example.com", cfg.Label(endpoint))
	})

	t.Run("unknown cluster", func(t *testing.T) {
		_, err := RPCConfig{Cluster: "moonnet"}.Endpoint()
		assert.Error(t, err)
	})
}
