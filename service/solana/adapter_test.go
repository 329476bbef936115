package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectRandomEndpoint(t *testing.T) {
	t.Run("single endpoint is always selected", func(t *testing.T) {
		selected, err := SelectRandomEndpoint([]string{"https://rpc.helius.xyz/?api-key=k"})
		require.NoError(t, err)
		assert.Equal(t, "https://rpc.helius.xyz/?api-key=k", selected)
	})

	t.Run("empty and nil lists are rejected", func(t *testing.T) {
		_, err := SelectRandomEndpoint([]string{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no RPC endpoints configured")

		_, err = SelectRandomEndpoint(nil)
		assert.Error(t, err)
	})

	t.Run("selection spreads across endpoints", func(t *testing.T) {
		endpoints := []string{
			"https://api.mainnet-beta.solana.com",
			"https://mainnet.helius-rpc.com",
			"https://solana-mainnet.g.alchemy.com/v2/k",
		}

		// Probabilistic: 50 draws from 3 endpoints landing on one is vanishingly unlikely.
		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			selected, err := SelectRandomEndpoint(endpoints)
			require.NoError(t, err)
			assert.Contains(t, endpoints, selected)
			seen[selected] = true
		}
		assert.GreaterOrEqual(t, len(seen), 2)
	})
}
