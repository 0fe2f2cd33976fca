package chains

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryCoversEveryFamily(t *testing.T) {
	seen := map[Family]bool{}
	for _, c := range Default().All() {
		seen[c.Family] = true
	}
	for _, f := range []Family{FamilyHex, FamilyBech32, FamilyLedger, FamilyBase58} {
		assert.True(t, seen[f], "family %s missing", f)
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	c, err := Default().Lookup(" eth ")
	require.NoError(t, err)
	assert.Equal(t, "ETH", c.ID)
	assert.True(t, c.Accepts("USDT"))
	assert.False(t, c.Accepts("BTC"))

	_, err = Default().Lookup("DOGE")
	assert.True(t, errors.Is(err, ErrUnsupportedChain))
}

func TestDefaultChain(t *testing.T) {
	reg := Default()

	c, err := reg.DefaultChain("usdt")
	require.NoError(t, err)
	assert.Equal(t, "ETH", c.ID)

	_, err = reg.DefaultChain("DOGE")
	assert.True(t, errors.Is(err, ErrUnsupportedCurrency))
	assert.True(t, reg.KnownCurrency("usdc"))
	assert.False(t, reg.KnownCurrency("DOGE"))
}
