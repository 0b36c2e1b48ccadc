package chain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector(t *testing.T) {
	// 已知值：starknet_keccak("transfer")
	assert.Equal(t, "0x83afd3f4caedc6eebf44246fe54e38c95e3179a5ec9ea81740eca5b482d12e", Selector("transfer"))

	v, ok := new(big.Int).SetString(Selector("subscribe_to_agent")[2:], 16)
	require.True(t, ok)
	assert.LessOrEqual(t, v.BitLen(), 250)
}

func TestU256_RoundTrip(t *testing.T) {
	big1, _ := decimal.NewFromString("340282366920938463463374607431768211457") // 2^128 + 1
	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(500), big1} {
		low, high, err := SplitU256(amount)
		require.NoError(t, err)
		back, err := JoinU256(low, high)
		require.NoError(t, err)
		assert.True(t, amount.Equal(back), amount.String())
	}

	low, high, err := SplitU256(big1)
	require.NoError(t, err)
	assert.Equal(t, "0x1", low)
	assert.Equal(t, "0x1", high)
}

func TestSplitU256_Rejects(t *testing.T) {
	_, _, err := SplitU256(decimal.NewFromFloat(1.5))
	assert.Error(t, err)
	_, _, err = SplitU256(decimal.NewFromInt(-1))
	assert.Error(t, err)
}

func TestShortString(t *testing.T) {
	felt, err := ShortString("agent_1700000000000_ab12cd34")
	require.NoError(t, err)
	s, err := DecodeShortString(felt)
	require.NoError(t, err)
	assert.Equal(t, "agent_1700000000000_ab12cd34", s)

	_, err = ShortString("this string is definitely longer than 31")
	assert.Error(t, err)

	s, err = DecodeShortString(TruncatedShortString("this string is definitely longer than 31"))
	require.NoError(t, err)
	assert.Len(t, s, 31)
}

func TestRatio(t *testing.T) {
	felt, err := RatioToFelt(0.05)
	require.NoError(t, err)
	assert.Equal(t, "0x1f4", felt)

	r, err := FeltToRatio(felt)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, r, 1e-9)

	_, err = RatioToFelt(1.2)
	assert.Error(t, err)
}

func TestParseFelt_LeadingZeros(t *testing.T) {
	v, err := ParseFelt("0x000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v.Int64())

	addr, err := NormalizeAddress("0x0049D36570D4E46F48E99674BD3FCC84644DDD6B96F7C741B1562B82F9E004DC7")
	require.NoError(t, err)
	assert.Equal(t, "0x49d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7", addr)

	_, err = NormalizeAddress("0x0")
	assert.Error(t, err)
	_, err = ParseFelt("0xzz")
	assert.Error(t, err)
}
