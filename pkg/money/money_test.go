package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrypto_Truncates(t *testing.T) {
	d := decimal.RequireFromString("98.123456789")
	assert.Equal(t, "98.12345678", Crypto(d).String())
}

func TestFiat_Rounds(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"100.005", "100.01"},
		{"100.004", "100"},
		{"99.999", "100"},
		{"12.5", "12.5"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Fiat(decimal.RequireFromString(tt.in)).String())
		})
	}
}

func TestFitsScale(t *testing.T) {
	assert.True(t, FitsScale(decimal.RequireFromString("1.12345678"), CryptoScale))
	assert.False(t, FitsScale(decimal.RequireFromString("1.123456789"), CryptoScale))
	assert.True(t, FitsScale(decimal.RequireFromString("10"), FiatScale))
	assert.False(t, FitsScale(decimal.RequireFromString("10.001"), FiatScale))
}

func TestParseCrypto(t *testing.T) {
	d, err := ParseCrypto("40.5")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("40.5")))

	for _, bad := range []string{"", "abc", "0", "-1", "0.000000001"} {
		_, err := ParseCrypto(bad)
		assert.Error(t, err, bad)
	}
}

func TestInRange(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		crypto bool
		fiat   bool
	}{
		{name: "ordinary", in: "1250.75", crypto: true, fiat: true},
		{name: "fiat column max", in: "999999999999999999.99", crypto: true, fiat: true},
		{name: "fiat rounds over the limit", in: "999999999999999999.995", crypto: true, fiat: false},
		{name: "fiat overflow", in: "1000000000000000000", crypto: true, fiat: false},
		{name: "token column max", in: "999999999999999999999999999999.99999999", crypto: true, fiat: false},
		{name: "token overflow", in: "1000000000000000000000000000000", crypto: false, fiat: false},
		{name: "negative overflow", in: "-1e30", crypto: false, fiat: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decimal.RequireFromString(tt.in)
			assert.Equal(t, tt.crypto, CryptoInRange(d))
			assert.Equal(t, tt.fiat, FiatInRange(d))
		})
	}
}
