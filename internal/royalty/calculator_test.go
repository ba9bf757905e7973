package royalty

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPayrail_Royalty_ComputeSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		gross        string
		currency     string
		rate         string
		wantPayee    string
		wantPlatform string
		wantErr      error
	}{
		{
			name:         "standard seventy percent",
			gross:        "100.00",
			currency:     "GBP",
			rate:         "0.70",
			wantPayee:    "70.00",
			wantPlatform: "30.00",
		},
		{
			name:         "remainder cent goes to platform",
			gross:        "0.03",
			currency:     "USD",
			rate:         "0.70",
			wantPayee:    "0.02",
			wantPlatform: "0.01",
		},
		{
			name:         "exact half rounds down",
			gross:        "0.01",
			currency:     "USD",
			rate:         "0.5",
			wantPayee:    "0.00",
			wantPlatform: "0.01",
		},
		{
			name:         "zero decimal currency",
			gross:        "1000",
			currency:     "JPY",
			rate:         "0.85",
			wantPayee:    "850",
			wantPlatform: "150",
		},
		{
			name:         "zero decimal currency rounds whole units",
			gross:        "999",
			currency:     "JPY",
			rate:         "0.70",
			wantPayee:    "699",
			wantPlatform: "300",
		},
		{
			name:         "full rate pays everything out",
			gross:        "42.50",
			currency:     "EUR",
			rate:         "1",
			wantPayee:    "42.50",
			wantPlatform: "0.00",
		},
		{
			name:         "zero rate pays nothing out",
			gross:        "42.50",
			currency:     "EUR",
			rate:         "0",
			wantPayee:    "0.00",
			wantPlatform: "42.50",
		},
		{
			name:     "zero amount rejected",
			gross:    "0",
			currency: "USD",
			rate:     "0.70",
			wantErr:  ErrInvalidAmount,
		},
		{
			name:     "negative amount rejected",
			gross:    "-10.00",
			currency: "USD",
			rate:     "0.70",
			wantErr:  ErrInvalidAmount,
		},
		{
			name:     "rate above one rejected",
			gross:    "10.00",
			currency: "USD",
			rate:     "1.01",
			wantErr:  ErrInvalidRate,
		},
		{
			name:     "negative rate rejected",
			gross:    "10.00",
			currency: "USD",
			rate:     "-0.1",
			wantErr:  ErrInvalidRate,
		},
		{
			name:     "bogus currency rejected",
			gross:    "10.00",
			currency: "usd1",
			rate:     "0.70",
			wantErr:  ErrInvalidCurrency,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			split, err := ComputeSplit(dec(tt.gross), tt.currency, dec(tt.rate))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.True(t, split.PayeeShare.Equal(dec(tt.wantPayee)),
				"payee share %s != %s", split.PayeeShare, tt.wantPayee)
			require.True(t, split.PlatformShare.Equal(dec(tt.wantPlatform)),
				"platform share %s != %s", split.PlatformShare, tt.wantPlatform)
		})
	}
}

func TestPayrail_Royalty_ComputeSplit_SumInvariant(t *testing.T) {
	t.Parallel()

	amounts := []string{"0.01", "0.99", "1.00", "33.33", "99.99", "12345.67", "0.03"}
	rates := []string{"0", "0.1", "0.333333", "0.5", "0.7", "0.85", "0.999", "1"}

	for _, a := range amounts {
		for _, r := range rates {
			gross := dec(a)
			split, err := ComputeSplit(gross, "USD", dec(r))
			require.NoError(t, err)
			require.True(t, split.PayeeShare.Add(split.PlatformShare).Equal(gross),
				"shares %s + %s do not sum to %s at rate %s",
				split.PayeeShare, split.PlatformShare, gross, r)
			require.False(t, split.PayeeShare.IsNegative())
			require.False(t, split.PlatformShare.IsNegative())
		}
	}
}

func TestPayrail_Royalty_ComputeSplit_Deterministic(t *testing.T) {
	t.Parallel()

	first, err := ComputeSplit(dec("87.65"), "USD", dec("0.7125"))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := ComputeSplit(dec("87.65"), "USD", dec("0.7125"))
		require.NoError(t, err)
		require.True(t, again.PayeeShare.Equal(first.PayeeShare))
		require.True(t, again.PlatformShare.Equal(first.PlatformShare))
	}
}
