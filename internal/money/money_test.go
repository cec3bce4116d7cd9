package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"50.00", "50.00", false},
		{"50", "50.00", false},
		{"-3.5", "-3.50", false},
		{"0.005", "0.01", false},
		{"", "0.00", false},
		{"abc", "", true},
		{"12.3.4", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.in)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, Format(Round2(d)))
		})
	}
}

func TestMustParsePanicsOnMalformed(t *testing.T) {
	assert.Panics(t, func() { MustParse("not a number") })
	assert.Equal(t, "7.25", Format(MustParse("7.25")))
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"positive_passthrough", "75.00", "75.00"},
		{"rounds_half_up", "10.005", "10.01"},
		{"rounds_down", "10.004", "10.00"},
		{"negative_floors_to_zero", "-12.50", "0.00"},
		{"zero", "0", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Canonical(MustParse(tt.in))
			assert.Equal(t, tt.want, Format(got))
		})
	}
}

func TestEqualIgnoresScale(t *testing.T) {
	assert.True(t, Equal(MustParse("50"), MustParse("50.00")))
	assert.False(t, Equal(MustParse("50.01"), MustParse("50.00")))
	assert.True(t, Equal(Zero, decimal.Zero))
}
