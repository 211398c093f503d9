package behavior

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

func TestThresholdConfig_DefaultIsValid(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())
}

func TestThresholdConfig_Validate(t *testing.T) {
	valid := func() ThresholdConfig { return DefaultThresholds() }

	tests := []struct {
		name    string
		mutate  func(*ThresholdConfig)
		wantErr error
	}{
		{
			"zero level threshold",
			func(c *ThresholdConfig) { c.LevelThreshold = 0 },
			shared.ErrValueOutOfRange,
		},
		{
			"negative level threshold",
			func(c *ThresholdConfig) { c.LevelThreshold = -10 },
			shared.ErrValueOutOfRange,
		},
		{
			"negative max level",
			func(c *ThresholdConfig) { c.MaxLevel = -1 },
			shared.ErrValueOutOfRange,
		},
		{
			"negative start XP",
			func(c *ThresholdConfig) { c.StartXP = -1 },
			shared.ErrNegativeValue,
		},
		{
			"no color bands",
			func(c *ThresholdConfig) { c.ColorBands = nil },
			shared.ErrEmptyValue,
		},
		{
			"unknown band color",
			func(c *ThresholdConfig) { c.ColorBands[0].Color = "PURPLE" },
			shared.ErrInvalidInput,
		},
		{
			"band without any bound",
			func(c *ThresholdConfig) {
				c.ColorBands = append(c.ColorBands, ColorBand{Color: ColorGreen})
			},
			shared.ErrInvalidInput,
		},
		{
			"band with inverted bounds",
			func(c *ThresholdConfig) {
				c.ColorBands = []ColorBand{
					{Color: ColorGreen, MinXP: intPtr(50), MaxXP: intPtr(10)},
				}
			},
			shared.ErrValueOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("GREEN")
	require.NoError(t, err)
	assert.Equal(t, ColorGreen, c)

	_, err = ParseColor("purple")
	assert.Error(t, err)
}
