package behavior

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func testConfig() ThresholdConfig {
	return DefaultThresholds()
}

// ════════════════════════════════════════════════════════════════════
// ComputeLevel
// ════════════════════════════════════════════════════════════════════

func TestComputeLevel(t *testing.T) {
	tests := []struct {
		name      string
		xp        int
		threshold int
		maxLevel  int
		want      int
	}{
		{"zero XP", 0, 100, 10, 0},
		{"below first threshold", 99, 100, 10, 0},
		{"exactly one threshold", 100, 100, 10, 1},
		{"mid range", 450, 100, 10, 4},
		{"clamped to max", 5000, 100, 10, 10},
		{"negative XP treated as zero", -50, 100, 10, 0},
		{"small threshold", 30, 10, 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeLevel(tt.xp, tt.threshold, tt.maxLevel))
		})
	}
}

func TestComputeLevel_Monotonic(t *testing.T) {
	prev := 0
	for xp := 0; xp <= 1500; xp += 7 {
		level := ComputeLevel(xp, 100, 10)
		assert.GreaterOrEqual(t, level, prev, "level must not decrease as XP grows (xp=%d)", xp)
		assert.LessOrEqual(t, level, 10, "level must not exceed maxLevel (xp=%d)", xp)
		prev = level
	}
}

// ════════════════════════════════════════════════════════════════════
// ComputeColor
// ════════════════════════════════════════════════════════════════════

func TestComputeColor(t *testing.T) {
	bands := testConfig().ColorBands

	tests := []struct {
		name string
		xp   int
		want Color
	}{
		{"high XP is blue", 95, ColorBlue},
		{"exactly blue boundary", 80, ColorBlue},
		{"green band", 75, ColorGreen},
		{"green lower boundary", 60, ColorGreen},
		{"yellow band", 45, ColorYellow},
		{"yellow lower boundary", 30, ColorYellow},
		{"red band", 15, ColorRed},
		{"zero XP is red", 0, ColorRed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeColor(tt.xp, bands))
		})
	}
}

func TestComputeColor_FallbackWhenNoBandMatches(t *testing.T) {
	// Single band covering only 0..10: anything above falls through.
	bands := []ColorBand{{Color: ColorRed, MinXP: intPtr(0), MaxXP: intPtr(10)}}
	assert.Equal(t, FallbackColor, ComputeColor(50, bands))
}

func TestComputeColor_UnorderedBandsInput(t *testing.T) {
	// Same bands as the default config, deliberately shuffled; evaluation
	// order is by descending MinXP, not by slice order.
	bands := []ColorBand{
		{Color: ColorYellow, MinXP: intPtr(30), MaxXP: intPtr(59)},
		{Color: ColorRed, MaxXP: intPtr(29)},
		{Color: ColorBlue, MinXP: intPtr(80)},
		{Color: ColorGreen, MinXP: intPtr(60), MaxXP: intPtr(79)},
	}

	assert.Equal(t, ColorBlue, ComputeColor(100, bands))
	assert.Equal(t, ColorGreen, ComputeColor(70, bands))
	assert.Equal(t, ColorYellow, ComputeColor(35, bands))
	assert.Equal(t, ColorRed, ComputeColor(10, bands))
}

func TestComputeColor_DoesNotMutateInput(t *testing.T) {
	bands := []ColorBand{
		{Color: ColorRed, MaxXP: intPtr(29)},
		{Color: ColorBlue, MinXP: intPtr(80)},
	}
	ComputeColor(50, bands)
	assert.Equal(t, ColorRed, bands[0].Color, "caller's slice order must survive evaluation")
}

// ════════════════════════════════════════════════════════════════════
// ApplyXPChange
// ════════════════════════════════════════════════════════════════════

func TestApplyXPChange_NegativeDeltaCrossesColorBoundary(t *testing.T) {
	tr := ApplyXPChange(85, -10, testConfig())

	assert.Equal(t, TransitionXPChange, tr.Kind)
	assert.Equal(t, 75, tr.NewXP)
	assert.Equal(t, 0, tr.NewLevel)
	assert.Equal(t, ColorGreen, tr.NewColor)
	assert.Equal(t, ColorBlue, tr.OldColor)
	assert.True(t, tr.ColorChanged)
	assert.False(t, tr.LevelChanged)
}

func TestApplyXPChange_FloorsAtZero(t *testing.T) {
	tr := ApplyXPChange(5, -20, testConfig())

	assert.Equal(t, 0, tr.NewXP)
	assert.Equal(t, ColorRed, tr.NewColor)
}

func TestApplyXPChange_XPNeverNegative(t *testing.T) {
	cfg := testConfig()
	for xp := 0; xp <= 200; xp += 13 {
		for _, delta := range []int{-1000, -200, -50, -1, 0, 1, 50, 1000} {
			tr := ApplyXPChange(xp, delta, cfg)
			assert.GreaterOrEqual(t, tr.NewXP, 0, "xp=%d delta=%d", xp, delta)
		}
	}
}

func TestApplyXPChange_ZeroDeltaChangesNothing(t *testing.T) {
	cfg := testConfig()
	for _, xp := range []int{0, 29, 30, 59, 60, 79, 80, 100, 250} {
		tr := ApplyXPChange(xp, 0, cfg)
		assert.Equal(t, xp, tr.NewXP)
		assert.False(t, tr.ColorChanged, "xp=%d", xp)
		assert.False(t, tr.LevelChanged, "xp=%d", xp)
	}
}

func TestApplyXPChange_RoundTrip(t *testing.T) {
	cfg := testConfig()

	t.Run("running total never hits the floor", func(t *testing.T) {
		xp := 50
		for _, delta := range []int{+20, -10, +5, -15} {
			xp = ApplyXPChange(xp, delta, cfg).NewXP
		}
		assert.Equal(t, 50, xp)
	})

	t.Run("floor hit breaks the round trip", func(t *testing.T) {
		xp := 10
		for _, delta := range []int{-30, +30} {
			xp = ApplyXPChange(xp, delta, cfg).NewXP
		}
		// -30 floored at 0, so +30 lands above the start.
		assert.Equal(t, 30, xp)
	})
}

func TestApplyXPChange_LevelUp(t *testing.T) {
	tr := ApplyXPChange(95, 10, testConfig())

	require.True(t, tr.LevelChanged)
	assert.Equal(t, 0, tr.OldLevel)
	assert.Equal(t, 1, tr.NewLevel)
}

func TestApplyXPChange_LevelsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableLevels = false

	tr := ApplyXPChange(95, 10, cfg)

	assert.False(t, tr.LevelChanged)
	assert.Equal(t, 0, tr.NewLevel)
}

// ════════════════════════════════════════════════════════════════════
// Manual transitions
// ════════════════════════════════════════════════════════════════════

func TestOverrideColor(t *testing.T) {
	tr := OverrideColor(85, 2, ColorBlue, ColorRed)

	assert.Equal(t, TransitionColorOverride, tr.Kind)
	assert.Equal(t, 85, tr.NewXP, "override must not touch XP")
	assert.Equal(t, 2, tr.NewLevel, "override must not touch level")
	assert.Equal(t, ColorRed, tr.NewColor)
	assert.True(t, tr.ColorChanged)
}

func TestOverrideColor_SameColorNotFlagged(t *testing.T) {
	tr := OverrideColor(85, 2, ColorBlue, ColorBlue)
	assert.False(t, tr.ColorChanged)
}

func TestAdjustLevel(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		delta    int
		maxLevel int
		want     int
	}{
		{"up by one", 3, 1, 10, 4},
		{"down by one", 3, -1, 10, 2},
		{"clamped at zero", 0, -5, 10, 0},
		{"clamped at max", 9, 5, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := AdjustLevel(50, tt.current, tt.delta, tt.maxLevel, ColorYellow)
			assert.Equal(t, TransitionLevelAdjust, tr.Kind)
			assert.Equal(t, tt.want, tr.NewLevel)
			assert.Equal(t, 50, tr.NewXP, "level adjust must not touch XP")
			assert.Equal(t, ColorYellow, tr.NewColor, "level adjust must not touch color")
			assert.Equal(t, tt.current != tt.want, tr.LevelChanged)
		})
	}
}
