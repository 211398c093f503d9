package behavior

import (
	"fmt"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

// ColorBand maps an XP range to a board color. MinXP and MaxXP are both
// optional; a band with neither bound never matches and is rejected by
// validation. Authors are responsible for non-overlapping bands - overlap is
// resolved by list order, never by an error at evaluation time.
type ColorBand struct {
	Color Color `json:"color"`
	MinXP *int  `json:"minXP,omitempty"`
	MaxXP *int  `json:"maxXP,omitempty"`
}

// ThresholdConfig governs how a course maps XP to level and color.
// It is owned by the course, validated eagerly when settings are saved, and
// read-only input to the state engine - the engine never sees an invalid one.
type ThresholdConfig struct {
	// StartXP is the XP a new (or reset) student starts with.
	StartXP int `json:"startXP"`

	// LevelThreshold is the XP per level. Must be positive.
	LevelThreshold int `json:"levelThreshold"`

	// MaxLevel caps the computed level.
	MaxLevel int `json:"maxLevel"`

	// EnableLevels toggles level computation for the course.
	EnableLevels bool `json:"enableLevels"`

	// ColorBands map XP ranges to colors, evaluated per ComputeColor.
	ColorBands []ColorBand `json:"colorBands"`
}

// DefaultThresholds returns the threshold configuration a new course starts
// with: the classic four-band traffic light over a 0-100+ XP range.
func DefaultThresholds() ThresholdConfig {
	minBlue, minGreen, maxGreen := 80, 60, 79
	minYellow, maxYellow, maxRed := 30, 59, 29
	return ThresholdConfig{
		StartXP:        50,
		LevelThreshold: 100,
		MaxLevel:       10,
		EnableLevels:   true,
		ColorBands: []ColorBand{
			{Color: ColorBlue, MinXP: &minBlue},
			{Color: ColorGreen, MinXP: &minGreen, MaxXP: &maxGreen},
			{Color: ColorYellow, MinXP: &minYellow, MaxXP: &maxYellow},
			{Color: ColorRed, MaxXP: &maxRed},
		},
	}
}

// Validate rejects configurations the engine must never see. The engine
// itself is total over validated inputs; all configuration errors surface
// here, at save time, not mid-request.
func (c ThresholdConfig) Validate() error {
	if c.LevelThreshold <= 0 {
		return shared.WrapError("behavior", "Validate", shared.ErrValueOutOfRange,
			"level threshold must be positive", fmt.Errorf("got %d", c.LevelThreshold))
	}
	if c.MaxLevel < 0 {
		return shared.WrapError("behavior", "Validate", shared.ErrValueOutOfRange,
			"max level cannot be negative", fmt.Errorf("got %d", c.MaxLevel))
	}
	if c.StartXP < 0 {
		return shared.WrapError("behavior", "Validate", shared.ErrNegativeValue,
			"start XP cannot be negative", fmt.Errorf("got %d", c.StartXP))
	}
	if len(c.ColorBands) == 0 {
		return shared.NewDomainError("behavior", "Validate", shared.ErrEmptyValue,
			"at least one color band is required")
	}
	for i, band := range c.ColorBands {
		if !band.Color.Valid() {
			return shared.WrapError("behavior", "Validate", shared.ErrInvalidInput,
				"unknown band color", fmt.Errorf("band %d: %q", i, band.Color))
		}
		if band.MinXP == nil && band.MaxXP == nil {
			return shared.WrapError("behavior", "Validate", shared.ErrInvalidInput,
				"band needs at least one bound", fmt.Errorf("band %d", i))
		}
		if band.MinXP != nil && band.MaxXP != nil && *band.MinXP > *band.MaxXP {
			return shared.WrapError("behavior", "Validate", shared.ErrValueOutOfRange,
				"band minXP exceeds maxXP", fmt.Errorf("band %d", i))
		}
	}
	return nil
}
