// Package behavior implements the classroom behavior state engine: the pure
// mapping from a student's current XP/level/color plus an event to the next
// state, under a course's threshold configuration. No I/O, no clock, no
// hidden state - every function here is total over validated inputs, so the
// write path can call it inside a database transaction without error
// handling of its own.
package behavior

import (
	"sort"
)

// TransitionKind tags how a transition was produced. Manual overrides are
// first-class variants so a color that diverges from its XP-derived value is
// visible in the type system, not just in event payloads.
type TransitionKind string

const (
	// TransitionXPChange is the normal path: XP delta, derived level/color.
	TransitionXPChange TransitionKind = "xp_change"

	// TransitionColorOverride is a manual color set that bypasses thresholds.
	TransitionColorOverride TransitionKind = "color_override"

	// TransitionLevelAdjust is a direct level delta that bypasses thresholds.
	TransitionLevelAdjust TransitionKind = "level_adjust"
)

// Transition is the full before/after picture of one state change, with
// change flags so callers can emit level-up or color-change notifications
// distinct from the generic XP event.
type Transition struct {
	Kind TransitionKind

	OldXP int
	NewXP int

	OldLevel int
	NewLevel int

	OldColor Color
	NewColor Color

	LevelChanged bool
	ColorChanged bool
}

// ComputeLevel maps XP to a level: floor(xp/levelThreshold), clamped to
// [0, maxLevel]. levelThreshold is guaranteed positive by config validation.
func ComputeLevel(xp, levelThreshold, maxLevel int) int {
	if xp < 0 {
		xp = 0
	}
	level := xp / levelThreshold
	if level > maxLevel {
		level = maxLevel
	}
	return level
}

// ComputeColor maps XP to a board color. Bands are evaluated sorted by
// descending MinXP (missing MinXP sorts last); the first band whose MinXP is
// at most xp wins, and a band without MinXP matches when its MaxXP is at
// least xp. Overlapping bands resolve by list order. When nothing matches the
// engine degrades to FallbackColor rather than producing an undefined state.
func ComputeColor(xp int, bands []ColorBand) Color {
	ordered := make([]ColorBand, len(bands))
	copy(ordered, bands)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].MinXP, ordered[j].MinXP
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})

	for _, band := range ordered {
		if band.MinXP != nil {
			if *band.MinXP <= xp {
				return band.Color
			}
			continue
		}
		if band.MaxXP != nil && *band.MaxXP >= xp {
			return band.Color
		}
	}
	return FallbackColor
}

// ApplyXPChange computes the next state for an XP delta. XP floors at zero -
// that invariant is enforced here, not left to callers. Level changes are
// only reported when the course has levels enabled.
func ApplyXPChange(currentXP, delta int, cfg ThresholdConfig) Transition {
	if currentXP < 0 {
		currentXP = 0
	}

	newXP := currentXP + delta
	if newXP < 0 {
		newXP = 0
	}

	t := Transition{
		Kind:     TransitionXPChange,
		OldXP:    currentXP,
		NewXP:    newXP,
		OldColor: ComputeColor(currentXP, cfg.ColorBands),
		NewColor: ComputeColor(newXP, cfg.ColorBands),
	}
	t.ColorChanged = t.OldColor != t.NewColor

	if cfg.EnableLevels {
		t.OldLevel = ComputeLevel(currentXP, cfg.LevelThreshold, cfg.MaxLevel)
		t.NewLevel = ComputeLevel(newXP, cfg.LevelThreshold, cfg.MaxLevel)
		t.LevelChanged = t.OldLevel != t.NewLevel
	}

	return t
}

// OverrideColor sets the color directly, bypassing threshold computation.
// The resulting color is allowed to diverge from the XP-derived one; this is
// the teacher's escape hatch, carried as its own transition kind.
func OverrideColor(currentXP, currentLevel int, currentColor, newColor Color) Transition {
	return Transition{
		Kind:         TransitionColorOverride,
		OldXP:        currentXP,
		NewXP:        currentXP,
		OldLevel:     currentLevel,
		NewLevel:     currentLevel,
		OldColor:     currentColor,
		NewColor:     newColor,
		ColorChanged: currentColor != newColor,
	}
}

// AdjustLevel applies a direct level delta, clamped to [0, maxLevel],
// bypassing threshold computation. XP and color are untouched.
func AdjustLevel(currentXP, currentLevel, delta, maxLevel int, currentColor Color) Transition {
	newLevel := currentLevel + delta
	if newLevel < 0 {
		newLevel = 0
	}
	if newLevel > maxLevel {
		newLevel = maxLevel
	}

	return Transition{
		Kind:         TransitionLevelAdjust,
		OldXP:        currentXP,
		NewXP:        currentXP,
		OldLevel:     currentLevel,
		NewLevel:     newLevel,
		OldColor:     currentColor,
		NewColor:     currentColor,
		LevelChanged: currentLevel != newLevel,
	}
}
