package models

import "fmt"

// Placement sizes accepted from callers.
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// PlacementConfig is what a page supplies when it mounts an ad slot. Zero
// values mean "use the service default".
type PlacementConfig struct {
	// Position is the named page slot the placement draws candidates from.
	Position string `json:"position"`
	// DisplayDuration is the auto-close timer in seconds.
	DisplayDuration int    `json:"display_duration,omitempty"`
	Size            string `json:"size,omitempty"`
	ShowOnMobile    bool   `json:"show_on_mobile,omitempty"`
	// AutoRotateInterval is the replace-while-visible timer in minutes.
	AutoRotateInterval int `json:"auto_rotate_interval,omitempty"`
	MaxAdsPerSession   int `json:"max_ads_per_session,omitempty"`
}

// Validate checks the caller-supplied fields.
func (c PlacementConfig) Validate() error {
	if c.Position == "" {
		return fmt.Errorf("position is required")
	}
	if c.DisplayDuration < 0 || c.AutoRotateInterval < 0 || c.MaxAdsPerSession < 0 {
		return fmt.Errorf("durations and limits must not be negative")
	}
	switch c.Size {
	case "", SizeSmall, SizeMedium, SizeLarge:
	default:
		return fmt.Errorf("unknown size %q", c.Size)
	}
	return nil
}

// EffectiveSize returns the configured size, medium when unset.
func (c PlacementConfig) EffectiveSize() string {
	if c.Size == "" {
		return SizeMedium
	}
	return c.Size
}
