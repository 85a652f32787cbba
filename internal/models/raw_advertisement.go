package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ActiveAdsResponse is the body of GET {apiBase}/advertisements/active.
type ActiveAdsResponse struct {
	Success        bool               `json:"success"`
	Advertisements []RawAdvertisement `json:"advertisements"`
	Message        string             `json:"message,omitempty"`
}

// RawAdvertisement is an advertisement as the backend sends it. Optional
// fields are pointers so absent values can be told apart from zero values.
type RawAdvertisement struct {
	ID           string     `json:"id,omitempty"`
	MongoID      string     `json:"_id,omitempty"`
	Title        *string    `json:"title"`
	Description  *string    `json:"description"`
	MediaURL     *string    `json:"mediaUrl"`
	ImageURL     *string    `json:"imageUrl"`
	VideoURL     *string    `json:"videoUrl"`
	TargetURL    *string    `json:"targetUrl"`
	Position     *string    `json:"position"`
	Priority     *FlexInt   `json:"priority"`
	StartDate    *time.Time `json:"startDate"`
	EndDate      *time.Time `json:"endDate"`
	DisplayCap   *FlexInt   `json:"displayCap"`
	DisplayCount *FlexInt   `json:"displayCount"`
	IsActive     *bool      `json:"isActive"`
	CreatedAt    *time.Time `json:"createdAt"`
}

// Normalize fills defaults for missing fields. The returned advertisement is
// not checked for eligibility; callers filter with Advertisement.Eligible.
func (r RawAdvertisement) Normalize() (Advertisement, error) {
	ad := Advertisement{
		ID:       r.ID,
		Priority: DefaultPriority,
		Position: DefaultPosition,
		IsActive: true,
	}
	if ad.ID == "" {
		ad.ID = r.MongoID
	}
	if ad.ID == "" {
		return Advertisement{}, fmt.Errorf("advertisement without id")
	}
	if r.Title != nil {
		ad.Title = *r.Title
	}
	if r.Description != nil {
		ad.Description = *r.Description
	}
	switch {
	case r.MediaURL != nil && *r.MediaURL != "":
		ad.MediaURL = *r.MediaURL
	case r.VideoURL != nil && *r.VideoURL != "":
		ad.MediaURL = *r.VideoURL
	case r.ImageURL != nil:
		ad.MediaURL = *r.ImageURL
	}
	if r.TargetURL != nil {
		ad.TargetURL = *r.TargetURL
	}
	if r.Position != nil && *r.Position != "" {
		ad.Position = *r.Position
	}
	if r.Priority != nil {
		ad.Priority = int(*r.Priority)
	}
	ad.StartDate = r.StartDate
	ad.EndDate = r.EndDate
	if r.DisplayCap != nil {
		ad.DisplayCap = int(*r.DisplayCap)
	}
	if r.DisplayCount != nil {
		ad.DisplayCount = int(*r.DisplayCount)
	}
	if r.IsActive != nil {
		ad.IsActive = *r.IsActive
	}
	if r.CreatedAt != nil {
		ad.CreatedAt = *r.CreatedAt
	}
	return ad, nil
}

// FlexInt accepts JSON numbers and numeric strings; backends built on loosely
// typed stores send both.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			*f = FlexInt(i)
			return nil
		}
		if fl, err := n.Float64(); err == nil {
			*f = FlexInt(int64(fl))
			return nil
		}
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("flexint: %w", err)
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("flexint %q: %w", s, err)
	}
	*f = FlexInt(i)
	return nil
}
