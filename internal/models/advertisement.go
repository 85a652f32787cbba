package models

import (
	"net/url"
	"path"
	"sort"
	"strings"
	"time"
)

// Defaults applied to raw records that omit a field.
const (
	DefaultPriority = 5
	DefaultPosition = "general"
)

// Advertisement is a single piece of promotional content bound to one page
// position. Records are immutable once fetched; a catalog refresh replaces
// them wholesale.
type Advertisement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// MediaURL points at an image, a video file or a streaming manifest. The
	// kind is derived from the URL, see MediaKind.
	MediaURL  string `json:"media_url,omitempty"`
	TargetURL string `json:"target_url,omitempty"`
	Position  string `json:"position"`
	// Priority orders candidates within a position. Lower values win.
	Priority  int        `json:"priority"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	// DisplayCap is the maximum number of displays; zero means uncapped.
	DisplayCap   int       `json:"display_cap,omitempty"`
	DisplayCount int       `json:"display_count"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Eligible reports whether the advertisement may be selected at now: it must
// be active, inside its window when one is set, and below its display cap.
func (a Advertisement) Eligible(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if a.StartDate != nil && now.Before(*a.StartDate) {
		return false
	}
	if a.EndDate != nil && now.After(*a.EndDate) {
		return false
	}
	if a.DisplayCap > 0 && a.DisplayCount >= a.DisplayCap {
		return false
	}
	return true
}

// MediaKind classifies an advertisement's media asset.
type MediaKind string

const (
	MediaNone   MediaKind = "none"
	MediaImage  MediaKind = "image"
	MediaVideo  MediaKind = "video"
	MediaStream MediaKind = "stream"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".webm": true, ".ogg": true, ".ogv": true, ".mov": true, ".m4v": true, ".avi": true, ".mkv": true,
}

var streamExtensions = map[string]bool{
	".m3u8": true, ".mpd": true,
}

// MediaKind derives the asset kind from the media URL's extension or path.
func (a Advertisement) MediaKind() MediaKind {
	if a.MediaURL == "" {
		return MediaNone
	}
	p := a.MediaURL
	if u, err := url.Parse(a.MediaURL); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.ToLower(p)
	ext := path.Ext(p)
	switch {
	case streamExtensions[ext], strings.Contains(p, "/manifest"):
		return MediaStream
	case videoExtensions[ext], strings.Contains(p, "/video/"):
		return MediaVideo
	default:
		return MediaImage
	}
}

// IsVideo reports whether the media needs a player (file or stream).
func (a Advertisement) IsVideo() bool {
	k := a.MediaKind()
	return k == MediaVideo || k == MediaStream
}

// SortAdvertisements orders ads by ascending priority, newest first on ties.
func SortAdvertisements(ads []Advertisement) {
	sort.SliceStable(ads, func(i, j int) bool {
		if ads[i].Priority != ads[j].Priority {
			return ads[i].Priority < ads[j].Priority
		}
		return ads[i].CreatedAt.After(ads[j].CreatedAt)
	})
}

// GroupByPosition buckets ads by position, keeping the first occurrence of
// each id per position, and sorts every bucket.
func GroupByPosition(ads []Advertisement) map[string][]Advertisement {
	groups := make(map[string][]Advertisement)
	seen := make(map[string]map[string]struct{})
	for _, ad := range ads {
		ids, ok := seen[ad.Position]
		if !ok {
			ids = make(map[string]struct{})
			seen[ad.Position] = ids
		}
		if _, dup := ids[ad.ID]; dup {
			continue
		}
		ids[ad.ID] = struct{}{}
		groups[ad.Position] = append(groups[ad.Position], ad)
	}
	for pos := range groups {
		SortAdvertisements(groups[pos])
	}
	return groups
}
