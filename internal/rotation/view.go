package rotation

import "github.com/patrickwarner/adrotator/internal/models"

// View is what a client should render for a placement.
type View struct {
	PlacementID       string                `json:"placement_id"`
	Position          string                `json:"position"`
	Size              string                `json:"size"`
	Phase             Phase                 `json:"phase"`
	Visible           bool                  `json:"visible"`
	Ad                *models.Advertisement `json:"ad,omitempty"`
	MediaKind         models.MediaKind      `json:"media_kind,omitempty"`
	Playing           bool                  `json:"playing"`
	Muted             bool                  `json:"muted"`
	SessionShownCount int                   `json:"session_shown_count"`
	// Suppressed is set when the ad is hidden because of the device.
	Suppressed bool `json:"suppressed,omitempty"`
}

// Render returns the view for a device. On a mobile viewport a placement
// not configured for mobile renders nothing; the machine keeps running.
func (p *Placement) Render(mobile bool) View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked(mobile)
}

// ShowOnMobile reports whether the placement renders on mobile viewports.
func (p *Placement) ShowOnMobile() bool { return p.opts.ShowOnMobile }

func (p *Placement) viewLocked(mobile bool) View {
	v := View{
		PlacementID:       p.opts.ID,
		Position:          p.opts.Position,
		Size:              p.opts.Size,
		Phase:             p.state.Phase,
		SessionShownCount: p.state.SessionShownCount,
	}
	if !p.state.Visible || p.state.Current == nil {
		return v
	}
	ad := *p.state.Current
	v.Visible = true
	v.Ad = &ad
	v.MediaKind = ad.MediaKind()
	v.Playing = p.state.Playing
	v.Muted = p.state.Muted
	return v.ForDevice(mobile, p.opts.ShowOnMobile)
}

// ForDevice hides the ad of a desktop view on mobile viewports unless the
// placement opted into mobile display.
func (v View) ForDevice(mobile, showOnMobile bool) View {
	if !mobile || showOnMobile || !v.Visible {
		return v
	}
	v.Visible = false
	v.Ad = nil
	v.MediaKind = ""
	v.Playing = false
	v.Muted = false
	v.Suppressed = true
	return v
}
