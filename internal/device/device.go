// Package device decides whether a request comes from a mobile viewport.
package device

import "github.com/avct/uasurfer"

// Device classes derived from the User-Agent.
const (
	TypeDesktop = "desktop"
	TypeMobile  = "mobile"
	TypeTablet  = "tablet"
	TypeOther   = "other"
)

// DefaultBreakpoint is the viewport width below which a client is mobile.
const DefaultBreakpoint = 768

// TypeFromUA parses a raw User-Agent string into a device class.
func TypeFromUA(ua string) string {
	u := uasurfer.Parse(ua)
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		return TypeDesktop
	case uasurfer.DevicePhone:
		return TypeMobile
	case uasurfer.DeviceTablet:
		return TypeTablet
	default:
		return TypeOther
	}
}

// IsMobile reports whether the client should get the mobile presentation.
// A known viewport width wins; otherwise only phones count as mobile.
func IsMobile(viewportWidth int, ua string, breakpoint int) bool {
	if breakpoint <= 0 {
		breakpoint = DefaultBreakpoint
	}
	if viewportWidth > 0 {
		return viewportWidth < breakpoint
	}
	if ua == "" {
		return false
	}
	return TypeFromUA(ua) == TypeMobile
}
