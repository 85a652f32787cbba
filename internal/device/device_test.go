package device

import "testing"

const (
	uaChromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.75 Safari/537.36"
	uaIPhone        = "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1"
	uaAndroid       = "Mozilla/5.0 (Linux; Android 11; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0.4430.210 Mobile Safari/537.36"
	uaIPad          = "Mozilla/5.0 (iPad; CPU OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1"
)

func TestTypeFromUA(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"windows chrome", uaChromeWindows, TypeDesktop},
		{"iphone", uaIPhone, TypeMobile},
		{"android phone", uaAndroid, TypeMobile},
		{"ipad", uaIPad, TypeTablet},
		{"empty", "", TypeOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeFromUA(tt.ua); got != tt.want {
				t.Errorf("TypeFromUA() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsMobile(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		ua         string
		breakpoint int
		want       bool
	}{
		{"narrow viewport", 375, uaChromeWindows, 768, true},
		{"at breakpoint", 768, uaIPhone, 768, false},
		{"wide viewport wins over phone UA", 1024, uaIPhone, 768, false},
		{"no width phone UA", 0, uaIPhone, 768, true},
		{"no width desktop UA", 0, uaChromeWindows, 768, false},
		{"no width tablet UA", 0, uaIPad, 768, false},
		{"no information", 0, "", 768, false},
		{"default breakpoint", 700, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMobile(tt.width, tt.ua, tt.breakpoint); got != tt.want {
				t.Errorf("IsMobile() = %v, want %v", got, tt.want)
			}
		})
	}
}
