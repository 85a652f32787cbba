package selectors

import (
	"testing"

	logic "github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/models"
)

type shownIDs map[string]bool

func (s shownIDs) IsShown(id string) bool { return s[id] }

func testCatalog() *models.InMemoryCatalogStore {
	return models.NewTestCatalogStore(
		models.Advertisement{ID: "low", Position: "home_top", Priority: 3},
		models.Advertisement{ID: "top", Position: "home_top", Priority: 1},
		models.Advertisement{ID: "mid", Position: "home_top", Priority: 2},
	)
}

func TestPositionSelector_NextFor(t *testing.T) {
	sel := NewPositionSelector(testCatalog())

	tests := []struct {
		name     string
		position string
		shown    ShownChecker
		want     string
	}{
		{"unknown position", "sidebar", nil, ""},
		{"nothing shown", "home_top", shownIDs{}, "top"},
		{"nil shown checker", "home_top", nil, "top"},
		{"skips shown", "home_top", shownIDs{"top": true}, "mid"},
		{"skips several", "home_top", shownIDs{"top": true, "mid": true}, "low"},
		{"all shown falls back to top", "home_top", shownIDs{"top": true, "mid": true, "low": true}, "top"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sel.NextFor(tt.position, tt.shown)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("expected nil, got %s", got.ID)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected %s, got nil", tt.want)
			}
			if got.ID != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got.ID)
			}
		})
	}
}

func TestPositionSelector_Trace(t *testing.T) {
	sel := NewPositionSelector(testCatalog())
	var trace logic.SelectionTrace

	got := sel.NextForWithTrace("home_top", shownIDs{"top": true, "mid": true, "low": true}, &trace)
	if got == nil || got.ID != "top" {
		t.Fatalf("expected fallback to top, got %+v", got)
	}
	if len(trace.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(trace.Steps))
	}
	if trace.Steps[0].Stage != "catalog" || len(trace.Steps[0].AdIDs) != 3 {
		t.Errorf("unexpected catalog step: %+v", trace.Steps[0])
	}
	if trace.Steps[1].Details["filtered"] != "3" {
		t.Errorf("expected 3 filtered, got %s", trace.Steps[1].Details["filtered"])
	}
	if trace.Steps[2].Stage != "fallback" {
		t.Errorf("expected fallback stage, got %s", trace.Steps[2].Stage)
	}
}

func TestPositionSelector_ReturnsCopy(t *testing.T) {
	catalog := testCatalog()
	sel := NewPositionSelector(catalog)

	got := sel.NextFor("home_top", nil)
	got.Title = "changed"

	if catalog.GetAd("top").Title == "changed" {
		t.Error("selector result aliases catalog data")
	}
}

var _ Selector = (*PositionSelector)(nil)
