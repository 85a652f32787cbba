package selectors

import (
	"strconv"

	logic "github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/models"
)

// PositionSelector picks the highest-precedence ad the identity has not yet
// seen. When every candidate has been seen it repeats the top one so a
// placement never goes permanently blank.
type PositionSelector struct {
	Catalog CandidateSource
}

// NewPositionSelector creates a selector over the catalog.
func NewPositionSelector(catalog CandidateSource) *PositionSelector {
	return &PositionSelector{Catalog: catalog}
}

// NextFor returns the next candidate for position, or nil when the position
// has no candidates. A nil shown checker treats nothing as shown.
func (s *PositionSelector) NextFor(position string, shown ShownChecker) *models.Advertisement {
	return s.NextForWithTrace(position, shown, nil)
}

// NextForWithTrace behaves like NextFor and records each stage in trace.
func (s *PositionSelector) NextForWithTrace(position string, shown ShownChecker, trace *logic.SelectionTrace) *models.Advertisement {
	candidates := s.Catalog.GetForPosition(position)
	trace.AddStep("catalog", candidates)
	if len(candidates) == 0 {
		return nil
	}

	unseen := make([]models.Advertisement, 0, len(candidates))
	for _, ad := range candidates {
		if shown != nil && shown.IsShown(ad.ID) {
			continue
		}
		unseen = append(unseen, ad)
	}
	trace.AddStepWithDetails("unseen", unseen, map[string]string{
		"filtered": strconv.Itoa(len(candidates) - len(unseen)),
	})

	if len(unseen) > 0 {
		pick := unseen[0]
		return &pick
	}

	pick := candidates[0]
	trace.AddStepWithDetails("fallback", []models.Advertisement{pick}, map[string]string{"reason": "all_shown"})
	return &pick
}
