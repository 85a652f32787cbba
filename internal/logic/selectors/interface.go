package selectors

import (
	logic "github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/models"
)

// CandidateSource provides the ordered candidate list of a position.
type CandidateSource interface {
	GetForPosition(position string) []models.Advertisement
}

// ShownChecker answers whether an identity has already seen an ad.
type ShownChecker interface {
	IsShown(id string) bool
}

// Selector defines a pluggable interface for choosing the next ad of a position.
type Selector interface {
	NextFor(position string, shown ShownChecker) *models.Advertisement
	NextForWithTrace(position string, shown ShownChecker, trace *logic.SelectionTrace) *models.Advertisement
}
