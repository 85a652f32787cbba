package logic

import "github.com/patrickwarner/adrotator/internal/models"

// TraceStep records the candidate advertisements left after a selection stage.
type TraceStep struct {
	Stage   string            `json:"stage"`
	AdIDs   []string          `json:"ad_ids"`
	Details map[string]string `json:"details,omitempty"`
}

// SelectionTrace captures the ordered list of steps performed by a selector.
type SelectionTrace struct {
	Steps []TraceStep `json:"steps"`
}

// AddStep appends a trace entry for the given stage using the supplied ads.
func (t *SelectionTrace) AddStep(stage string, ads []models.Advertisement) {
	t.AddStepWithDetails(stage, ads, nil)
}

// AddStepWithDetails appends a trace entry with additional details about filtering.
func (t *SelectionTrace) AddStepWithDetails(stage string, ads []models.Advertisement, details map[string]string) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: stage, AdIDs: make([]string, 0, len(ads)), Details: details}
	for _, ad := range ads {
		step.AdIDs = append(step.AdIDs, ad.ID)
	}
	t.Steps = append(t.Steps, step)
}
