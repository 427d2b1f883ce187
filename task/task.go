package task

import (
	"github.com/randalmurphal/llmkit/model"
)

// Type represents the kind of work an agent run performs.
// This determines which model tier is appropriate.
type Type string

const (
	// Design work - needs reasoning
	ProductDevPlan Type = "product_dev_plan"
	ProductDesign  Type = "product_design"
	TechDesign     Type = "tech_design"

	// Standard dev tasks - default tier
	Implement Type = "implement"
	Review    Type = "review"
	Fix       Type = "fix"

	// Fast tasks - can use smaller models
	Summarize Type = "summarize"
	Transform Type = "transform"
)

// DefaultModelMap maps task types to default models.
var DefaultModelMap = map[Type]model.ModelName{
	ProductDevPlan: model.ModelOpus,
	ProductDesign:  model.ModelOpus,
	TechDesign:     model.ModelOpus,
	Implement:      model.ModelSonnet,
	Review:         model.ModelSonnet,
	Fix:            model.ModelSonnet,
	Summarize:      model.ModelHaiku,
	Transform:      model.ModelHaiku,
}

// TierForTask returns the appropriate tier for a task type.
func TierForTask(t Type) model.Tier {
	switch t {
	case ProductDevPlan, ProductDesign, TechDesign:
		return model.TierThinking
	case Summarize, Transform:
		return model.TierFast
	default:
		return model.TierDefault
	}
}

// NewSelector creates a model selector configured for pipeline tasks.
// It uses the standard task-to-tier mapping.
func NewSelector(opts ...model.SelectorOption) *model.Selector {
	// Prepend the tier function to use Type
	allOpts := append([]model.SelectorOption{
		model.WithTierFunc(func(task any) model.Tier {
			if t, ok := task.(Type); ok {
				return TierForTask(t)
			}
			return model.TierDefault
		}),
	}, opts...)

	return model.NewSelector(allOpts...)
}

// SelectModel selects the appropriate model for a task type.
// Uses the default model map unless overridden.
func SelectModel(t Type) model.ModelName {
	if m, ok := DefaultModelMap[t]; ok {
		return m
	}
	// Fall back to tier-based selection
	switch TierForTask(t) {
	case model.TierThinking:
		return model.ModelOpus
	case model.TierFast:
		return model.ModelHaiku
	default:
		return model.ModelSonnet
	}
}
