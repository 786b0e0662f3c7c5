// Package mapping turns normalized audio signals, beat events, and the
// active theme into the generation-parameter snapshots streamed to the
// video backend.
package mapping

// Interpolation methods understood by the backend.
const (
	InterpLinear = "linear"
	InterpSlerp  = "slerp"
)

// PromptEntry is one weighted prompt anchor.
type PromptEntry struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// Transition describes an in-flight prompt blend toward a target set.
type Transition struct {
	TargetPrompts       []PromptEntry `json:"target_prompts"`
	NumSteps            int           `json:"num_steps"`
	InterpolationMethod string        `json:"interpolation_method"`
}

// GenerationParameters is the only artifact sent to the backend. It has
// no identity beyond "current value" and is continuously overwritten.
type GenerationParameters struct {
	Prompts             []PromptEntry `json:"prompts"`
	NegativePrompt      string        `json:"negative_prompt,omitempty"`
	DenoisingSteps      []int         `json:"denoising_steps"`
	NoiseScale          float64       `json:"noise_scale"`
	InterpolationMethod string        `json:"interpolation_method"`
	Transition          *Transition   `json:"transition,omitempty"`
}

// Clone returns a deep copy so a snapshot handed to a sender can never
// be mutated by a later tick.
func (p GenerationParameters) Clone() GenerationParameters {
	out := p
	out.Prompts = append([]PromptEntry(nil), p.Prompts...)
	out.DenoisingSteps = append([]int(nil), p.DenoisingSteps...)
	if p.Transition != nil {
		t := *p.Transition
		t.TargetPrompts = append([]PromptEntry(nil), p.Transition.TargetPrompts...)
		out.Transition = &t
	}
	return out
}
