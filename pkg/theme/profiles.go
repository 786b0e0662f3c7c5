package theme

// Profile is a named preset selecting a smoothing factor, a denoising
// step schedule, and a motion-bias scale. Profiles are user-selectable
// independent of theme; switching one takes effect on the next mapping
// tick without a session reconnect.
type Profile struct {
	Name         string  `json:"name"`
	Smoothing    float64 `json:"smoothing"`     // low-pass alpha, 0..1
	StepSchedule []int   `json:"step_schedule"` // denoising step counts
	MotionBias   float64 `json:"motion_bias"`
}

var profiles = []Profile{
	{
		Name:         "smooth",
		Smoothing:    0.12,
		StepSchedule: []int{700, 749, 799},
		MotionBias:   0.6,
	},
	{
		Name:         "balanced",
		Smoothing:    0.25,
		StepSchedule: []int{600, 700, 800},
		MotionBias:   1.0,
	},
	{
		Name:         "punchy",
		Smoothing:    0.45,
		StepSchedule: []int{500, 650, 800},
		MotionBias:   1.5,
	},
}

// DefaultProfile returns the balanced preset.
func DefaultProfile() Profile {
	p, _ := ProfileByName("balanced")
	return p
}

// ProfileByName looks up a preset by name.
func ProfileByName(name string) (Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// ProfileNames returns the selectable preset names in display order.
func ProfileNames() []string {
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	return names
}
