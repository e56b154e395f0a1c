package model

// DefaultFramework is assumed when the analysis step doesn't name one.
const DefaultFramework = "react"

// Requirements is the structured output of the "understand requirements" step.
// The code generation service used to hand back an arbitrarily shaped object;
// the fields the file planner actually branches on are typed here and
// everything else rides in Extras.
type Requirements struct {
	AppName     string            `json:"app_name"`
	Framework   string            `json:"framework"` // DefaultFramework when empty
	Description string            `json:"description,omitempty"`
	Features    []string          `json:"features,omitempty"`
	Plan        []PlanItem        `json:"plan,omitempty"`
	EnvVars     []EnvVar          `json:"env_vars,omitempty"`
	Extras      map[string]string `json:"extras,omitempty"`
}

// PlanItem is one unit of the file plan; the build path generates one core
// file per item.
type PlanItem struct {
	Path     string `json:"path"`
	Purpose  string `json:"purpose"`
	Language string `json:"language,omitempty"`
}

// NormalizedFramework returns the framework with the documented default applied.
func (r *Requirements) NormalizedFramework() string {
	if r == nil || r.Framework == "" {
		return DefaultFramework
	}
	return r.Framework
}
