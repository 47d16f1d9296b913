package playground

import "github.com/anotherai-dev/anotherai-sub001/internal/domain"

// Matrix expands into the cartesian product of its populated dimensions,
// each combination applied on top of Base. An empty dimension contributes
// Base's own value.
type Matrix struct {
	Base domain.Version `json:"base"`

	Models        []string           `json:"models,omitempty"`
	Temperatures  []float64          `json:"temperatures,omitempty"`
	Prompts       [][]domain.Message `json:"prompts,omitempty"`
	ToolLists     [][]domain.Tool    `json:"tool_lists,omitempty"`
	OutputSchemas []map[string]any   `json:"output_schemas,omitempty"`
}

// Expand materializes the version grid.
func (m *Matrix) Expand() []domain.Version {
	out := []domain.Version{m.Base}

	if len(m.Models) > 0 {
		out = cross(out, m.Models, func(v *domain.Version, model string) {
			v.Model = model
		})
	}
	if len(m.Temperatures) > 0 {
		out = cross(out, m.Temperatures, func(v *domain.Version, t float64) {
			temp := t
			v.Temperature = &temp
		})
	}
	if len(m.Prompts) > 0 {
		out = cross(out, m.Prompts, func(v *domain.Version, p []domain.Message) {
			v.Prompt = p
		})
	}
	if len(m.ToolLists) > 0 {
		out = cross(out, m.ToolLists, func(v *domain.Version, tools []domain.Tool) {
			v.EnabledTools = tools
		})
	}
	if len(m.OutputSchemas) > 0 {
		out = cross(out, m.OutputSchemas, func(v *domain.Version, s map[string]any) {
			v.OutputSchema = s
		})
	}
	return out
}

func cross[T any](versions []domain.Version, values []T, apply func(*domain.Version, T)) []domain.Version {
	out := make([]domain.Version, 0, len(versions)*len(values))
	for _, base := range versions {
		for _, value := range values {
			v := base
			apply(&v, value)
			out = append(out, v)
		}
	}
	return out
}
