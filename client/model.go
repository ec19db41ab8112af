package client

import "strings"

// Model describes one provider model: its token limits, capability tags,
// and an opaque provider-specific passthrough fragment. Looked up from a
// static per-provider catalog or user config; read-only during a request.
type Model struct {
	Client          string
	Name            string
	MaxInputTokens  *int
	MaxOutputTokens *int
	Capabilities    string // comma-separated tags, e.g. "text,vision"
	ExtraFields     map[string]any
}

// ID returns the catalog identifier "client:name".
func (m *Model) ID() string {
	return m.Client + ":" + m.Name
}

// HasCapability reports whether the model declares the given tag.
func (m *Model) HasCapability(name string) bool {
	for _, c := range strings.Split(m.Capabilities, ",") {
		if strings.TrimSpace(c) == name {
			return true
		}
	}
	return false
}

// MergeExtraFields shallow-merges the model's provider-specific passthrough
// fields into body. Extra fields win on key collision.
func (m *Model) MergeExtraFields(body map[string]any) {
	for k, v := range m.ExtraFields {
		body[k] = v
	}
}

// ModelConfig is a user-supplied model entry overriding the static catalog.
type ModelConfig struct {
	Name            string
	MaxInputTokens  *int
	MaxOutputTokens *int
	Capabilities    string
	ExtraFields     map[string]any
}

// resolveModel selects the model for a request. User-configured models take
// precedence over the static catalog; an empty name selects the first entry.
// A name absent from both yields a bare descriptor so transport-level model
// tables can report it instead.
func resolveModel(clientName, name string, catalog []Model, userModels []ModelConfig) *Model {
	if len(userModels) > 0 {
		for _, mc := range userModels {
			if name == "" || mc.Name == name {
				return &Model{
					Client:          clientName,
					Name:            mc.Name,
					MaxInputTokens:  mc.MaxInputTokens,
					MaxOutputTokens: mc.MaxOutputTokens,
					Capabilities:    mc.Capabilities,
					ExtraFields:     mc.ExtraFields,
				}
			}
		}
	}
	for i := range catalog {
		if name == "" || catalog[i].Name == name {
			m := catalog[i]
			m.Client = clientName
			return &m
		}
	}
	return &Model{Client: clientName, Name: name}
}

func intp(n int) *int { return &n }
