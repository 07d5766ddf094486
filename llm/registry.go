package llm

import (
	"fmt"
	"strings"
)

// ProviderType identifies the wire-protocol family a provider speaks.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderResponses ProviderType = "responses"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderGoogle    ProviderType = "google"
	ProviderCustom    ProviderType = "custom"
)

// vendorDefaults holds the per-family fallbacks used when a descriptor leaves
// base URL or model empty.
type vendorDefaults struct {
	baseURL string
	model   string
}

var registry = map[ProviderType]vendorDefaults{
	ProviderOpenAI:    {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini"},
	ProviderResponses: {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini"},
	ProviderAnthropic: {baseURL: "https://api.anthropic.com/v1", model: "claude-3-5-sonnet-latest"},
	ProviderGoogle:    {baseURL: "https://generativelanguage.googleapis.com/v1beta", model: "gemini-1.5-pro"},
	ProviderCustom:    {},
}

// ProviderTypes returns every supported provider type in display order.
func ProviderTypes() []ProviderType {
	return []ProviderType{ProviderOpenAI, ProviderResponses, ProviderAnthropic, ProviderGoogle, ProviderCustom}
}

// ParseProviderType maps a stored or user-supplied type name onto the closed
// enumeration. Matching is case-insensitive; unknown names become custom.
func ParseProviderType(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return ProviderOpenAI
	case "responses", "openai-responses", "openai_responses":
		return ProviderResponses
	case "anthropic":
		return ProviderAnthropic
	case "google", "gemini":
		return ProviderGoogle
	default:
		return ProviderCustom
	}
}

// String implements fmt.Stringer.
func (t ProviderType) String() string {
	return string(t)
}

// Valid reports whether t is a member of the closed enumeration.
func (t ProviderType) Valid() bool {
	_, ok := registry[t]
	return ok
}

// DefaultBaseURL returns the family's default API base, or "" for custom.
func (t ProviderType) DefaultBaseURL() string {
	return registry[t].baseURL
}

// DefaultModel returns the family's default model name, or "" for custom.
func (t ProviderType) DefaultModel() string {
	return registry[t].model
}

// UnmarshalYAML accepts any spelling ParseProviderType understands.
func (t *ProviderType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("provider type: %w", err)
	}
	*t = ParseProviderType(s)
	return nil
}
