package constants

import "strings"

// Provider identifies the vendor behind a configured AI source.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

var allProviders = []Provider{ProviderGemini, ProviderOpenAI}

// SupportsPDF reports whether the provider accepts inline PDF payloads.
func (p Provider) SupportsPDF() bool {
	return p == ProviderGemini
}

// DefaultModel is used when a source is created without an explicit model.
func (p Provider) DefaultModel() string {
	switch p {
	case ProviderGemini:
		return "gemini-2.5-pro"
	case ProviderOpenAI:
		return "gpt-4.1-mini"
	}
	return ""
}

func AsStringSlice() []string {
	result := make([]string, len(allProviders))
	for i, p := range allProviders {
		result[i] = string(p)
	}
	return result
}

// Canonicalize maps loose user input onto a known provider.
func Canonicalize(input string) (Provider, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}

	synonyms := map[string]Provider{
		"google":            ProviderGemini,
		"googleai":          ProviderGemini,
		"gemini-api":        ProviderGemini,
		"chatgpt":           ProviderOpenAI,
		"openai-compatible": ProviderOpenAI,
	}
	if p, ok := synonyms[normalized]; ok {
		return p, true
	}
	for _, p := range allProviders {
		if normalized == string(p) {
			return p, true
		}
	}
	return "", false
}
