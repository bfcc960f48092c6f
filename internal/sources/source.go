// Package sources holds the configured AI backends and builds per-item fallback chains.
package sources

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
)

// Source is one configured backend credential and profile.
type Source struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Provider constants.Provider `json:"provider"`
	APIKey   string             `json:"api_key,omitempty"`
	Model    string             `json:"model"`
	Enabled  bool               `json:"enabled"`
	Traits   string             `json:"traits,omitempty"`
	BaseURL  string             `json:"base_url,omitempty"`
	// ThinkingBudget is only read by providers with a reasoning budget. nil keeps the provider default.
	ThinkingBudget *int32 `json:"thinking_budget,omitempty"`
}

// Eligible reports whether the source may take part in a scan.
func (s Source) Eligible() bool {
	return s.Enabled && strings.TrimSpace(s.APIKey) != ""
}

// SupportsPDF reports whether the source's provider accepts PDF input.
func (s Source) SupportsPDF() bool {
	return s.Provider.SupportsPDF()
}

// Redacted returns a copy safe to hand to API clients.
func (s Source) Redacted() Source {
	if s.APIKey != "" {
		k := s.APIKey
		if len(k) > 4 {
			k = k[len(k)-4:]
		}
		s.APIKey = "…" + k
	}
	return s
}

// Validate checks the fields required to store a source.
func (s Source) Validate() error {
	return common.NewValidator().
		Field("id", s.ID, common.Required, common.MaxLength(64)).
		Field("name", s.Name, common.MaxLength(128)).
		Field("provider", string(s.Provider), common.OneOf(constants.AsStringSlice()...)).
		Field("base_url", s.BaseURL, common.OptionalURL).
		Error()
}

// FromConfig converts configured sources, canonicalizing provider names and filling defaults.
func FromConfig(cfgs []common.SourceConfig) ([]Source, error) {
	out := make([]Source, 0, len(cfgs))
	for i, c := range cfgs {
		p, ok := constants.Canonicalize(c.Provider)
		if !ok {
			return nil, fmt.Errorf("source %d: unknown provider %q", i, c.Provider)
		}
		s := Source{
			ID:             c.ID,
			Name:           c.Name,
			Provider:       p,
			APIKey:         c.APIKey,
			Model:          c.Model,
			Enabled:        c.IsEnabled(),
			Traits:         c.Traits,
			BaseURL:        c.BaseURL,
			ThinkingBudget: c.ThinkingBudget,
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.Name == "" {
			s.Name = string(p)
		}
		out = append(out, s)
	}
	return out, nil
}
