// Package catalog provides the built-in challenge list used when the brain service is
// unreachable and nothing is cached.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"

	"aquarium-dashboard/pkg/models"

	"gopkg.in/yaml.v3"
)

//go:embed challenges.yaml
var defaultCatalog []byte

type endpointFile struct {
	URL     string `yaml:"url"`
	Method  string `yaml:"method"`
	Service string `yaml:"service"`
}

type challengeFile struct {
	ID                 int           `yaml:"id"`
	Name               string        `yaml:"name"`
	Title              string        `yaml:"title"`
	Description        string        `yaml:"description"`
	Hint               string        `yaml:"hint"`
	Service            string        `yaml:"service"`
	File               string        `yaml:"file"`
	Function           string        `yaml:"function"`
	ValidationEndpoint *endpointFile `yaml:"validation_endpoint"`
}

type catalogFile struct {
	Challenges []challengeFile `yaml:"challenges"`
}

// Parse decodes a YAML catalog. Every challenge starts out pending; ids must be unique
// and positive.
func Parse(data []byte) (*models.ChallengesResponse, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	seen := make(map[int]bool, len(cf.Challenges))
	out := make([]models.Challenge, 0, len(cf.Challenges))
	for _, c := range cf.Challenges {
		if c.ID <= 0 {
			return nil, fmt.Errorf("challenge %q has invalid id %d", c.Name, c.ID)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate challenge id %d", c.ID)
		}
		seen[c.ID] = true

		ch := models.Challenge{
			ID:          c.ID,
			Name:        c.Name,
			Title:       c.Title,
			Description: c.Description,
			Status:      models.ChallengePending,
			Hint:        c.Hint,
			Service:     c.Service,
			File:        c.File,
			Function:    c.Function,
		}
		if ep := c.ValidationEndpoint; ep != nil {
			ch.ValidationEndpoint = &models.ValidationEndpoint{URL: ep.URL, Method: ep.Method, Service: ep.Service}
		}
		out = append(out, ch)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return &models.ChallengesResponse{Challenges: out, Total: len(out)}, nil
}

// Default returns a fresh copy of the built-in catalog.
func Default() *models.ChallengesResponse {
	resp, err := Parse(defaultCatalog)
	if err != nil {
		// The embedded file is covered by tests
		panic(err)
	}
	return resp
}
