package policy

import (
	_ "embed"
	"fmt"

	yaml "gopkg.in/yaml.v2"

	"github.com/sentinelops/backend/internal/core"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Info describes one policy for the operator-facing catalog endpoint.
type Info struct {
	PolicyID    string        `json:"policy_id" yaml:"policy_id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Severity    core.Severity `json:"severity" yaml:"severity"`
}

// Catalog returns the policy catalog shipped with the binary.
func Catalog() ([]Info, error) {
	var doc struct {
		Policies []Info `yaml:"policies"`
	}
	if err := yaml.Unmarshal(catalogYAML, &doc); err != nil {
		return nil, fmt.Errorf("policy: catalog: %w", err)
	}
	return doc.Policies, nil
}
