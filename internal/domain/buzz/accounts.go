package buzz

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AccountsFile is the on-disk list of monitored accounts.
type AccountsFile struct {
	Categories map[string]Category `yaml:"categories"`
	Accounts   []Account           `yaml:"accounts"`
}

// Category holds per-category overrides.
type Category struct {
	BuzzThreshold float64 `yaml:"buzz_threshold"`
}

// Account is one entry of the accounts file.
type Account struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	Category  string  `yaml:"category"`
	Enabled   *bool   `yaml:"enabled"`
	Threshold float64 `yaml:"buzz_threshold"`
}

// LoadAccounts reads an accounts file and returns the entities it declares.
// A missing file yields no entities.
func LoadAccounts(path string) ([]Entity, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read accounts file %s: %w", path, err)
	}
	return ParseAccounts(data)
}

// ParseAccounts decodes accounts YAML. An account's own threshold wins over
// its category threshold; accounts are enabled unless stated otherwise.
func ParseAccounts(data []byte) ([]Entity, error) {
	var f AccountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}

	seen := make(map[string]bool, len(f.Accounts))
	entities := make([]Entity, 0, len(f.Accounts))
	for i, a := range f.Accounts {
		if a.ID == "" {
			return nil, fmt.Errorf("account %d: id is required", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("account %q declared twice", a.ID)
		}
		seen[a.ID] = true

		threshold := a.Threshold
		if threshold == 0 {
			threshold = f.Categories[a.Category].BuzzThreshold
		}
		name := a.Name
		if name == "" {
			name = a.ID
		}
		entities = append(entities, Entity{
			ID:        a.ID,
			Name:      name,
			Category:  a.Category,
			Enabled:   a.Enabled == nil || *a.Enabled,
			Threshold: threshold,
		})
	}
	return entities, nil
}
