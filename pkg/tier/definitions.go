package tier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tokenledger/quota-proxy/pkg/model"
)

// TierDef is one tier's configuration: its daily token budget and the
// model-name prefixes that classify into it.
type TierDef struct {
	DailyTokenLimit int64    `yaml:"daily_token_limit"`
	Prefixes        []string `yaml:"prefixes"`
}

// Definitions holds the full tier configuration.
type Definitions struct {
	Premium TierDef `yaml:"premium"`
	Mini    TierDef `yaml:"mini"`
}

// DefaultDefinitions returns the built-in tier configuration for the
// OpenAI model family.
func DefaultDefinitions() *Definitions {
	return &Definitions{
		Premium: TierDef{
			DailyTokenLimit: 10_000_000,
			Prefixes: []string{
				"gpt-5", "gpt-4.1", "gpt-4o", "gpt-4", "chatgpt-4o",
				"o1", "o3", "o4",
			},
		},
		Mini: TierDef{
			DailyTokenLimit: 50_000_000,
			Prefixes: []string{
				"gpt-5-mini", "gpt-5-nano",
				"gpt-4.1-mini", "gpt-4.1-nano", "gpt-4o-mini",
				"o1-mini", "o3-mini", "o4-mini",
				"gpt-3.5",
			},
		},
	}
}

// LoadDefinitions reads tier definitions from a YAML file.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier definitions: %w", err)
	}

	var file struct {
		Tiers Definitions `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tier definitions: %w", err)
	}

	defs := file.Tiers
	if err := defs.validate(); err != nil {
		return nil, fmt.Errorf("tier definitions %s: %w", path, err)
	}
	return &defs, nil
}

// Limits returns the per-tier daily token limits.
func (d *Definitions) Limits() map[model.Tier]int64 {
	return map[model.Tier]int64{
		model.TierPremium: d.Premium.DailyTokenLimit,
		model.TierMini:    d.Mini.DailyTokenLimit,
	}
}

func (d *Definitions) validate() error {
	if d.Premium.DailyTokenLimit <= 0 {
		return fmt.Errorf("premium daily_token_limit must be positive, got %d", d.Premium.DailyTokenLimit)
	}
	if d.Mini.DailyTokenLimit <= 0 {
		return fmt.Errorf("mini daily_token_limit must be positive, got %d", d.Mini.DailyTokenLimit)
	}
	if len(d.Premium.Prefixes) == 0 {
		return fmt.Errorf("premium tier has no prefixes")
	}
	if len(d.Mini.Prefixes) == 0 {
		return fmt.Errorf("mini tier has no prefixes")
	}
	return nil
}
