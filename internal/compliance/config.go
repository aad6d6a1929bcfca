package compliance

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// CategoryKeywords holds the keyword list for one category. Category order
// matters: keyword signals are accumulated in config order, which fixes the
// encounter order used by the stable score sort.
type CategoryKeywords struct {
	Category string
	Keywords []string
}

// Config is the keyword/priority configuration for the classifier.
// Loaded once at process start and treated as read-only afterwards.
type Config struct {
	// Categories maps category -> keywords, in declaration order.
	Categories []CategoryKeywords

	// Priority breaks score ties; earlier entries win. The fixed
	// fallback sequence ["expense", "unknown"] is appended at
	// classification time, after the configured entries.
	Priority []string
}

// DefaultConfig returns the built-in keyword/priority configuration.
func DefaultConfig() *Config {
	return &Config{
		Categories: []CategoryKeywords{
			{Category: "income", Keywords: []string{"salary", "airdrop", "reward", "interest", "yield"}},
			{Category: "fee", Keywords: []string{"fee", "gas", "network"}},
			{Category: "trade", Keywords: []string{"swap", "trade", "exchange"}},
			{Category: "transfer", Keywords: []string{"transfer", "send", "receive"}},
		},
		Priority: []string{"income", "fee", "trade", "transfer"},
	}
}

// fileConfig mirrors the on-disk YAML layout:
//
//	keywords:
//	  income: [salary, airdrop]
//	  fee: [fee, gas]
//	priority: [income, fee]
//
// Keywords is kept as a raw node so the category declaration order
// survives decoding (Go maps would shuffle it).
type fileConfig struct {
	Keywords yaml.Node `yaml:"keywords"`
	Priority []string  `yaml:"priority"`
}

// LoadConfig reads the keyword/priority override file. A missing or
// malformed file degrades to the built-in defaults and logs a warning;
// this path never fails classification.
func LoadConfig(path string) *Config {
	if path == "" {
		return DefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("tagging config not readable, using built-in defaults",
			"path", path,
			"error", err,
		)
		return DefaultConfig()
	}

	cfg, err := parseConfig(data)
	if err != nil {
		slog.Warn("tagging config malformed, using built-in defaults",
			"path", path,
			"error", err,
		)
		return DefaultConfig()
	}

	slog.Info("tagging config loaded",
		"path", path,
		"categories", len(cfg.Categories),
		"priority_entries", len(cfg.Priority),
	)
	return cfg
}

func parseConfig(data []byte) (*Config, error) {
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	if raw.Keywords.Kind == 0 {
		return nil, fmt.Errorf("missing keywords section")
	}
	if raw.Keywords.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("keywords must be a mapping of category to keyword list")
	}

	cfg := &Config{Priority: raw.Priority}

	// Mapping nodes store alternating key/value children.
	content := raw.Keywords.Content
	for i := 0; i+1 < len(content); i += 2 {
		var category string
		if err := content[i].Decode(&category); err != nil {
			return nil, fmt.Errorf("invalid category key: %w", err)
		}

		var keywords []string
		if err := content[i+1].Decode(&keywords); err != nil {
			return nil, fmt.Errorf("invalid keyword list for %q: %w", category, err)
		}

		cfg.Categories = append(cfg.Categories, CategoryKeywords{
			Category: category,
			Keywords: keywords,
		})
	}

	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("keywords section is empty")
	}

	return cfg, nil
}
