package pricing

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknownModel is returned when a model has no configured rates.
// Unknown models fail closed rather than silently charging zero.
var ErrUnknownModel = errors.New("unknown pricing model")

// Rate holds the per-1000-token prices for one model, in USD.
type Rate struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// Table maps (model) to token rates and computes metered cost.
// A markup percentage, when configured, is applied as a straightforward
// percentage of the base provider cost.
type Table struct {
	mu            sync.RWMutex
	rates         map[string]Rate
	markupPercent float64
}

// NewTable creates a pricing table from an explicit rate map.
func NewTable(rates map[string]Rate, markupPercent float64) *Table {
	if rates == nil {
		rates = make(map[string]Rate)
	}
	return &Table{rates: rates, markupPercent: markupPercent}
}

// DefaultTable returns a table seeded with rates for common models.
func DefaultTable() *Table {
	return NewTable(map[string]Rate{
		"gpt-3.5-turbo":          {InputPer1K: 0.0015, OutputPer1K: 0.002},
		"gpt-4":                  {InputPer1K: 0.03, OutputPer1K: 0.06},
		"gpt-4-turbo":            {InputPer1K: 0.01, OutputPer1K: 0.03},
		"gpt-4o":                 {InputPer1K: 0.005, OutputPer1K: 0.015},
		"gpt-4o-mini":            {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"claude-3-haiku":         {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		"claude-3-sonnet":        {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-opus":          {InputPer1K: 0.015, OutputPer1K: 0.075},
		"gemini-1.5-flash":       {InputPer1K: 0.000075, OutputPer1K: 0.0003},
		"gemini-1.5-pro":         {InputPer1K: 0.00125, OutputPer1K: 0.005},
		"text-embedding-3-small": {InputPer1K: 0.00002, OutputPer1K: 0},
	}, 0)
}

// tableFile is the YAML layout of a pricing file.
type tableFile struct {
	MarkupPercent float64         `yaml:"markup_percent"`
	Models        map[string]Rate `yaml:"models"`
}

// LoadFile reads a pricing table from a YAML file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}
	if len(tf.Models) == 0 {
		return nil, fmt.Errorf("pricing file %s defines no models", path)
	}

	return NewTable(tf.Models, tf.MarkupPercent), nil
}

// Cost computes the charge for one metered operation:
// (inputTokens * rateIn + outputTokens * rateOut) / 1000, plus markup.
func (t *Table) Cost(model string, inputTokens, outputTokens int) (float64, error) {
	t.mu.RLock()
	rate, ok := t.rates[model]
	markup := t.markupPercent
	t.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}

	base := (float64(inputTokens)*rate.InputPer1K + float64(outputTokens)*rate.OutputPer1K) / 1000.0
	if markup > 0 {
		base *= 1 + markup/100.0
	}
	return base, nil
}

// Rate returns the configured rate for a model.
func (t *Table) Rate(model string) (Rate, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rate, ok := t.rates[model]
	if !ok {
		return Rate{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return rate, nil
}

// SetMarkup replaces the markup percentage applied on top of base rates.
func (t *Table) SetMarkup(percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markupPercent = percent
}

// SetRate adds or replaces the rate for a model.
func (t *Table) SetRate(model string, rate Rate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates[model] = rate
}

// Models lists every model with configured rates.
func (t *Table) Models() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.rates))
	for model := range t.rates {
		out = append(out, model)
	}
	return out
}
