package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines an end-to-end engine test.
// Scenarios execute a sequence of steps against a fresh engine and assert
// on the resulting local store, offline queue, and fake backend.
type Scenario struct {
	// Name uniquely identifies this scenario. Doubles as the golden file
	// name when Golden is set.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Online is the starting connectivity state. Defaults to false so a
	// scenario that forgets to say is the harder, offline-first case.
	Online bool `yaml:"online"`

	// Seed contains rows created directly in the local store before the
	// flow, bypassing the engine (projects, categories, tax presets).
	Seed []SeedEntry `yaml:"seed,omitempty"`

	// Steps is the main flow.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`

	// Golden enables a state snapshot compared against
	// testdata/golden/{Name}.golden.
	Golden bool `yaml:"golden,omitempty"`
}

// SeedEntry creates a supporting row before the flow runs.
type SeedEntry struct {
	// Kind is "project", "category" or "tax_preset".
	Kind string `yaml:"kind"`
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`

	// ItemizationDisabled applies to categories.
	ItemizationDisabled bool `yaml:"itemization_disabled,omitempty"`

	// Rate applies to tax presets, as a decimal string.
	Rate string `yaml:"rate,omitempty"`
}

// Step is one action in the flow. Action selects the variant; the other
// fields are read per action and ignored otherwise.
type Step struct {
	// Action is one of: create_transaction, update_transaction,
	// delete_transaction, create_item, update_item, delete_item, allocate,
	// sell, return, move, set_online, drain, flush_review, fail_next.
	Action string `yaml:"action"`

	// As registers the created transaction's ID under this name for later
	// steps to reference.
	As string `yaml:"as,omitempty"`

	// Transaction and Item reference an entity: a name registered with
	// "as", or a literal ID (canonical INV_* IDs are written literally).
	Transaction string `yaml:"transaction,omitempty"`
	Item        string `yaml:"item,omitempty"`

	// Decimal strings. Empty means unset.
	Amount        string `yaml:"amount,omitempty"`
	Subtotal      string `yaml:"subtotal,omitempty"`
	PurchasePrice string `yaml:"purchase_price,omitempty"`
	ProjectPrice  string `yaml:"project_price,omitempty"`
	MarketValue   string `yaml:"market_value,omitempty"`

	TaxRate  string `yaml:"tax_rate,omitempty"`
	Category string `yaml:"category,omitempty"`
	Project  string `yaml:"project,omitempty"`
	Name     string `yaml:"name,omitempty"`

	// Items are child items for create_transaction.
	Items []StepItem `yaml:"items,omitempty"`

	// KeepEmpty applies to move: preserve an emptied canonical transaction.
	KeepEmpty bool `yaml:"keep_empty,omitempty"`

	// OnlineState applies to set_online.
	OnlineState bool `yaml:"state,omitempty"`

	// Method, Table, Code and Field configure fail_next: the fake backend
	// rejects the next matching call with the given error.
	Method string `yaml:"method,omitempty"`
	Table  string `yaml:"table,omitempty"`
	Code   string `yaml:"code,omitempty"`
	Field  string `yaml:"field,omitempty"`

	// ExpectError marks a step whose command must fail.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

// StepItem is a child item in a create_transaction step.
type StepItem struct {
	As            string `yaml:"as,omitempty"`
	Name          string `yaml:"name"`
	PurchasePrice string `yaml:"purchase_price,omitempty"`
	ProjectPrice  string `yaml:"project_price,omitempty"`
	MarketValue   string `yaml:"market_value,omitempty"`
	Category      string `yaml:"category,omitempty"`
}

// Assertion validates one fact about the final state.
type Assertion struct {
	// Kind is one of: queue_depth, tx_amount, tx_exists, needs_review,
	// disposition, edge_count, remote_count, remote_field.
	Kind string `yaml:"kind"`

	Transaction string `yaml:"transaction,omitempty"`
	Item        string `yaml:"item,omitempty"`
	Table       string `yaml:"table,omitempty"`
	Field       string `yaml:"field,omitempty"`

	// Equals is the expected value, compared as a string (decimals in
	// fixed two-digit form, booleans as "true"/"false", counts as digits).
	Equals string `yaml:"equals"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadDir loads every .yaml scenario under dir, sorted by file name so the
// test order is stable.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir %s: %w", dir, err)
	}

	var paths []string
	for _, en := range entries {
		if en.IsDir() {
			continue
		}
		ext := filepath.Ext(en.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		paths = append(paths, filepath.Join(dir, en.Name()))
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// Validate rejects scenarios the runner cannot execute.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, "/\\ ") {
		return fmt.Errorf("name %q must be a bare file-safe token", s.Name)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, step := range s.Steps {
		if step.Action == "" {
			return fmt.Errorf("step %d: action is required", i)
		}
	}
	return nil
}
