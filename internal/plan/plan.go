// ABOUTME: Declarative migration plan: schema operations plus the normalization mapping.
// ABOUTME: Loaded from YAML (embedded default or --plan file) and validated before use.
package plan

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/harperreed/profilectl/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultPlan []byte

// Kind names an operation type.
type Kind string

const (
	AddColumn           Kind = "add_column"
	CreateIndex         Kind = "create_index"
	SetDefaultWhereNull Kind = "set_default_where_null"
	AddCheck            Kind = "add_check"
)

// phase orders kinds: columns first, then backfills, indexes, and checks last.
var phase = map[Kind]int{
	AddColumn:           0,
	SetDefaultWhereNull: 1,
	CreateIndex:         2,
	AddCheck:            3,
}

// Operation is one declarative schema step. Which fields apply depends on Op.
type Operation struct {
	Op    Kind   `yaml:"op"`
	Table string `yaml:"table"`

	// add_column and set_default_where_null
	Column string `yaml:"column,omitempty"`

	// add_column
	Type       string `yaml:"type,omitempty"`
	Default    string `yaml:"default,omitempty"`    // SQL expression
	Constraint string `yaml:"constraint,omitempty"` // inline column constraint, e.g. REFERENCES

	// create_index and add_check
	Name string `yaml:"name,omitempty"`

	// create_index
	Expression   string `yaml:"expression,omitempty"`
	Predicate    string `yaml:"predicate,omitempty"` // also the CHECK predicate for add_check
	Unique       bool   `yaml:"unique,omitempty"`
	Concurrently *bool  `yaml:"concurrently,omitempty"`

	// set_default_where_null
	Value any `yaml:"value,omitempty"`

	// add_check: PostgREST filter selecting rows that violate Predicate.
	Offenders string `yaml:"offenders,omitempty"`
}

// IsConcurrent reports whether an index is built without blocking writes. Defaults to true.
func (o Operation) IsConcurrent() bool {
	return o.Concurrently == nil || *o.Concurrently
}

// Target names the object an operation affects, e.g. "user_profiles.country".
func (o Operation) Target() string {
	switch o.Op {
	case AddColumn, SetDefaultWhereNull:
		return o.Table + "." + o.Column
	default:
		return o.Table + "." + o.Name
	}
}

func (o Operation) String() string {
	return fmt.Sprintf("%s %s", o.Op, o.Target())
}

// Normalize configures the personal-data normalizer.
type Normalize struct {
	SourceTable string `yaml:"source_table"`
	TargetTable string `yaml:"target_table"`

	// PersonalKeys maps a profile_json key to its user_profiles column.
	// An empty column means the key is removed without being copied.
	PersonalKeys map[string]string `yaml:"personal_keys"`

	// BackfillProfileID links athlete rows to the located user_profiles row.
	BackfillProfileID bool `yaml:"backfill_profile_id"`
}

// Keys returns the mapped personal keys in stable order.
func (n Normalize) Keys() []string {
	keys := make([]string, 0, len(n.PersonalKeys))
	for k := range n.PersonalKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Plan is the full migration plan.
type Plan struct {
	Operations []Operation `yaml:"operations"`
	Normalize  Normalize   `yaml:"normalize"`
}

// Default returns the embedded plan.
func Default() (*Plan, error) {
	return Parse(defaultPlan)
}

// Load reads a plan from a YAML file. An empty path yields the default plan.
func Load(path string) (*Plan, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML plan.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks required fields, identifiers, the personal-key mapping and
// that every operation renders to exactly one statement of its kind.
func (p *Plan) Validate() error {
	for i, op := range p.Operations {
		if err := op.validateFields(); err != nil {
			return fmt.Errorf("operation %d (%s): %w", i+1, op.Op, err)
		}
		if err := op.validateSQL(); err != nil {
			return fmt.Errorf("operation %d (%s): %w", i+1, op.Target(), err)
		}
	}
	return p.Normalize.validate()
}

func (o Operation) validateFields() error {
	if _, ok := phase[o.Op]; !ok {
		return fmt.Errorf("unknown op %q", o.Op)
	}
	if !identRe.MatchString(o.Table) {
		return fmt.Errorf("invalid table name %q", o.Table)
	}
	switch o.Op {
	case AddColumn:
		if !identRe.MatchString(o.Column) {
			return fmt.Errorf("invalid column name %q", o.Column)
		}
		if o.Type == "" {
			return fmt.Errorf("type is required")
		}
	case SetDefaultWhereNull:
		if !identRe.MatchString(o.Column) {
			return fmt.Errorf("invalid column name %q", o.Column)
		}
		if o.Value == nil {
			return fmt.Errorf("value is required")
		}
	case CreateIndex:
		if !identRe.MatchString(o.Name) {
			return fmt.Errorf("invalid index name %q", o.Name)
		}
		if o.Expression == "" {
			return fmt.Errorf("expression is required")
		}
	case AddCheck:
		if !identRe.MatchString(o.Name) {
			return fmt.Errorf("invalid constraint name %q", o.Name)
		}
		if o.Predicate == "" {
			return fmt.Errorf("predicate is required")
		}
	}
	return nil
}

func (n Normalize) validate() error {
	if !identRe.MatchString(n.SourceTable) || !identRe.MatchString(n.TargetTable) {
		return fmt.Errorf("normalize: source_table and target_table are required")
	}
	for _, key := range models.PersonalKeys {
		col, ok := n.PersonalKeys[key]
		if !ok {
			return fmt.Errorf("normalize: personal key %q has no mapping; map it to a %s column or to \"\" to discard it", key, n.TargetTable)
		}
		if col != "" && !identRe.MatchString(col) {
			return fmt.Errorf("normalize: invalid target column %q for key %q", col, key)
		}
	}
	targets := map[string]string{}
	for _, key := range n.Keys() {
		if !models.IsPersonalKey(key) {
			return fmt.Errorf("normalize: %q is not a personal key", key)
		}
		col := n.PersonalKeys[key]
		if col == "" {
			continue
		}
		if other, dup := targets[col]; dup {
			return fmt.Errorf("normalize: keys %q and %q both map to column %q", other, key, col)
		}
		targets[col] = key
	}
	return nil
}

// Ordered returns operations sorted by phase, preserving declaration order
// within a phase.
func (p *Plan) Ordered() []Operation {
	ops := make([]Operation, len(p.Operations))
	copy(ops, p.Operations)
	sort.SliceStable(ops, func(i, j int) bool {
		return phase[ops[i].Op] < phase[ops[j].Op]
	})
	return ops
}

// Schema returns the schema-building operations (everything except checks), ordered.
func (p *Plan) Schema() []Operation {
	var out []Operation
	for _, op := range p.Ordered() {
		if op.Op != AddCheck {
			out = append(out, op)
		}
	}
	return out
}

// Checks returns the add_check operations in declaration order.
func (p *Plan) Checks() []Operation {
	var out []Operation
	for _, op := range p.Operations {
		if op.Op == AddCheck {
			out = append(out, op)
		}
	}
	return out
}

// Columns returns the columns added by the plan, grouped by table.
func (p *Plan) Columns() map[string][]string {
	out := map[string][]string{}
	for _, op := range p.Operations {
		if op.Op == AddColumn {
			out[op.Table] = append(out[op.Table], op.Column)
		}
	}
	return out
}

// Tables returns the tables touched by Columns in sorted order.
func (p *Plan) Tables() []string {
	cols := p.Columns()
	tables := make([]string, 0, len(cols))
	for t := range cols {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
