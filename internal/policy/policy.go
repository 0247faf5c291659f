// Package policy loads the query policy document: which statements, tables
// and columns generated SQL may touch, the row cap, and the lexical patterns
// and functions that are never allowed.
//
// A Document is built once at startup and is read-only afterwards. Accessors
// hand out copies, so callers cannot alter the policy in flight.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only policy document version understood.
const SupportedVersion = 1

// DefaultSchemaName is used when a policy does not name one.
const DefaultSchemaName = "main"

// Definition is the on-disk YAML form of a policy document.
type Definition struct {
	Version              int                 `yaml:"version"`
	AllowedStatements    []string            `yaml:"allowed_statements"`
	DefaultSchema        string              `yaml:"default_schema,omitempty"`
	MaxRows              int                 `yaml:"max_rows"`
	ScreenStringLiterals *bool               `yaml:"screen_string_literals,omitempty"`
	Tables               map[string][]string `yaml:"tables"`
	ForbiddenPatterns    []PatternSpec       `yaml:"forbidden_patterns,omitempty"`
	BlockedFunctions     []string            `yaml:"blocked_functions,omitempty"`
}

// PatternSpec is a named forbidden pattern as written in the policy file.
type PatternSpec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
}

// Marshal renders the definition as YAML.
func (d Definition) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}
	return buf.Bytes(), nil
}

// Pattern is a compiled forbidden pattern.
type Pattern struct {
	name   string
	reason string
	re     *regexp.Regexp
}

// Name returns the pattern's identifier.
func (p Pattern) Name() string { return p.name }

// Reason returns the rejection reason reported when the pattern matches.
func (p Pattern) Reason() string { return p.reason }

// Expr returns the regular expression source.
func (p Pattern) Expr() string { return p.re.String() }

// MatchString reports whether the pattern occurs anywhere in s.
func (p Pattern) MatchString(s string) bool { return p.re.MatchString(s) }

// Document is a validated, compiled policy.
type Document struct {
	version        int
	defaultSchema  string
	maxRows        int
	screenLiterals bool
	tables         map[string][]string
	columns        map[string]map[string]bool
	patterns       []Pattern
	blocked        map[string]bool
	def            Definition
}

// ValidationError describes one problem found in a policy definition.
type ValidationError struct {
	Path    string // e.g. "tables.county_population" or "forbidden_patterns[2]"
	Message string
}

func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Load reads and validates a policy file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied policy path
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes YAML policy text. Unknown keys are errors.
func Parse(data []byte) (*Document, error) {
	var def Definition
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return New(def)
}

// New validates a definition and compiles it into a Document. All problems
// are reported together.
func New(def Definition) (*Document, error) {
	var errs []error
	addErr := func(path, msg string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(msg, args...)})
	}

	if def.Version != SupportedVersion {
		addErr("version", "unsupported version %d (expected %d)", def.Version, SupportedVersion)
	}
	if len(def.AllowedStatements) != 1 || !strings.EqualFold(strings.TrimSpace(def.AllowedStatements[0]), "select") {
		addErr("allowed_statements", "must be exactly [select], got %v", def.AllowedStatements)
	}
	if def.MaxRows <= 0 {
		addErr("max_rows", "must be positive, got %d", def.MaxRows)
	}

	doc := &Document{
		version:        def.Version,
		defaultSchema:  strings.ToLower(strings.TrimSpace(def.DefaultSchema)),
		maxRows:        def.MaxRows,
		screenLiterals: true,
		tables:         make(map[string][]string, len(def.Tables)),
		columns:        make(map[string]map[string]bool, len(def.Tables)),
		blocked:        make(map[string]bool),
	}
	if doc.defaultSchema == "" {
		doc.defaultSchema = DefaultSchemaName
	}
	if def.ScreenStringLiterals != nil {
		doc.screenLiterals = *def.ScreenStringLiterals
	}

	if len(def.Tables) == 0 {
		addErr("tables", "at least one table must be allowed")
	}
	for rawName, cols := range def.Tables {
		path := "tables." + rawName
		key, ok := doc.keyFromPolicyName(rawName)
		if !ok {
			addErr(path, "table name must be <table> or <schema>.<table>")
			continue
		}
		if _, dup := doc.columns[key]; dup {
			addErr(path, "duplicate table %q", key)
			continue
		}
		if len(cols) == 0 {
			addErr(path, "at least one column must be allowed")
			continue
		}
		set := make(map[string]bool, len(cols))
		for _, c := range cols {
			c = strings.ToLower(strings.TrimSpace(c))
			if c == "" || c == "*" {
				addErr(path, "invalid column name %q", c)
				continue
			}
			set[c] = true
		}
		list := make([]string, 0, len(set))
		for c := range set {
			list = append(list, c)
		}
		sort.Strings(list)
		doc.columns[key] = set
		doc.tables[key] = list
	}

	seenPatterns := make(map[string]bool)
	specs := append(DefaultPatterns(), def.ForbiddenPatterns...)
	for i, spec := range specs {
		path := fmt.Sprintf("forbidden_patterns[%d]", i-len(defaultPatterns))
		if spec.Name == "" {
			addErr(path, "name is required")
			continue
		}
		if seenPatterns[spec.Name] {
			addErr(path, "duplicate pattern name %q", spec.Name)
			continue
		}
		seenPatterns[spec.Name] = true
		if spec.Reason == "" {
			addErr(path, "reason is required")
			continue
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil || spec.Pattern == "" {
			addErr(path, "invalid pattern %q", spec.Pattern)
			continue
		}
		doc.patterns = append(doc.patterns, Pattern{name: spec.Name, reason: spec.Reason, re: re})
	}

	for _, fn := range DefaultBlockedFunctions() {
		doc.blocked[fn] = true
	}
	for i, fn := range def.BlockedFunctions {
		fn = strings.ToLower(strings.TrimSpace(fn))
		if fn == "" {
			addErr(fmt.Sprintf("blocked_functions[%d]", i), "function name is required")
			continue
		}
		doc.blocked[fn] = true
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid policy: %w", errors.Join(errs...))
	}
	doc.def = cloneDefinition(def)
	return doc, nil
}

// keyFromPolicyName normalizes a policy table name. Tables in the default
// schema are keyed by bare name.
func (d *Document) keyFromPolicyName(raw string) (string, bool) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(raw)), ".")
	for _, p := range parts {
		if p == "" {
			return "", false
		}
	}
	switch len(parts) {
	case 1:
		return parts[0], true
	case 2:
		return d.TableKey(parts[0], parts[1]), true
	default:
		return "", false
	}
}

// TableKey returns the canonical name for a table reference: lowercased,
// with the default schema stripped.
func (d *Document) TableKey(schema, name string) string {
	schema = strings.ToLower(schema)
	name = strings.ToLower(name)
	if schema == "" || schema == d.defaultSchema {
		return name
	}
	return schema + "." + name
}

// Version returns the document version.
func (d *Document) Version() int { return d.version }

// DefaultSchema returns the schema unqualified table names resolve to.
func (d *Document) DefaultSchema() string { return d.defaultSchema }

// MaxRows returns the row cap injected into every accepted query.
func (d *Document) MaxRows() int { return d.maxRows }

// ScreenStringLiterals reports whether forbidden patterns are matched
// against string literal contents as well.
func (d *Document) ScreenStringLiterals() bool { return d.screenLiterals }

// Patterns returns the forbidden patterns in evaluation order.
func (d *Document) Patterns() []Pattern {
	out := make([]Pattern, len(d.patterns))
	copy(out, d.patterns)
	return out
}

// Tables returns the sorted canonical names of all allowed tables.
func (d *Document) Tables() []string {
	out := make([]string, 0, len(d.tables))
	for t := range d.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// AllowsTable reports whether a canonical table name is allowlisted.
func (d *Document) AllowsTable(table string) bool {
	_, ok := d.columns[strings.ToLower(table)]
	return ok
}

// AllowsColumn reports whether column is allowlisted for table.
func (d *Document) AllowsColumn(table, column string) bool {
	return d.columns[strings.ToLower(table)][strings.ToLower(column)]
}

// TableColumns returns the sorted allowed columns of a table, or nil.
func (d *Document) TableColumns(table string) []string {
	cols, ok := d.tables[strings.ToLower(table)]
	if !ok {
		return nil
	}
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// IsBlockedFunction reports whether calling name is forbidden.
func (d *Document) IsBlockedFunction(name string) bool {
	return d.blocked[strings.ToLower(name)]
}

// BlockedFunctions returns the sorted function blocklist.
func (d *Document) BlockedFunctions() []string {
	out := make([]string, 0, len(d.blocked))
	for fn := range d.blocked {
		out = append(out, fn)
	}
	sort.Strings(out)
	return out
}

// Definition returns a copy of the definition the document was built from.
func (d *Document) Definition() Definition {
	return cloneDefinition(d.def)
}

func cloneDefinition(def Definition) Definition {
	out := def
	out.AllowedStatements = append([]string(nil), def.AllowedStatements...)
	out.ForbiddenPatterns = append([]PatternSpec(nil), def.ForbiddenPatterns...)
	out.BlockedFunctions = append([]string(nil), def.BlockedFunctions...)
	if def.ScreenStringLiterals != nil {
		v := *def.ScreenStringLiterals
		out.ScreenStringLiterals = &v
	}
	out.Tables = make(map[string][]string, len(def.Tables))
	for k, v := range def.Tables {
		out.Tables[k] = append([]string(nil), v...)
	}
	return out
}
