// Package rules loads the assignment rule catalog and evaluates cases against it.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/collector/internal/domain"
)

// CompiledRule holds a rule together with its pre-compiled CEL program.
// Program is nil when the rule has no expression.
type CompiledRule struct {
	Rule    domain.AssignmentRule
	Program cel.Program
}

// Snapshot is an immutable, priority-ordered view of the catalog.
// It is safe for concurrent use.
type Snapshot struct {
	rules    []*CompiledRule
	source   string
	loadedAt time.Time
}

// Rules returns a copy of the rules in evaluation order.
func (s *Snapshot) Rules() []domain.AssignmentRule {
	out := make([]domain.AssignmentRule, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Rule
	}
	return out
}

// Len returns the number of rules.
func (s *Snapshot) Len() int { return len(s.rules) }

// Source returns the file the snapshot was loaded from.
func (s *Snapshot) Source() string { return s.source }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// celEnv declares the variables a rule expression may reference.
var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("dpd", cel.IntType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("stage", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
})

// LoadFile reads, validates and compiles a rule file. The format is chosen by
// extension: .yaml and .yml are YAML, anything else is JSON.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var list []domain.AssignmentRule
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &list)
	default:
		err = json.Unmarshal(data, &list)
	}
	if err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	snap, err := NewSnapshot(list)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	snap.source = path
	return snap, nil
}

// NewSnapshot validates and compiles rules and orders them by ascending
// priority. Rules sharing a priority keep their input order.
func NewSnapshot(list []domain.AssignmentRule) (*Snapshot, error) {
	if err := Validate(list); err != nil {
		return nil, err
	}

	env, err := celEnv()
	if err != nil {
		return nil, err
	}

	compiled := make([]*CompiledRule, 0, len(list))
	for _, r := range list {
		cr, err := compileRule(env, r)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, cr)
	}

	slices.SortStableFunc(compiled, func(a, b *CompiledRule) int {
		return a.Rule.Priority - b.Rule.Priority
	})

	return &Snapshot{rules: compiled, loadedAt: time.Now()}, nil
}

// Validate checks every rule and reports all problems at once.
func Validate(list []domain.AssignmentRule) error {
	var errs []error
	seen := make(map[string]bool, len(list))

	for i, r := range list {
		fail := func(format string, args ...any) {
			errs = append(errs, fmt.Errorf("rule %d (%s): %s", i, r.Code, fmt.Sprintf(format, args...)))
		}

		code := strings.TrimSpace(r.Code)
		switch {
		case code == "":
			fail("code is required")
		case seen[code]:
			fail("duplicate code")
		}
		seen[code] = true

		c := r.Conditions
		if c.DPDMin != nil && *c.DPDMin < 0 {
			fail("dpdMin must not be negative")
		}
		if c.DPDMax != nil && *c.DPDMax < 0 {
			fail("dpdMax must not be negative")
		}
		if c.DPDGt != nil && *c.DPDGt < 0 {
			fail("dpdGt must not be negative")
		}
		if c.DPDMin != nil && c.DPDMax != nil && *c.DPDMin > *c.DPDMax {
			fail("dpdMin %d is greater than dpdMax %d", *c.DPDMin, *c.DPDMax)
		}
		if c.RiskScoreGt != nil && *c.RiskScoreGt < 0 {
			fail("riskScoreGt must not be negative")
		}

		a := r.Actions
		if a.Stage != nil && !a.Stage.Valid() {
			fail("unknown stage %q", *a.Stage)
		}
		if a.AssignGroup != nil && !a.AssignGroup.Valid() {
			fail("unknown assignGroup %q", *a.AssignGroup)
		}
		if a.AssignedTo != nil && strings.TrimSpace(*a.AssignedTo) == "" {
			fail("assignedTo must not be blank")
		}
	}

	return errors.Join(errs...)
}

func compileRule(env *cel.Env, r domain.AssignmentRule) (*CompiledRule, error) {
	cr := &CompiledRule{Rule: r}
	if strings.TrimSpace(r.Conditions.Expression) == "" {
		return cr, nil
	}

	ast, issues := env.Compile(r.Conditions.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", r.Code, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", r.Code, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", r.Code, err)
	}
	cr.Program = program
	return cr, nil
}

// Catalog serves the current rule snapshot and swaps it atomically on reload.
// Readers never block on a reload and always see a complete snapshot.
type Catalog struct {
	path    string
	current atomic.Pointer[Snapshot]
	loadMu  sync.Mutex
}

// NewCatalog creates a catalog backed by the rule file at path.
// Nothing is read until Load, Reload or the first Snapshot call.
func NewCatalog(path string) *Catalog {
	return &Catalog{path: path}
}

// NewStaticCatalog creates a catalog around an already built snapshot.
// Reload rereads nothing and keeps the snapshot.
func NewStaticCatalog(snap *Snapshot) *Catalog {
	c := &Catalog{}
	c.current.Store(snap)
	return c
}

// Path returns the backing rule file.
func (c *Catalog) Path() string { return c.path }

// Snapshot returns the current snapshot, loading the file on first use.
func (c *Catalog) Snapshot() (*Snapshot, error) {
	if snap := c.current.Load(); snap != nil {
		return snap, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if snap := c.current.Load(); snap != nil {
		return snap, nil
	}
	return c.loadLocked()
}

// Reload rereads the rule file and replaces the snapshot. On failure the
// previous snapshot stays in place.
func (c *Catalog) Reload() (*Snapshot, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if c.path == "" {
		if snap := c.current.Load(); snap != nil {
			return snap, nil
		}
		return nil, errors.New("rules catalog has no backing file")
	}
	return c.loadLocked()
}

func (c *Catalog) loadLocked() (*Snapshot, error) {
	if c.path == "" {
		return nil, errors.New("rules catalog has no backing file")
	}
	snap, err := LoadFile(c.path)
	if err != nil {
		return nil, err
	}
	c.current.Store(snap)
	slog.Info("assignment rules loaded", "path", c.path, "rules_count", snap.Len())
	return snap, nil
}
