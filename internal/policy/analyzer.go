// Package policy checks strategic plans against the safety doctrine
// using a Datalog program: plan actions become facts, and stratified
// rules derive the violations. The doctrine itself is enforced when a
// plan is built; this analyzer is the independent check that nothing
// slipped through.
package policy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"mastermind/internal/logging"
)

// PlanAction is the minimal view of a strategic action the analyzer
// needs: its id and verb, in plan order.
type PlanAction struct {
	ID   string
	Type string
}

// Violation is one derived doctrine breach.
type Violation struct {
	ActionID string `json:"action_id"`
	Rule     string `json:"rule"`
	Detail   string `json:"detail"`
}

// doctrineRules derives the violation predicates. Ordering is supplied
// as precedes/2 facts so the rules stay pure Datalog.
const doctrineRules = `
# Safety doctrine over strategic plans.
Decl plan_action(Id, Type).
Decl precedes(A, B).

Decl sia_execution(Id).
sia_execution(Id) :- plan_action(Id, "REQUEST_COORDINATOR_FOR_SIA_EXECUTION").

Decl rollback_prepared(Id).
rollback_prepared(Id) :- plan_action(R, "CREATE_ROLLBACK_PLAN"), precedes(R, Id).

Decl validated_after(Id).
validated_after(Id) :- plan_action(V, "RUN_VALIDATION_TESTS"), precedes(Id, V).

Decl unprotected_execution(Id) descr [mode("-")].
unprotected_execution(Id) :- sia_execution(Id), !rollback_prepared(Id).

Decl missing_validation(Id) descr [mode("-")].
missing_validation(Id) :- sia_execution(Id), !validated_after(Id).

Decl unhandled_validation_failure(Id) descr [mode("-")].
unhandled_validation_failure(Id) :- plan_action(Id, "RUN_VALIDATION_TESTS"), !rollback_prepared(Id).
`

// violationDetails maps derived predicates to human-readable findings.
var violationDetails = map[string]string{
	"unprotected_execution":        "execution action has no preceding CREATE_ROLLBACK_PLAN",
	"missing_validation":           "execution action has no following RUN_VALIDATION_TESTS",
	"unhandled_validation_failure": "validation runs with no rollback plan to fall back on",
}

// Analyzer evaluates the doctrine program against one plan at a time.
type Analyzer struct {
	mu sync.Mutex
}

// NewAnalyzer returns a doctrine analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze derives doctrine violations for the given action sequence.
// An empty result means the plan satisfies the doctrine.
func (a *Analyzer) Analyze(actions []PlanAction) ([]Violation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(actions) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(doctrineRules)
	sb.WriteString("\n")
	for _, act := range actions {
		fmt.Fprintf(&sb, "plan_action(%q, %q).\n", act.ID, act.Type)
	}
	for i := range actions {
		for j := i + 1; j < len(actions); j++ {
			fmt.Fprintf(&sb, "precedes(%q, %q).\n", actions[i].ID, actions[j].ID)
		}
	}

	parsed, err := parse.Unit(strings.NewReader(sb.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse doctrine program: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(parsed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze doctrine program: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	if _, err := engine.EvalProgramWithStats(programInfo, store); err != nil {
		return nil, fmt.Errorf("failed to evaluate doctrine program: %w", err)
	}

	var violations []Violation
	for pred := range programInfo.Decls {
		detail, tracked := violationDetails[pred.Symbol]
		if !tracked {
			continue
		}
		rule := pred.Symbol
		err := store.GetFacts(ast.NewQuery(pred), func(atom ast.Atom) error {
			violations = append(violations, Violation{
				ActionID: constantToString(atom.Args[0]),
				Rule:     rule,
				Detail:   detail,
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", rule, err)
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].ActionID != violations[j].ActionID {
			return violations[i].ActionID < violations[j].ActionID
		}
		return violations[i].Rule < violations[j].Rule
	})

	if len(violations) > 0 {
		logging.EvolutionWarn("doctrine analysis found %d violations", len(violations))
	}
	return violations, nil
}

// constantToString unwraps a mangle string constant.
func constantToString(term ast.BaseTerm) string {
	c, ok := term.(ast.Constant)
	if !ok {
		return term.String()
	}
	switch c.Type {
	case ast.StringType, ast.NameType:
		return c.Symbol
	default:
		return c.String()
	}
}
