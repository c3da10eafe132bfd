package metadata

import (
	"math"
	"strings"

	"github.com/therealutkarshpriyadarshi/vectordb/pkg/errs"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq       Op = "="
	OpNe       Op = "!="
	OpGt       Op = ">"
	OpGte      Op = ">="
	OpLt       Op = "<"
	OpLte      Op = "<="
	OpContains Op = "CONTAINS"
)

// Filter is a single predicate: metadata[Key] Op Literal.
type Filter struct {
	Key     string
	Op      Op
	Literal Value
}

// Join names how a Filters list combines its members.
type Join int

const (
	JoinNone Join = iota // empty filter string: match all records unconditionally
	JoinAnd
	JoinOr
)

// Filters is a parsed, ready-to-evaluate filter expression.
type Filters struct {
	Join    Join
	Clauses []Filter
}

// relEpsilon is the relative tolerance used for the "bitwise-safe relative
// comparison" equality the spec mandates for Number vs Number equality, so
// that values that differ only in the last bit or two of float precision
// (e.g. round-tripped through a quantizer) still compare equal.
const relEpsilon = 1e-9

// Match evaluates the filter expression against a record's metadata.
func (f Filters) Match(md map[string]Value) bool {
	switch f.Join {
	case JoinNone:
		return true
	case JoinAnd:
		for _, c := range f.Clauses {
			if !c.match(md) {
				return false
			}
		}
		return true
	case JoinOr:
		for _, c := range f.Clauses {
			if c.match(md) {
				return true
			}
		}
		return len(f.Clauses) == 0
	default:
		return true
	}
}

func (f Filter) match(md map[string]Value) bool {
	v, ok := md[f.Key]
	if !ok {
		return false
	}
	if v.Kind != f.Literal.Kind {
		return false
	}

	switch v.Kind {
	case KindText:
		return matchText(v.Text, f.Op, f.Literal.Text)
	case KindNumber:
		return matchNumber(v.Number, f.Op, f.Literal.Number)
	case KindBoolean:
		return matchBoolean(v.Boolean, f.Op, f.Literal.Boolean)
	default:
		return false
	}
}

func matchText(a string, op Op, b string) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpContains:
		return strings.Contains(a, b)
	default:
		return false
	}
}

func matchNumber(a float64, op Op, b float64) bool {
	switch op {
	case OpEq:
		return numbersEqual(a, b)
	case OpNe:
		return !numbersEqual(a, b)
	case OpGt:
		return a > b
	case OpGte:
		return a > b || numbersEqual(a, b)
	case OpLt:
		return a < b
	case OpLte:
		return a < b || numbersEqual(a, b)
	default:
		return false
	}
}

func numbersEqual(a, b float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	largest := math.Max(math.Abs(a), math.Abs(b))
	return diff <= largest*relEpsilon
}

func matchBoolean(a bool, op Op, b bool) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	default:
		return false
	}
}

// Parse parses the spec's string-form filter grammar, e.g.
// `"age >= 21 AND country CONTAINS US"`. An empty or all-whitespace string
// parses to NONE (match all). Mixing AND and OR in the same expression is
// an invalid_argument error.
func Parse(expr string) (Filters, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filters{Join: JoinNone}, nil
	}

	hasAnd := containsToken(expr, "AND")
	hasOr := containsToken(expr, "OR")
	if hasAnd && hasOr {
		return Filters{}, errs.InvalidArgument("filter expression mixes AND and OR: %q", expr)
	}

	join := JoinAnd
	sep := " AND "
	if hasOr {
		join = JoinOr
		sep = " OR "
	}

	var parts []string
	if hasAnd || hasOr {
		parts = strings.Split(expr, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
	} else {
		parts = []string{expr}
	}

	clauses := make([]Filter, 0, len(parts))
	for _, p := range parts {
		c, err := parseClause(p)
		if err != nil {
			return Filters{}, err
		}
		clauses = append(clauses, c)
	}

	return Filters{Join: join, Clauses: clauses}, nil
}

func containsToken(expr, token string) bool {
	fields := strings.Fields(expr)
	for _, f := range fields {
		if f == token {
			return true
		}
	}
	return false
}

var ops = []Op{OpGte, OpLte, OpNe, OpContains, OpEq, OpGt, OpLt}

func parseClause(clause string) (Filter, error) {
	fields := strings.Fields(clause)
	if len(fields) < 3 {
		return Filter{}, errs.InvalidArgument("malformed filter clause %q", clause)
	}

	key := fields[0]
	opTok := fields[1]
	literal := strings.Join(fields[2:], " ")

	var matched Op
	found := false
	for _, op := range ops {
		if string(op) == opTok {
			matched = op
			found = true
			break
		}
	}
	if !found {
		return Filter{}, errs.InvalidArgument("unknown filter operator %q in clause %q", opTok, clause)
	}

	return Filter{Key: key, Op: matched, Literal: parseLiteral(literal)}, nil
}
