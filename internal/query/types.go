package query

// Predicate is a selector condition.
//
// This is a sealed interface: only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Op is a comparison operator.
type Op string

// Comparison operators, spelled like the selector language they come from.
const (
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpNe  Op = "$ne"
)

// Equals matches documents whose Field equals Value.
// A nil Value matches documents where the field is missing or null.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// Compare matches documents whose Field compares to Value by Op.
// A missing field never matches, whatever the operator.
type Compare struct {
	Field string
	Op    Op
	Value any
}

func (Compare) predicateNode() {}

// In matches documents whose Field equals any of Values.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// And matches documents that satisfy every predicate.
// An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// SortField is one sort key.
type SortField struct {
	Field string
	Desc  bool
}

// Query is a selector with ordering and a result window.
// Limit 0 means no limit.
type Query struct {
	Selector Predicate
	Sort     []SortField
	Skip     int
	Limit    int
}

// Plan is the index choice attached to a prepared query.
type Plan struct {
	// Index is the normalized index the backend walks.
	Index []string

	// SelectorSatisfiedByIndex is true when every selector field is part of
	// Index, so matching rows can be counted without reading documents.
	SelectorSatisfiedByIndex bool
}

// Prepared is a validated query with its plan.
type Prepared struct {
	Query
	Plan Plan
}

// Fields returns every field the predicate references, in traversal order,
// without duplicates.
func Fields(p Predicate) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Predicate)
	walk = func(p Predicate) {
		add := func(f string) {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
		switch pred := p.(type) {
		case Equals:
			add(pred.Field)
		case *Equals:
			add(pred.Field)
		case Compare:
			add(pred.Field)
		case *Compare:
			add(pred.Field)
		case In:
			add(pred.Field)
		case *In:
			add(pred.Field)
		case And:
			for _, c := range pred.Predicates {
				walk(c)
			}
		case *And:
			for _, c := range pred.Predicates {
				walk(c)
			}
		}
	}
	if p != nil {
		walk(p)
	}
	return out
}
