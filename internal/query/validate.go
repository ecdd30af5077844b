package query

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError lists every problem found in a query.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + strings.Join(e.Problems, "; ")
}

// IsValidationError checks if err is a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// Validate checks q for structural problems. All problems are collected
// before returning.
func Validate(q Query) error {
	v := &validator{}
	if q.Selector != nil {
		v.validatePredicate(q.Selector)
	}
	for i, s := range q.Sort {
		if s.Field == "" {
			v.addProblem("sort[%d]: empty field", i)
		}
	}
	if q.Skip < 0 {
		v.addProblem("skip must not be negative")
	}
	if q.Limit < 0 {
		v.addProblem("limit must not be negative")
	}
	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}
	return nil
}

type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v.validateField(pred.Field)
	case *Equals:
		v.validateField(pred.Field)
	case Compare:
		v.validateCompare(pred)
	case *Compare:
		v.validateCompare(*pred)
	case In:
		v.validateField(pred.Field)
	case *In:
		v.validateField(pred.Field)
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	case nil:
		v.addProblem("nil predicate")
	default:
		v.addProblem("unsupported predicate type: %T", p)
	}
}

func (v *validator) validateField(field string) {
	if field == "" {
		v.addProblem("predicate with empty field")
	}
}

func (v *validator) validateCompare(c Compare) {
	v.validateField(c.Field)
	switch c.Op {
	case OpGt, OpGte, OpLt, OpLte, OpNe:
	default:
		v.addProblem("field %q: unknown operator %q", c.Field, c.Op)
	}
	if c.Value == nil {
		v.addProblem("field %q: %s needs a value", c.Field, c.Op)
	}
}

func (v *validator) validateAnd(a And) {
	for _, p := range a.Predicates {
		v.validatePredicate(p)
	}
}
