package repo

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/miradorstack/mirador-flows/internal/models"
)

const (
	// entityScope excludes entity types that are not signals in their own right.
	entityScope = "domain NOT IN ('AIOPS', 'VIZ') AND type NOT IN ('DASHBOARD', 'WORKFLOW', 'DESTINATION')"
	// alertScope restricts matches to alert conditions.
	alertScope = "domain = 'AIOPS' AND type = 'CONDITION'"
)

var (
	// ErrInvalidExpression reports a search expression that cannot be safely embedded.
	ErrInvalidExpression = errors.New("invalid search expression")

	attributePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
	allowedOperators = map[string]string{
		"=":        "=",
		"!=":       "!=",
		"like":     "LIKE",
		"not like": "NOT LIKE",
	}
)

// BuildSearchExpression renders a dynamic query into the search language.
// The type scope is mandatory; structured filters are emitted with escaped
// literals and the free-form expression is validated and parenthesised so it
// cannot widen the scope.
func BuildSearchExpression(q models.Query) (string, error) {
	var scope string
	switch q.Type {
	case models.SignalTypeAlert:
		scope = alertScope
	case models.SignalTypeEntity, models.SignalTypeServiceLevel:
		scope = entityScope
	default:
		return "", fmt.Errorf("%w: unsupported query type %q", ErrInvalidExpression, q.Type)
	}

	clauses := []string{scope}
	for _, f := range q.Filters {
		clause, err := renderFilter(f)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}

	if expr := strings.TrimSpace(q.SearchExpression); expr != "" {
		if err := validateExpression(expr); err != nil {
			return "", err
		}
		clauses = append(clauses, "("+expr+")")
	}
	if len(clauses) == 1 {
		return "", fmt.Errorf("%w: query %s has no criteria", ErrInvalidExpression, q.ID)
	}
	return strings.Join(clauses, " AND "), nil
}

// QuoteLiteral renders a string as a single-quoted literal.
func QuoteLiteral(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func renderFilter(f models.Filter) (string, error) {
	if !attributePattern.MatchString(f.Attribute) {
		return "", fmt.Errorf("%w: bad attribute %q", ErrInvalidExpression, f.Attribute)
	}
	op, ok := allowedOperators[strings.ToLower(strings.TrimSpace(f.Operator))]
	if !ok {
		return "", fmt.Errorf("%w: unsupported operator %q", ErrInvalidExpression, f.Operator)
	}
	return f.Attribute + " " + op + " " + QuoteLiteral(f.Value), nil
}

// validateExpression rejects unterminated literals and unbalanced
// parentheses, either of which would let the expression escape its group.
func validateExpression(expr string) error {
	depth := 0
	var quote rune
	escaped := false
	for _, r := range expr {
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"':
			quote = r
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced parentheses", ErrInvalidExpression)
			}
		}
	}
	if quote != 0 {
		return fmt.Errorf("%w: unterminated literal", ErrInvalidExpression)
	}
	if depth != 0 {
		return fmt.Errorf("%w: unbalanced parentheses", ErrInvalidExpression)
	}
	return nil
}
