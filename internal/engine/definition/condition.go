package definition

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition is a parsed sequence-flow guard of the form
//
//	name            truthy variable
//	!name           falsy variable
//	name OP literal OP is one of == != < <= > >=
//
// Literals are numbers, true/false, null or quoted strings.
type Condition struct {
	Var     string
	Op      string
	Literal any
	Negate  bool
}

var conditionOps = []string{"==", "!=", "<=", ">=", "<", ">"}

// ParseCondition parses expr.
func ParseCondition(expr string) (Condition, error) {
	expr = strings.TrimSpace(expr)
	expr = strings.TrimPrefix(expr, "${")
	expr = strings.TrimSuffix(expr, "}")
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Condition{}, fmt.Errorf("condition: empty expression")
	}
	for _, op := range conditionOps {
		idx := strings.Index(expr, op)
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(expr[:idx])
		if !validIdent(name) {
			return Condition{}, fmt.Errorf("condition: invalid variable %q", name)
		}
		lit, err := parseLiteral(strings.TrimSpace(expr[idx+len(op):]))
		if err != nil {
			return Condition{}, err
		}
		return Condition{Var: name, Op: op, Literal: lit}, nil
	}
	negate := strings.HasPrefix(expr, "!")
	name := strings.TrimSpace(strings.TrimPrefix(expr, "!"))
	if !validIdent(name) {
		return Condition{}, fmt.Errorf("condition: invalid expression %q", expr)
	}
	return Condition{Var: name, Negate: negate}, nil
}

// Eval evaluates the condition against a variable lookup.
func (c Condition) Eval(lookup func(string) (any, bool)) bool {
	value, ok := lookup(c.Var)
	if c.Op == "" {
		return truthy(value, ok) != c.Negate
	}
	switch lit := c.Literal.(type) {
	case nil:
		isNil := !ok || value == nil
		return (c.Op == "==" && isNil) || (c.Op == "!=" && !isNil)
	case float64:
		num, isNum := toFloat(value)
		if !ok || !isNum {
			return c.Op == "!="
		}
		return compareFloat(num, c.Op, lit)
	case bool:
		b, isBool := value.(bool)
		if !ok || !isBool {
			return c.Op == "!="
		}
		switch c.Op {
		case "==":
			return b == lit
		case "!=":
			return b != lit
		}
		return false
	case string:
		s := fmt.Sprint(value)
		if !ok {
			return c.Op == "!="
		}
		switch c.Op {
		case "==":
			return s == lit
		case "!=":
			return s != lit
		case "<":
			return s < lit
		case "<=":
			return s <= lit
		case ">":
			return s > lit
		case ">=":
			return s >= lit
		}
	}
	return false
}

func parseLiteral(raw string) (any, error) {
	switch raw {
	case "":
		return nil, fmt.Errorf("condition: missing literal")
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "nil":
		return nil, nil
	}
	if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0] {
		return raw[1 : len(raw)-1], nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("condition: invalid literal %q", raw)
}

func validIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func truthy(value any, ok bool) bool {
	if !ok || value == nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false"
	}
	if f, isNum := toFloat(value); isNum {
		return f != 0
	}
	return true
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func compareFloat(a float64, op string, b float64) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}
