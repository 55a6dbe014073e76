package executor

import (
	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/sqlfront"
	"github.com/minisql/minisql/internal/types"
)

// boundRow pairs a table's schema with one of its rows, so a
// ColumnRef can be resolved to a typed value.
type boundRow struct {
	schema *types.Schema
	record types.Record
}

// rowContext is every table binding visible while evaluating one
// expression - one entry for a plain INSERT/UPDATE/DELETE/WHERE, more
// than one once a JOIN is in scope.
type rowContext map[string]boundRow

func (c rowContext) resolve(ref *sqlfront.ColumnRef) (types.Value, error) {
	if ref.Table != "" {
		b, ok := c[ref.Table]
		if !ok {
			return types.Value{}, dberrors.New(dberrors.KindTableNotFound, "table %q not in scope", ref.Table)
		}
		i := b.schema.ColumnIndex(ref.Name)
		if i < 0 {
			return types.Value{}, dberrors.New(dberrors.KindColumnNotFound, "column %q not found on table %q", ref.Name, ref.Table)
		}
		return b.record.Get(i)
	}

	var found *types.Value
	var foundTable string
	for table, b := range c {
		i := b.schema.ColumnIndex(ref.Name)
		if i < 0 {
			continue
		}
		if found != nil {
			return types.Value{}, dberrors.New(dberrors.KindAmbiguousColumn, "column %q is ambiguous between %q and %q", ref.Name, foundTable, table)
		}
		v, err := b.record.Get(i)
		if err != nil {
			return types.Value{}, err
		}
		found = &v
		foundTable = table
	}
	if found == nil {
		return types.Value{}, dberrors.New(dberrors.KindColumnNotFound, "column %q not found", ref.Name)
	}
	return *found, nil
}

// evalExpr evaluates expr against ctx, following SQL's three-valued
// logic for comparisons and AND/OR/NOT: a NULL operand yields NULL,
// not false.
func evalExpr(expr sqlfront.Expr, ctx rowContext) (types.Value, error) {
	switch e := expr.(type) {
	case *sqlfront.Literal:
		return e.Value, nil
	case *sqlfront.ColumnRef:
		return ctx.resolve(e)
	case *sqlfront.UnaryExpr:
		return evalUnary(e, ctx)
	case *sqlfront.BinaryExpr:
		return evalBinary(e, ctx)
	case *sqlfront.IsNullExpr:
		return evalIsNull(e, ctx)
	case *sqlfront.InExpr:
		return evalIn(e, ctx)
	default:
		return types.Value{}, dberrors.New(dberrors.KindUnsupportedStatement, "expression type %T", expr)
	}
}

func evalUnary(e *sqlfront.UnaryExpr, ctx rowContext) (types.Value, error) {
	v, err := evalExpr(e.X, ctx)
	if err != nil {
		return types.Value{}, err
	}
	switch e.Op {
	case "NOT":
		if v.IsNull() {
			return types.Null, nil
		}
		if v.Kind != types.KindBool {
			return types.Value{}, dberrors.New(dberrors.KindTypeMismatch, "NOT requires a boolean operand")
		}
		return types.NewBool(!v.Bool), nil
	case "-":
		if v.IsNull() {
			return types.Null, nil
		}
		switch v.Kind {
		case types.KindInt:
			return types.NewInt(-v.Int), nil
		case types.KindFloat:
			return types.NewFloat(-v.Float), nil
		default:
			return types.Value{}, dberrors.New(dberrors.KindTypeMismatch, "unary - requires a numeric operand")
		}
	default:
		return types.Value{}, dberrors.New(dberrors.KindUnsupportedStatement, "unary operator %q", e.Op)
	}
}

func evalIsNull(e *sqlfront.IsNullExpr, ctx rowContext) (types.Value, error) {
	v, err := evalExpr(e.X, ctx)
	if err != nil {
		return types.Value{}, err
	}
	result := v.IsNull()
	if e.Negate {
		result = !result
	}
	return types.NewBool(result), nil
}

func evalIn(e *sqlfront.InExpr, ctx rowContext) (types.Value, error) {
	x, err := evalExpr(e.X, ctx)
	if err != nil {
		return types.Value{}, err
	}
	if x.IsNull() {
		return types.Null, nil
	}
	sawNull := false
	matched := false
	for _, item := range e.List {
		v, err := evalExpr(item, ctx)
		if err != nil {
			return types.Value{}, err
		}
		if v.IsNull() {
			sawNull = true
			continue
		}
		eq, err := valuesEqual(x, v)
		if err != nil {
			return types.Value{}, err
		}
		if eq {
			matched = true
			break
		}
	}
	result := matched
	if e.Negate {
		if matched {
			return types.NewBool(false), nil
		}
		if sawNull {
			return types.Null, nil
		}
		return types.NewBool(true), nil
	}
	if !matched && sawNull {
		return types.Null, nil
	}
	return types.NewBool(result), nil
}

func evalBinary(e *sqlfront.BinaryExpr, ctx rowContext) (types.Value, error) {
	switch e.Op {
	case "AND":
		return evalAnd(e, ctx)
	case "OR":
		return evalOr(e, ctx)
	}

	x, err := evalExpr(e.X, ctx)
	if err != nil {
		return types.Value{}, err
	}
	y, err := evalExpr(e.Y, ctx)
	if err != nil {
		return types.Value{}, err
	}

	switch e.Op {
	case "+", "-":
		return evalArith(e.Op, x, y)
	case "=", "!=", "<", "<=", ">", ">=":
		return evalCompare(e.Op, x, y)
	default:
		return types.Value{}, dberrors.New(dberrors.KindUnsupportedStatement, "operator %q", e.Op)
	}
}

func evalAnd(e *sqlfront.BinaryExpr, ctx rowContext) (types.Value, error) {
	x, err := evalExpr(e.X, ctx)
	if err != nil {
		return types.Value{}, err
	}
	if x.Kind == types.KindBool && !x.Bool {
		return types.NewBool(false), nil
	}
	y, err := evalExpr(e.Y, ctx)
	if err != nil {
		return types.Value{}, err
	}
	if y.Kind == types.KindBool && !y.Bool {
		return types.NewBool(false), nil
	}
	if x.IsNull() || y.IsNull() {
		return types.Null, nil
	}
	return types.NewBool(true), nil
}

func evalOr(e *sqlfront.BinaryExpr, ctx rowContext) (types.Value, error) {
	x, err := evalExpr(e.X, ctx)
	if err != nil {
		return types.Value{}, err
	}
	if x.Kind == types.KindBool && x.Bool {
		return types.NewBool(true), nil
	}
	y, err := evalExpr(e.Y, ctx)
	if err != nil {
		return types.Value{}, err
	}
	if y.Kind == types.KindBool && y.Bool {
		return types.NewBool(true), nil
	}
	if x.IsNull() || y.IsNull() {
		return types.Null, nil
	}
	return types.NewBool(false), nil
}

func asFloat(v types.Value) (float64, bool) {
	switch v.Kind {
	case types.KindInt:
		return float64(v.Int), true
	case types.KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

func evalArith(op string, x, y types.Value) (types.Value, error) {
	if x.IsNull() || y.IsNull() {
		return types.Null, nil
	}
	if x.Kind == types.KindInt && y.Kind == types.KindInt {
		if op == "+" {
			return types.NewInt(x.Int + y.Int), nil
		}
		return types.NewInt(x.Int - y.Int), nil
	}
	xf, ok1 := asFloat(x)
	yf, ok2 := asFloat(y)
	if !ok1 || !ok2 {
		return types.Value{}, dberrors.New(dberrors.KindTypeMismatch, "operator %q requires numeric operands", op)
	}
	if op == "+" {
		return types.NewFloat(xf + yf), nil
	}
	return types.NewFloat(xf - yf), nil
}

// valuesEqual compares x and y for equality, promoting int/float
// across each other, matching the cross-kind numeric comparisons
// evalCompare below also needs.
func valuesEqual(x, y types.Value) (bool, error) {
	if x.Kind == y.Kind {
		return x.Equal(y), nil
	}
	xf, ok1 := asFloat(x)
	yf, ok2 := asFloat(y)
	if ok1 && ok2 {
		return xf == yf, nil
	}
	return false, dberrors.New(dberrors.KindTypeMismatch, "cannot compare %s to %s", x.Kind, y.Kind)
}

func evalCompare(op string, x, y types.Value) (types.Value, error) {
	if x.IsNull() || y.IsNull() {
		return types.Null, nil
	}
	if op == "=" || op == "!=" {
		eq, err := valuesEqual(x, y)
		if err != nil {
			return types.Value{}, err
		}
		if op == "!=" {
			eq = !eq
		}
		return types.NewBool(eq), nil
	}

	var less bool
	if x.Kind == y.Kind {
		less = x.Less(y)
	} else {
		xf, ok1 := asFloat(x)
		yf, ok2 := asFloat(y)
		if !ok1 || !ok2 {
			return types.Value{}, dberrors.New(dberrors.KindTypeMismatch, "cannot compare %s to %s", x.Kind, y.Kind)
		}
		less = xf < yf
	}
	eq, err := valuesEqual(x, y)
	if err != nil {
		return types.Value{}, err
	}
	switch op {
	case "<":
		return types.NewBool(less), nil
	case "<=":
		return types.NewBool(less || eq), nil
	case ">":
		return types.NewBool(!less && !eq), nil
	case ">=":
		return types.NewBool(!less || eq), nil
	default:
		return types.Value{}, dberrors.New(dberrors.KindUnsupportedStatement, "comparison operator %q", op)
	}
}

func truthy(v types.Value) bool {
	return v.Kind == types.KindBool && v.Bool
}
