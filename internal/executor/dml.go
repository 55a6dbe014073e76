package executor

import (
	"fmt"
	"sort"

	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/sqlfront"
	"github.com/minisql/minisql/internal/storage/heap"
	"github.com/minisql/minisql/internal/txn"
	"github.com/minisql/minisql/internal/types"
)

// buildRecord maps an INSERT's (optional) column list and value
// expressions onto a schema-ordered Record. A column left out of an
// explicit column list takes its DEFAULT if one was declared, or NULL
// otherwise, before any constraint check runs. Every supplied or
// defaulted value is coerced to its
// column's declared Kind via coerceToColumn before this returns.
func buildRecord(schema *types.Schema, columns []string, values []sqlfront.Expr) (types.Record, error) {
	out := make([]types.Value, len(schema.Columns))
	present := make([]bool, len(schema.Columns))

	if len(columns) == 0 {
		if len(values) != len(schema.Columns) {
			return types.Record{}, dberrors.New(dberrors.KindTypeMismatch,
				"insert into %q: %d values for %d columns", schema.TableName, len(values), len(schema.Columns))
		}
		for i, expr := range values {
			v, err := evalExpr(expr, nil)
			if err != nil {
				return types.Record{}, err
			}
			out[i] = v
			present[i] = true
		}
	} else {
		if len(columns) != len(values) {
			return types.Record{}, dberrors.New(dberrors.KindTypeMismatch,
				"insert into %q: %d columns but %d values", schema.TableName, len(columns), len(values))
		}
		for i, col := range columns {
			idx := schema.ColumnIndex(col)
			if idx < 0 {
				return types.Record{}, dberrors.New(dberrors.KindColumnNotFound, "column %q not found on table %q", col, schema.TableName)
			}
			v, err := evalExpr(values[i], nil)
			if err != nil {
				return types.Record{}, err
			}
			out[idx] = v
			present[idx] = true
		}
	}

	for i, col := range schema.Columns {
		if present[i] {
			continue
		}
		if col.Default != nil {
			out[i] = *col.Default
		} else {
			out[i] = types.Null
		}
	}

	for i, col := range schema.Columns {
		v, err := coerceToColumn(col, out[i])
		if err != nil {
			return types.Record{}, dberrors.Wrap(dberrors.KindTypeMismatch, err, "insert into %q", schema.TableName)
		}
		out[i] = v
	}
	return types.NewRecord(out...), nil
}

// coerceToColumn validates that v's Kind is assignable to col's
// declared type and returns v normalized to col's exact Kind/Len. An
// INT value assigned to a FLOAT column is widened, the one implicit
// numeric coercion allowed; every other Kind mismatch is
// rejected. A CHAR or VARCHAR value longer than col's declared length
// is rejected rather than truncated. NULL always passes through,
// leaving the NOT NULL check in checkNotNull to reject it if the
// column disallows it.
func coerceToColumn(col types.Column, v types.Value) (types.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	switch col.Kind {
	case types.KindInt:
		if v.Kind != types.KindInt {
			return types.Value{}, fmt.Errorf("column %q expects INT, got %s", col.Name, v.Kind)
		}
		return v, nil
	case types.KindFloat:
		switch v.Kind {
		case types.KindFloat:
			return v, nil
		case types.KindInt:
			return types.NewFloat(float64(v.Int)), nil
		default:
			return types.Value{}, fmt.Errorf("column %q expects FLOAT, got %s", col.Name, v.Kind)
		}
	case types.KindBool:
		if v.Kind != types.KindBool {
			return types.Value{}, fmt.Errorf("column %q expects BOOL, got %s", col.Name, v.Kind)
		}
		return v, nil
	case types.KindChar, types.KindVarchar:
		if v.Kind != types.KindChar && v.Kind != types.KindVarchar {
			return types.Value{}, fmt.Errorf("column %q expects %s, got %s", col.Name, col.Kind, v.Kind)
		}
		if col.Len > 0 && len(v.Str) > col.Len {
			return types.Value{}, fmt.Errorf("value for column %q exceeds declared length %d", col.Name, col.Len)
		}
		if col.Kind == types.KindChar {
			return types.NewChar(v.Str, col.Len), nil
		}
		return types.NewVarchar(v.Str, col.Len), nil
	default:
		return types.Value{}, fmt.Errorf("column %q has unrecognized type", col.Name)
	}
}

// checkNotNull rejects a column missing a value (NULL after
// buildRecord applied DEFAULT) that is declared NOT NULL, or a NULL
// primary-key column, before any other constraint runs.
func checkNotNull(schema *types.Schema, rec types.Record) error {
	for i, col := range schema.Columns {
		v, err := rec.Get(i)
		if err != nil {
			return err
		}
		if v.IsNull() && (!col.Nullable || col.PrimaryKey) {
			return dberrors.New(dberrors.KindNullInNotNull, "column %q on table %q cannot be NULL", col.Name, schema.TableName)
		}
	}
	return nil
}

// checkConstraints parses and evaluates every CHECK expression
// declared on schema against rec, matching TableSchema's stored
// check_constraints text being enforced at write time.
func checkConstraints(schema *types.Schema, rec types.Record) error {
	if len(schema.CheckConstraints) == 0 {
		return nil
	}
	ctx := rowContext{schema.TableName: {schema: schema, record: rec}}
	for _, raw := range schema.CheckConstraints {
		expr, err := sqlfront.ParseExpr(raw)
		if err != nil {
			return dberrors.Wrap(dberrors.KindCheckViolation, err, "invalid CHECK constraint on %q", schema.TableName)
		}
		v, err := evalExpr(expr, ctx)
		if err != nil {
			return err
		}
		if v.Kind == types.KindBool && !v.Bool {
			return dberrors.New(dberrors.KindCheckViolation, "CHECK constraint failed on table %q", schema.TableName)
		}
	}
	return nil
}

// checkUniqueExcluding probes unique indexes for updated, excluding the
// row's own current RID so an UPDATE that leaves a unique column
// unchanged is not reported as colliding with itself.
func (s *Session) checkUniqueExcluding(schema *types.Schema, table string, updated types.Record, rid heap.RID) error {
	return s.ex.Indexes.CheckUniqueExcluding(schema, table, updated, rid, s.readContext())
}

// readContext builds the txn.ReadContext describing this session's
// current reader identity, for index.Registry/table.Manager's
// visibility-aware uniqueness checks.
func (s *Session) readContext() txn.ReadContext {
	return txn.ReadContext{TxnID: s.readerTxnID(), Isolation: s.readerIsolation(), Manager: s.ex.Txns}
}

// checkForeignKeys verifies every non-NULL foreign-key column in rec
// has a matching row in its referenced table, via a full scan; there
// is no dedicated FK index.
func (s *Session) checkForeignKeys(schema *types.Schema, rec types.Record) error {
	for _, fk := range schema.ForeignKeys {
		idx := schema.ColumnIndex(fk.Column)
		if idx < 0 {
			continue
		}
		v, err := rec.Get(idx)
		if err != nil {
			return err
		}
		if v.IsNull() {
			continue
		}
		refSchema, ok := s.ex.Catalog.TableSchema(fk.RefTable)
		if !ok {
			return dberrors.New(dberrors.KindForeignKeyViolation, "foreign key %q references unknown table %q", fk.Column, fk.RefTable)
		}
		refIdx := refSchema.ColumnIndex(fk.RefColumn)
		if refIdx < 0 {
			return dberrors.New(dberrors.KindForeignKeyViolation, "foreign key %q references unknown column %q.%q", fk.Column, fk.RefTable, fk.RefColumn)
		}
		rows, err := s.visibleRows(fk.RefTable)
		if err != nil {
			return err
		}
		found := false
		for _, row := range rows {
			rv, err := row.Record.Get(refIdx)
			if err != nil {
				return err
			}
			if eq, _ := valuesEqual(v, rv); eq {
				found = true
				break
			}
		}
		if !found {
			return dberrors.New(dberrors.KindForeignKeyViolation,
				"value for %q has no matching row in %q.%q", fk.Column, fk.RefTable, fk.RefColumn)
		}
	}
	return nil
}

// fireTriggers runs every trigger registered for (table, timing,
// event), with depth guarding against a trigger chain that cycles
// back on itself.
func (s *Session) fireTriggers(table, timing, event string, depth int) error {
	if depth >= maxTriggerDepth {
		return dberrors.New(dberrors.KindTriggerRecursion, "trigger recursion exceeded depth %d on table %q", maxTriggerDepth, table)
	}
	triggers := s.ex.Catalog.TriggersFor(table, timing, event)
	for _, t := range triggers {
		stmt, err := sqlfront.ParseStatement(t.Statement)
		if err != nil {
			return err
		}
		if _, err := s.executeAtDepth(stmt, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// executeAtDepth threads trigger recursion depth through DML
// statements fired by a trigger body; any other statement kind falls
// back to the ordinary dispatch, since only DML actually recurses
// through fireTriggers.
func (s *Session) executeAtDepth(stmt sqlfront.Statement, depth int) (*Result, error) {
	switch st := stmt.(type) {
	case *sqlfront.Insert:
		return s.execInsert(st, depth)
	case *sqlfront.Update:
		return s.execUpdate(st, depth)
	case *sqlfront.Delete:
		return s.execDelete(st, depth)
	default:
		return s.Execute(stmt)
	}
}

func (s *Session) execInsert(st *sqlfront.Insert, depth int) (*Result, error) {
	schema, ok := s.ex.Catalog.TableSchema(st.Table)
	if !ok {
		return nil, dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", st.Table)
	}
	if err := s.acquireLock(st.Table, txn.LockExclusive); err != nil {
		return nil, err
	}

	affected := 0
	for _, values := range st.Rows {
		rec, err := buildRecord(schema, st.Columns, values)
		if err != nil {
			return nil, err
		}
		if err := checkNotNull(schema, rec); err != nil {
			return nil, err
		}
		if err := s.ex.Indexes.CheckUnique(schema, st.Table, rec, s.readContext()); err != nil {
			return nil, err
		}
		if err := checkConstraints(schema, rec); err != nil {
			return nil, err
		}
		if err := s.checkForeignKeys(schema, rec); err != nil {
			return nil, err
		}

		if err := s.fireTriggers(st.Table, "BEFORE", "INSERT", depth); err != nil {
			return nil, err
		}

		rid, err := s.ex.Tables.Insert(st.Table, rec, s.readContext())
		if err != nil {
			return nil, err
		}
		if s.tx != nil {
			s.ex.Txns.RecordChange(s.tx, txn.Change{Type: txn.ChangeInsert, Table: st.Table, RID: rid, NewPayload: rec.Encode()})
		}

		if err := s.fireTriggers(st.Table, "AFTER", "INSERT", depth); err != nil {
			return nil, err
		}
		affected++
	}
	return &Result{RowsAffected: affected, Message: "insert complete"}, nil
}

func (s *Session) execUpdate(st *sqlfront.Update, depth int) (*Result, error) {
	schema, ok := s.ex.Catalog.TableSchema(st.Table)
	if !ok {
		return nil, dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", st.Table)
	}
	if err := s.acquireLock(st.Table, txn.LockExclusive); err != nil {
		return nil, err
	}
	rows, err := s.visibleRows(st.Table)
	if err != nil {
		return nil, err
	}

	affected := 0
	for _, row := range rows {
		ctx := rowContext{st.Table: {schema: schema, record: row.Record}}
		if st.Where != nil {
			match, err := evalExpr(st.Where, ctx)
			if err != nil {
				return nil, err
			}
			if !truthy(match) {
				continue
			}
		}

		updatedValues := append([]types.Value{}, row.Record.Values...)
		for i, col := range st.Columns {
			idx := schema.ColumnIndex(col)
			if idx < 0 {
				return nil, dberrors.New(dberrors.KindColumnNotFound, "column %q not found on table %q", col, st.Table)
			}
			v, err := evalExpr(st.Values[i], ctx)
			if err != nil {
				return nil, err
			}
			coerced, err := coerceToColumn(schema.Columns[idx], v)
			if err != nil {
				return nil, dberrors.Wrap(dberrors.KindTypeMismatch, err, "update %q", st.Table)
			}
			updatedValues[idx] = coerced
		}
		updated := types.NewRecord(updatedValues...)

		if err := checkNotNull(schema, updated); err != nil {
			return nil, err
		}
		if err := s.checkUniqueExcluding(schema, st.Table, updated, row.RID); err != nil {
			return nil, err
		}
		if err := checkConstraints(schema, updated); err != nil {
			return nil, err
		}
		if err := s.checkForeignKeys(schema, updated); err != nil {
			return nil, err
		}

		if err := s.fireTriggers(st.Table, "BEFORE", "UPDATE", depth); err != nil {
			return nil, err
		}

		if err := s.ex.Tables.Update(st.Table, row.RID, row.Record, updated); err != nil {
			return nil, err
		}
		if s.tx != nil {
			s.ex.Txns.RecordChange(s.tx, txn.Change{
				Type: txn.ChangeUpdate, Table: st.Table, RID: row.RID,
				OldPayload: row.Record.Encode(), NewPayload: updated.Encode(),
			})
		}

		if err := s.fireTriggers(st.Table, "AFTER", "UPDATE", depth); err != nil {
			return nil, err
		}
		affected++
	}
	return &Result{RowsAffected: affected, Message: "update complete"}, nil
}

func (s *Session) execDelete(st *sqlfront.Delete, depth int) (*Result, error) {
	schema, ok := s.ex.Catalog.TableSchema(st.Table)
	if !ok {
		return nil, dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", st.Table)
	}
	if err := s.acquireLock(st.Table, txn.LockExclusive); err != nil {
		return nil, err
	}
	rows, err := s.visibleRows(st.Table)
	if err != nil {
		return nil, err
	}

	affected := 0
	for _, row := range rows {
		if st.Where != nil {
			ctx := rowContext{st.Table: {schema: schema, record: row.Record}}
			match, err := evalExpr(st.Where, ctx)
			if err != nil {
				return nil, err
			}
			if !truthy(match) {
				continue
			}
		}

		if err := s.fireTriggers(st.Table, "BEFORE", "DELETE", depth); err != nil {
			return nil, err
		}

		if err := s.ex.Tables.Delete(st.Table, row.RID); err != nil {
			return nil, err
		}
		if s.tx != nil {
			s.ex.Txns.RecordChange(s.tx, txn.Change{Type: txn.ChangeDelete, Table: st.Table, RID: row.RID, OldPayload: row.Record.Encode()})
		}

		if err := s.fireTriggers(st.Table, "AFTER", "DELETE", depth); err != nil {
			return nil, err
		}
		affected++
	}
	return &Result{RowsAffected: affected, Message: "delete complete"}, nil
}

type joinedRow struct {
	ctx rowContext
}

func (s *Session) execSelect(st *sqlfront.Select) (*Result, error) {
	schema, ok := s.ex.Catalog.TableSchema(st.Table)
	if !ok {
		return nil, dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", st.Table)
	}
	baseRows, err := s.visibleRows(st.Table)
	if err != nil {
		return nil, err
	}

	joined := make([]joinedRow, 0, len(baseRows))
	for _, row := range baseRows {
		ctx := rowContext{st.Table: {schema: schema, record: row.Record}}
		joined = append(joined, joinedRow{ctx: ctx})
	}

	for _, j := range st.Joins {
		joinSchema, ok := s.ex.Catalog.TableSchema(j.Table)
		if !ok {
			return nil, dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", j.Table)
		}
		joinRows, err := s.visibleRows(j.Table)
		if err != nil {
			return nil, err
		}
		var next []joinedRow
		for _, left := range joined {
			for _, right := range joinRows {
				ctx := make(rowContext, len(left.ctx)+1)
				for k, v := range left.ctx {
					ctx[k] = v
				}
				ctx[j.Table] = boundRow{schema: joinSchema, record: right.Record}
				v, err := evalExpr(j.On, ctx)
				if err != nil {
					return nil, err
				}
				if truthy(v) {
					next = append(next, joinedRow{ctx: ctx})
				}
			}
		}
		joined = next
	}

	var matched []joinedRow
	for _, j := range joined {
		if st.Where == nil {
			matched = append(matched, j)
			continue
		}
		v, err := evalExpr(st.Where, j.ctx)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			matched = append(matched, j)
		}
	}

	if st.CountStar {
		return &Result{
			Columns: []string{"COUNT(*)"},
			Rows:    [][]types.Value{{types.NewInt(int64(len(matched)))}},
		}, nil
	}

	columns, err := selectColumns(st, schema)
	if err != nil {
		return nil, err
	}

	if len(st.OrderBy) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, term := range st.OrderBy {
				ref := columnRefFor(term.Column)
				vi, erri := matched[i].ctx.resolve(ref)
				vj, errj := matched[j].ctx.resolve(ref)
				if erri != nil || errj != nil {
					continue
				}
				if vi.Equal(vj) {
					continue
				}
				less := vi.Less(vj)
				if term.Desc {
					return !less
				}
				return less
			}
			return false
		})
	}

	if st.HasLimit && len(matched) > st.Limit {
		matched = matched[:st.Limit]
	}

	rows := make([][]types.Value, 0, len(matched))
	for _, j := range matched {
		row := make([]types.Value, len(columns))
		for i, col := range columns {
			v, err := j.ctx.resolve(columnRefFor(col))
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		rows = append(rows, row)
	}

	return &Result{Columns: columns, Rows: rows}, nil
}

// columnRefFor splits a possibly table-qualified projection/order-by
// name ("t.col" or "col") into a sqlfront.ColumnRef for resolution.
func columnRefFor(name string) *sqlfront.ColumnRef {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return &sqlfront.ColumnRef{Table: name[:i], Name: name[i+1:]}
		}
	}
	return &sqlfront.ColumnRef{Name: name}
}

// selectColumns resolves SELECT *'s column list, qualifying by table
// name once more than one table is in scope (a join).
func selectColumns(st *sqlfront.Select, mainSchema *types.Schema) ([]string, error) {
	if !st.Star {
		return st.Columns, nil
	}
	var out []string
	for _, c := range mainSchema.Columns {
		if len(st.Joins) == 0 {
			out = append(out, c.Name)
		} else {
			out = append(out, st.Table+"."+c.Name)
		}
	}
	return out, nil
}
