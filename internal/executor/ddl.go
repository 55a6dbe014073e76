package executor

import (
	"fmt"

	"github.com/minisql/minisql/internal/catalog"
	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/sqlfront"
	"github.com/minisql/minisql/internal/types"
)

func toColumn(cd sqlfront.ColumnDef) types.Column {
	return types.Column{
		Name:       cd.Name,
		Kind:       cd.Kind,
		Len:        cd.Len,
		Nullable:   cd.Nullable,
		PrimaryKey: cd.PrimaryKey,
		Unique:     cd.Unique,
		Default:    cd.Default,
	}
}

func (s *Session) execCreateTable(st *sqlfront.CreateTable) (*Result, error) {
	if st.IfNotExists {
		if _, ok := s.ex.Catalog.TableSchema(st.Table); ok {
			return &Result{Message: fmt.Sprintf("table %q already exists", st.Table)}, nil
		}
	}
	cols := make([]types.Column, len(st.Columns))
	for i, cd := range st.Columns {
		cols[i] = toColumn(cd)
	}
	schema := types.NewSchema(st.Table, cols, st.CheckConstraints, st.ForeignKeys)
	if err := s.ex.Tables.CreateTable(schema); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("table %q created", st.Table)}, nil
}

func (s *Session) execDropTable(st *sqlfront.DropTable) (*Result, error) {
	if st.IfExists {
		if _, ok := s.ex.Catalog.TableSchema(st.Table); !ok {
			return &Result{Message: fmt.Sprintf("table %q does not exist", st.Table)}, nil
		}
	}
	if err := s.ex.Tables.DropTable(st.Table); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("table %q dropped", st.Table)}, nil
}

func (s *Session) execTruncateTable(st *sqlfront.TruncateTable) (*Result, error) {
	if err := s.ex.Catalog.TruncateTable(st.Table); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("table %q truncated", st.Table)}, nil
}

// execAlterTable adds or drops a column, rewriting every existing row
// to match the new shape. Records store values positionally against
// the schema's column order, so a schema change has to migrate the
// data too.
func (s *Session) execAlterTable(st *sqlfront.AlterTable) (*Result, error) {
	schema, ok := s.ex.Catalog.TableSchema(st.Table)
	if !ok {
		return nil, dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", st.Table)
	}

	rows, err := s.ex.Tables.Scan(st.Table, nil)
	if err != nil {
		return nil, err
	}

	var newCols []types.Column
	switch {
	case st.AddColumn != nil:
		newCols = append(append([]types.Column{}, schema.Columns...), toColumn(*st.AddColumn))
	case st.DropColumn != "":
		idx := schema.ColumnIndex(st.DropColumn)
		if idx < 0 {
			return nil, dberrors.New(dberrors.KindColumnNotFound, "column %q not found on table %q", st.DropColumn, st.Table)
		}
		for i, c := range schema.Columns {
			if i != idx {
				newCols = append(newCols, c)
			}
		}
	default:
		return nil, dberrors.New(dberrors.KindUnsupportedStatement, "ALTER TABLE with no ADD/DROP COLUMN")
	}

	newSchema := types.NewSchema(st.Table, newCols, schema.CheckConstraints, schema.ForeignKeys)
	if err := s.ex.Catalog.AlterTableSchema(st.Table, newSchema); err != nil {
		return nil, err
	}

	for _, row := range rows {
		var newValues []types.Value
		switch {
		case st.AddColumn != nil:
			newValues = append(append([]types.Value{}, row.Record.Values...), types.Null)
		case st.DropColumn != "":
			idx := schema.ColumnIndex(st.DropColumn)
			for i, v := range row.Record.Values {
				if i != idx {
					newValues = append(newValues, v)
				}
			}
		}
		updated := types.NewRecord(newValues...)
		if err := s.ex.Tables.Update(st.Table, row.RID, row.Record, updated); err != nil {
			return nil, err
		}
	}

	return &Result{Message: fmt.Sprintf("table %q altered", st.Table)}, nil
}

// demoteExists turns an "already exists" or "does not exist" error
// into a silent success carrying the error text as a hint, for
// statements carrying IF EXISTS / IF NOT EXISTS.
func demoteExists(err error, kind dberrors.Kind) (*Result, bool) {
	if dberrors.Is(err, kind) {
		return &Result{Message: err.Error()}, true
	}
	return nil, false
}

func (s *Session) execCreateIndex(st *sqlfront.CreateIndex) (*Result, error) {
	if err := s.ex.Indexes.CreateIndex(st.Index, st.Table, st.Columns, st.Unique); err != nil {
		if st.IfNotExists {
			if res, ok := demoteExists(err, dberrors.KindTableExists); ok {
				return res, nil
			}
		}
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("index %q created", st.Index)}, nil
}

func (s *Session) execDropIndex(st *sqlfront.DropIndex) (*Result, error) {
	if err := s.ex.Indexes.DropIndex(st.Index); err != nil {
		if st.IfExists {
			if res, ok := demoteExists(err, dberrors.KindTableNotFound); ok {
				return res, nil
			}
		}
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("index %q dropped", st.Index)}, nil
}

func (s *Session) execCreateView(st *sqlfront.CreateView) (*Result, error) {
	if err := s.ex.Catalog.CreateView(catalog.View{Name: st.View, Definition: st.Definition}); err != nil {
		if st.IfNotExists {
			if res, ok := demoteExists(err, dberrors.KindTableExists); ok {
				return res, nil
			}
		}
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("view %q created", st.View)}, nil
}

func (s *Session) execDropView(st *sqlfront.DropView) (*Result, error) {
	if err := s.ex.Catalog.DropView(st.View); err != nil {
		if st.IfExists {
			if res, ok := demoteExists(err, dberrors.KindTableNotFound); ok {
				return res, nil
			}
		}
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("view %q dropped", st.View)}, nil
}

func (s *Session) execCreateUser(st *sqlfront.CreateUser) (*Result, error) {
	if err := s.ex.Catalog.CreateUser(catalog.User{Name: st.User, Password: st.Password}); err != nil {
		if st.IfNotExists {
			if res, ok := demoteExists(err, dberrors.KindTableExists); ok {
				return res, nil
			}
		}
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("user %q created", st.User)}, nil
}

func (s *Session) execDropUser(st *sqlfront.DropUser) (*Result, error) {
	if err := s.ex.Catalog.DropUser(st.User); err != nil {
		if st.IfExists {
			if res, ok := demoteExists(err, dberrors.KindTableNotFound); ok {
				return res, nil
			}
		}
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("user %q dropped", st.User)}, nil
}

func (s *Session) execCreateTrigger(st *sqlfront.CreateTrigger) (*Result, error) {
	t := catalog.Trigger{Name: st.Trigger, Table: st.Table, Timing: st.Timing, Event: st.Event, Statement: st.Statement}
	if err := s.ex.Catalog.CreateTrigger(t); err != nil {
		if st.IfNotExists {
			if res, ok := demoteExists(err, dberrors.KindTableExists); ok {
				return res, nil
			}
		}
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("trigger %q created", st.Trigger)}, nil
}

func (s *Session) execDropTrigger(st *sqlfront.DropTrigger) (*Result, error) {
	if err := s.ex.Catalog.DropTrigger(st.Trigger); err != nil {
		if st.IfExists {
			if res, ok := demoteExists(err, dberrors.KindTableNotFound); ok {
				return res, nil
			}
		}
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("trigger %q dropped", st.Trigger)}, nil
}

func (s *Session) execGrant(st *sqlfront.Grant) (*Result, error) {
	if err := s.ex.Catalog.Grant(catalog.Grant{User: st.User, Table: st.Table, Privilege: st.Privilege}); err != nil {
		return nil, err
	}
	return &Result{Message: "grant recorded"}, nil
}

func (s *Session) execRevoke(st *sqlfront.Revoke) (*Result, error) {
	if err := s.ex.Catalog.Revoke(catalog.Grant{User: st.User, Table: st.Table, Privilege: st.Privilege}); err != nil {
		return nil, err
	}
	return &Result{Message: "grant revoked"}, nil
}
