package sqlfront

import (
	"testing"

	"github.com/minisql/minisql/internal/types"
)

func TestParseCreateTableWithConstraints(t *testing.T) {
	stmt, err := ParseStatement(`CREATE TABLE IF NOT EXISTS t (
		id INTEGER PRIMARY KEY,
		name VARCHAR(20) NOT NULL,
		dept_id INT,
		CHECK (id > 0),
		FOREIGN KEY (dept_id) REFERENCES dept(id)
	)`)
	if err != nil {
		t.Fatalf("ParseStatement() failed: %v", err)
	}
	ct, ok := stmt.(*CreateTable)
	if !ok {
		t.Fatalf("parsed %T, want *CreateTable", stmt)
	}
	if !ct.IfNotExists {
		t.Fatalf("IfNotExists = false, want true")
	}
	if len(ct.Columns) != 3 {
		t.Fatalf("len(Columns) = %d, want 3", len(ct.Columns))
	}
	if !ct.Columns[0].PrimaryKey || ct.Columns[0].Kind != types.KindInt {
		t.Fatalf("column 0 = %+v, want primary key int", ct.Columns[0])
	}
	if ct.Columns[1].Nullable {
		t.Fatalf("column 1 Nullable = true, want false (NOT NULL)")
	}
	if len(ct.CheckConstraints) != 1 || ct.CheckConstraints[0] != "id > 0" {
		t.Fatalf("CheckConstraints = %v, want [\"id > 0\"]", ct.CheckConstraints)
	}
	if len(ct.ForeignKeys) != 1 || ct.ForeignKeys[0].RefTable != "dept" {
		t.Fatalf("ForeignKeys = %v, want one referencing dept", ct.ForeignKeys)
	}
}

func TestParseInsertWithAndWithoutColumnList(t *testing.T) {
	stmt, err := ParseStatement(`INSERT INTO t VALUES (1, 'A')`)
	if err != nil {
		t.Fatalf("ParseStatement() failed: %v", err)
	}
	ins := stmt.(*Insert)
	if ins.Table != "t" || len(ins.Columns) != 0 || len(ins.Rows) != 1 {
		t.Fatalf("parsed %+v, want table=t no columns one row", ins)
	}

	stmt, err = ParseStatement(`INSERT INTO t (id, name) VALUES (1, 'A')`)
	if err != nil {
		t.Fatalf("ParseStatement() failed: %v", err)
	}
	ins = stmt.(*Insert)
	if len(ins.Columns) != 2 || ins.Columns[0] != "id" || ins.Columns[1] != "name" {
		t.Fatalf("Columns = %v, want [id name]", ins.Columns)
	}
}

func TestParseSelectCountStar(t *testing.T) {
	stmt, err := ParseStatement(`SELECT COUNT(*) FROM t`)
	if err != nil {
		t.Fatalf("ParseStatement() failed: %v", err)
	}
	sel := stmt.(*Select)
	if !sel.CountStar {
		t.Fatalf("CountStar = false, want true")
	}
	if sel.Star || len(sel.Columns) != 0 {
		t.Fatalf("Star/Columns not empty alongside CountStar: %+v", sel)
	}
}

func TestParseSelectStarWhereOrderByLimit(t *testing.T) {
	stmt, err := ParseStatement(`SELECT * FROM t WHERE id > 1 ORDER BY id DESC LIMIT 2`)
	if err != nil {
		t.Fatalf("ParseStatement() failed: %v", err)
	}
	sel := stmt.(*Select)
	if !sel.Star {
		t.Fatalf("Star = false, want true")
	}
	if sel.Where == nil {
		t.Fatalf("Where is nil")
	}
	if len(sel.OrderBy) != 1 || sel.OrderBy[0].Column != "id" || !sel.OrderBy[0].Desc {
		t.Fatalf("OrderBy = %v, want [{id true}]", sel.OrderBy)
	}
	if !sel.HasLimit || sel.Limit != 2 {
		t.Fatalf("Limit = (%v, %d), want (true, 2)", sel.HasLimit, sel.Limit)
	}
}

func TestParseSelectJoin(t *testing.T) {
	stmt, err := ParseStatement(`SELECT * FROM emp JOIN dept ON emp.dept_id = dept.id`)
	if err != nil {
		t.Fatalf("ParseStatement() failed: %v", err)
	}
	sel := stmt.(*Select)
	if len(sel.Joins) != 1 || sel.Joins[0].Table != "dept" {
		t.Fatalf("Joins = %v, want one join on dept", sel.Joins)
	}
}

func TestParseBeginWithIsolationLevel(t *testing.T) {
	stmt, err := ParseStatement(`BEGIN TRANSACTION ISOLATION LEVEL SERIALIZABLE`)
	if err != nil {
		t.Fatalf("ParseStatement() failed: %v", err)
	}
	b := stmt.(*Begin)
	if !b.HasIsolation || b.Isolation != "SERIALIZABLE" {
		t.Fatalf("Begin = %+v, want isolation SERIALIZABLE", b)
	}
}

func TestParseSetAndShowIsolation(t *testing.T) {
	stmt, err := ParseStatement(`SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED`)
	if err != nil {
		t.Fatalf("ParseStatement() failed: %v", err)
	}
	sil, ok := stmt.(*SetIsolationLevel)
	if !ok || sil.Level != "READ COMMITTED" {
		t.Fatalf("parsed %+v, want SetIsolationLevel(READ COMMITTED)", stmt)
	}

	stmt, err = ParseStatement(`SHOW ISOLATION LEVEL`)
	if err != nil {
		t.Fatalf("ParseStatement() failed: %v", err)
	}
	if _, ok := stmt.(*ShowIsolationLevel); !ok {
		t.Fatalf("parsed %T, want *ShowIsolationLevel", stmt)
	}
}

func TestParseExprComparisonAndLogic(t *testing.T) {
	expr, err := ParseExpr(`age >= 18 AND age < 65`)
	if err != nil {
		t.Fatalf("ParseExpr() failed: %v", err)
	}
	bin, ok := expr.(*BinaryExpr)
	if !ok || bin.Op != "AND" {
		t.Fatalf("parsed %+v, want top-level AND", expr)
	}
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := ParseStatement(`SELECT * FROM t; garbage`)
	if err == nil {
		t.Fatalf("ParseStatement() with trailing garbage succeeded, want error")
	}
}

func TestParseIfExistsOnAllDropForms(t *testing.T) {
	cases := []struct {
		input string
		check func(Statement) bool
	}{
		{`DROP TABLE IF EXISTS t`, func(s Statement) bool { return s.(*DropTable).IfExists }},
		{`DROP INDEX IF EXISTS idx`, func(s Statement) bool { return s.(*DropIndex).IfExists }},
		{`DROP VIEW IF EXISTS v`, func(s Statement) bool { return s.(*DropView).IfExists }},
		{`DROP USER IF EXISTS u`, func(s Statement) bool { return s.(*DropUser).IfExists }},
		{`DROP TRIGGER IF EXISTS trg`, func(s Statement) bool { return s.(*DropTrigger).IfExists }},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			stmt, err := ParseStatement(tc.input)
			if err != nil {
				t.Fatalf("ParseStatement(%q) failed: %v", tc.input, err)
			}
			if !tc.check(stmt) {
				t.Fatalf("ParseStatement(%q): IfExists = false, want true", tc.input)
			}
		})
	}
}

func TestParseIfNotExistsOnAllCreateForms(t *testing.T) {
	cases := []struct {
		input string
		check func(Statement) bool
	}{
		{`CREATE INDEX IF NOT EXISTS idx ON t (c)`, func(s Statement) bool { return s.(*CreateIndex).IfNotExists }},
		{`CREATE UNIQUE INDEX IF NOT EXISTS idx ON t (c)`, func(s Statement) bool {
			ci := s.(*CreateIndex)
			return ci.IfNotExists && ci.Unique
		}},
		{`CREATE VIEW IF NOT EXISTS v AS SELECT * FROM t`, func(s Statement) bool { return s.(*CreateView).IfNotExists }},
		{`CREATE USER IF NOT EXISTS u`, func(s Statement) bool { return s.(*CreateUser).IfNotExists }},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			stmt, err := ParseStatement(tc.input)
			if err != nil {
				t.Fatalf("ParseStatement(%q) failed: %v", tc.input, err)
			}
			if !tc.check(stmt) {
				t.Fatalf("ParseStatement(%q): IfNotExists = false, want true", tc.input)
			}
		})
	}
}

func TestParseStartTransactionAliasesBegin(t *testing.T) {
	stmt, err := ParseStatement(`START TRANSACTION`)
	if err != nil {
		t.Fatalf("ParseStatement() failed: %v", err)
	}
	if _, ok := stmt.(*Begin); !ok {
		t.Fatalf("parsed %T, want *Begin", stmt)
	}

	stmt, err = ParseStatement(`START TRANSACTION ISOLATION LEVEL SERIALIZABLE`)
	if err != nil {
		t.Fatalf("ParseStatement() failed: %v", err)
	}
	b := stmt.(*Begin)
	if !b.HasIsolation || b.Isolation != "SERIALIZABLE" {
		t.Fatalf("parsed %+v, want isolation SERIALIZABLE", b)
	}
}
