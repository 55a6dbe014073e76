package sqlfront

import "github.com/minisql/minisql/internal/types"

// Statement is any top-level SQL statement the parser can produce.
type Statement interface {
	statementNode()
}

// ColumnDef is one column in a CREATE TABLE or ALTER TABLE ADD COLUMN.
type ColumnDef struct {
	Name       string
	Kind       types.Kind
	Len        int
	Nullable   bool
	PrimaryKey bool
	Unique     bool
	Default    *types.Value
}

// CreateTable is CREATE TABLE name (col defs..., CHECK(...)...).
type CreateTable struct {
	Table            string
	IfNotExists      bool
	Columns          []ColumnDef
	CheckConstraints []string
	ForeignKeys      []types.ForeignKey
}

// DropTable is DROP TABLE [IF EXISTS] name.
type DropTable struct {
	Table    string
	IfExists bool
}

// TruncateTable is TRUNCATE TABLE name.
type TruncateTable struct {
	Table string
}

// AlterTable is ALTER TABLE name ADD|DROP COLUMN ...
type AlterTable struct {
	Table      string
	AddColumn  *ColumnDef
	DropColumn string // empty if this is an AddColumn
}

// CreateIndex is CREATE [UNIQUE] INDEX [IF NOT EXISTS] name ON table (col, ...).
type CreateIndex struct {
	Index       string
	Table       string
	Columns     []string
	Unique      bool
	IfNotExists bool
}

// DropIndex is DROP INDEX [IF EXISTS] name.
type DropIndex struct {
	Index    string
	IfExists bool
}

// CreateView is CREATE VIEW [IF NOT EXISTS] name AS <select text>.
type CreateView struct {
	View        string
	Definition  string
	IfNotExists bool
}

// DropView is DROP VIEW [IF EXISTS] name.
type DropView struct {
	View     string
	IfExists bool
}

// CreateUser is CREATE USER [IF NOT EXISTS] name [IDENTIFIED BY 'password'].
type CreateUser struct {
	User        string
	Password    string
	IfNotExists bool
}

// DropUser is DROP USER [IF EXISTS] name.
type DropUser struct {
	User     string
	IfExists bool
}

// CreateTrigger is CREATE TRIGGER [IF NOT EXISTS] name BEFORE|AFTER event ON table FOR EACH ROW <stmt text>.
type CreateTrigger struct {
	Trigger     string
	Timing      string // BEFORE | AFTER
	Event       string // INSERT | UPDATE | DELETE
	Table       string
	Statement   string
	IfNotExists bool
}

// DropTrigger is DROP TRIGGER [IF EXISTS] name.
type DropTrigger struct {
	Trigger  string
	IfExists bool
}

// Grant is GRANT privilege ON table TO user.
type Grant struct {
	Privilege string
	Table     string
	User      string
}

// Revoke is REVOKE privilege ON table FROM user.
type Revoke struct {
	Privilege string
	Table     string
	User      string
}

// Insert is INSERT INTO table (cols...) VALUES (exprs...), ...
type Insert struct {
	Table   string
	Columns []string // empty means "all columns, in schema order"
	Rows    [][]Expr
}

// OrderTerm is one ORDER BY column plus direction.
type OrderTerm struct {
	Column string
	Desc   bool
}

// JoinClause is a single INNER JOIN against another table.
type JoinClause struct {
	Table string
	On    Expr
}

// Select is SELECT cols FROM table [JOIN ...] [WHERE ...] [ORDER BY ...] [LIMIT n].
type Select struct {
	Columns   []string // empty (and Star true) means SELECT *
	Star      bool
	CountStar bool // SELECT COUNT(*) - mutually exclusive with Columns/Star
	Table     string
	Joins     []JoinClause
	Where     Expr
	OrderBy   []OrderTerm
	Limit     int
	HasLimit  bool
}

// Update is UPDATE table SET col=expr, ... [WHERE ...].
type Update struct {
	Table   string
	Columns []string
	Values  []Expr
	Where   Expr
}

// Delete is DELETE FROM table [WHERE ...].
type Delete struct {
	Table string
	Where Expr
}

// Begin is BEGIN [TRANSACTION] [ISOLATION LEVEL ...].
type Begin struct {
	HasIsolation bool
	Isolation    string
}

// Commit is COMMIT.
type Commit struct{}

// Rollback is ROLLBACK.
type Rollback struct{}

// SetAutocommit is SET AUTOCOMMIT = 0|1.
type SetAutocommit struct {
	On bool
}

// SetIsolationLevel is SET ISOLATION LEVEL ...
type SetIsolationLevel struct {
	Level string
}

// ShowAutocommit is SHOW AUTOCOMMIT.
type ShowAutocommit struct{}

// ShowIsolationLevel is SHOW ISOLATION LEVEL.
type ShowIsolationLevel struct{}

func (*CreateTable) statementNode()       {}
func (*DropTable) statementNode()         {}
func (*TruncateTable) statementNode()     {}
func (*AlterTable) statementNode()        {}
func (*CreateIndex) statementNode()       {}
func (*DropIndex) statementNode()         {}
func (*CreateView) statementNode()        {}
func (*DropView) statementNode()          {}
func (*CreateUser) statementNode()        {}
func (*DropUser) statementNode()          {}
func (*CreateTrigger) statementNode()     {}
func (*DropTrigger) statementNode()       {}
func (*Grant) statementNode()             {}
func (*Revoke) statementNode()            {}
func (*Insert) statementNode()            {}
func (*Select) statementNode()            {}
func (*Update) statementNode()            {}
func (*Delete) statementNode()            {}
func (*Begin) statementNode()             {}
func (*Commit) statementNode()            {}
func (*Rollback) statementNode()          {}
func (*SetAutocommit) statementNode()     {}
func (*SetIsolationLevel) statementNode() {}
func (*ShowAutocommit) statementNode()    {}
func (*ShowIsolationLevel) statementNode() {}

// Expr is a WHERE/CHECK/join predicate or value expression node.
type Expr interface {
	exprNode()
}

// ColumnRef references a (possibly table-qualified) column.
type ColumnRef struct {
	Table string // empty if unqualified
	Name  string
}

// Literal is a constant value appearing in an expression.
type Literal struct {
	Value types.Value
}

// UnaryExpr is NOT x or -x.
type UnaryExpr struct {
	Op string // "NOT" | "-"
	X  Expr
}

// BinaryExpr is x <op> y for comparison/arithmetic/logical operators.
type BinaryExpr struct {
	Op   string // "=", "!=", "<", "<=", ">", ">=", "AND", "OR", "+", "-"
	X, Y Expr
}

// IsNullExpr is x IS [NOT] NULL.
type IsNullExpr struct {
	X      Expr
	Negate bool
}

// InExpr is x IN (list...).
type InExpr struct {
	X      Expr
	List   []Expr
	Negate bool
}

func (*ColumnRef) exprNode()  {}
func (*Literal) exprNode()    {}
func (*UnaryExpr) exprNode()  {}
func (*BinaryExpr) exprNode() {}
func (*IsNullExpr) exprNode() {}
func (*InExpr) exprNode()     {}
