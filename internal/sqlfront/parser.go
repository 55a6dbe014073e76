package sqlfront

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/minisql/minisql/internal/types"
)

// Parser is a hand-written recursive-descent parser over a Lexer,
// buffering one token of lookahead via advance/peek.
type Parser struct {
	lexer   *Lexer
	current Token
	peeked  *Token
}

// NewParser creates a Parser over input.
func NewParser(input string) *Parser {
	return &Parser{lexer: NewLexer(input)}
}

func (p *Parser) advance() error {
	if p.peeked != nil {
		p.current = *p.peeked
		p.peeked = nil
		return nil
	}
	tok, err := p.lexer.NextToken()
	if err != nil {
		return err
	}
	p.current = tok
	return nil
}

func (p *Parser) peek() (Token, error) {
	if p.peeked != nil {
		return *p.peeked, nil
	}
	tok, err := p.lexer.NextToken()
	if err != nil {
		return Token{}, err
	}
	p.peeked = &tok
	return tok, nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return fmt.Errorf("sqlfront: "+format+" (at position %d)", append(args, p.current.Pos)...)
}

func (p *Parser) isKeyword(word string) bool {
	return p.current.Type == TokenKeyword && p.current.Value == word
}

func (p *Parser) expectKeyword(word string) error {
	if !p.isKeyword(word) {
		return p.errorf("expected %q, got %q", word, p.current.Value)
	}
	return p.advance()
}

func (p *Parser) expectType(t TokenType) (Token, error) {
	if p.current.Type != t {
		return Token{}, p.errorf("expected %s, got %s %q", t, p.current.Type, p.current.Value)
	}
	tok := p.current
	return tok, p.advance()
}

func (p *Parser) identName() (string, error) {
	if p.current.Type != TokenIdent {
		return "", p.errorf("expected identifier, got %s %q", p.current.Type, p.current.Value)
	}
	name := p.current.Value
	return name, p.advance()
}

// ParseStatement parses exactly one statement (an optional trailing
// semicolon is consumed) and returns it.
func ParseStatement(input string) (Statement, error) {
	p := NewParser(input)
	if err := p.advance(); err != nil {
		return nil, err
	}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if p.current.Type == TokenSemicolon {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if p.current.Type != TokenEOF {
		return nil, p.errorf("unexpected trailing token %q", p.current.Value)
	}
	return stmt, nil
}

// ParseExpr parses input as a standalone expression, used for CHECK
// constraint text stored in the catalog.
func ParseExpr(input string) (Expr, error) {
	p := NewParser(input)
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, p.errorf("unexpected trailing token %q", p.current.Value)
	}
	return expr, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	if p.current.Type != TokenKeyword {
		return nil, p.errorf("expected a statement keyword, got %s %q", p.current.Type, p.current.Value)
	}
	switch p.current.Value {
	case "SELECT":
		return p.parseSelect()
	case "INSERT":
		return p.parseInsert()
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	case "CREATE":
		return p.parseCreate()
	case "DROP":
		return p.parseDrop()
	case "TRUNCATE":
		return p.parseTruncate()
	case "ALTER":
		return p.parseAlter()
	case "GRANT":
		return p.parseGrant()
	case "REVOKE":
		return p.parseRevoke()
	case "BEGIN":
		return p.parseBegin()
	case "START":
		return p.parseStartTransaction()
	case "COMMIT":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Commit{}, nil
	case "ROLLBACK":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Rollback{}, nil
	case "SHOW":
		return p.parseShow()
	case "SET":
		return p.parseSet()
	default:
		return nil, p.errorf("unsupported statement %q", p.current.Value)
	}
}

// parseSet handles SET AUTOCOMMIT = 0|1,
// SET SESSION TRANSACTION ISOLATION LEVEL <level>, and its short form
// SET ISOLATION LEVEL <level>, the only SET forms the engine accepts.
func (p *Parser) parseSet() (Statement, error) {
	if err := p.advance(); err != nil { // SET
		return nil, err
	}
	if p.isKeyword("AUTOCOMMIT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expectType(TokenEquals); err != nil {
			return nil, err
		}
		tok, err := p.expectType(TokenNumber)
		if err != nil {
			return nil, err
		}
		return &SetAutocommit{On: tok.Value == "1"}, nil
	}
	if p.isKeyword("SESSION") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("TRANSACTION"); err != nil {
			return nil, err
		}
		level, err := p.parseIsolationClause()
		if err != nil {
			return nil, err
		}
		return &SetIsolationLevel{Level: level}, nil
	}
	if p.isKeyword("ISOLATION") {
		level, err := p.parseIsolationClause()
		if err != nil {
			return nil, err
		}
		return &SetIsolationLevel{Level: level}, nil
	}
	return nil, p.errorf("expected AUTOCOMMIT or SESSION TRANSACTION ISOLATION LEVEL after SET")
}

// --- CREATE ---

func (p *Parser) parseCreate() (Statement, error) {
	if err := p.advance(); err != nil { // consume CREATE
		return nil, err
	}
	switch {
	case p.isKeyword("TABLE"):
		return p.parseCreateTable()
	case p.isKeyword("UNIQUE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("INDEX"); err != nil {
			return nil, err
		}
		return p.parseCreateIndex(true)
	case p.isKeyword("INDEX"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseCreateIndex(false)
	case p.isKeyword("VIEW"):
		return p.parseCreateView()
	case p.isKeyword("USER"):
		return p.parseCreateUser()
	case p.isKeyword("TRIGGER"):
		return p.parseCreateTrigger()
	default:
		return nil, p.errorf("expected TABLE, INDEX, VIEW, USER, or TRIGGER after CREATE")
	}
}


// ifExistsClause consumes an optional IF EXISTS.
func (p *Parser) ifExistsClause() (bool, error) {
	if !p.isKeyword("IF") {
		return false, nil
	}
	if err := p.advance(); err != nil {
		return false, err
	}
	if err := p.expectKeyword("EXISTS"); err != nil {
		return false, err
	}
	return true, nil
}

// ifNotExistsClause consumes an optional IF NOT EXISTS.
func (p *Parser) ifNotExistsClause() (bool, error) {
	if !p.isKeyword("IF") {
		return false, nil
	}
	if err := p.advance(); err != nil {
		return false, err
	}
	if err := p.expectKeyword("NOT"); err != nil {
		return false, err
	}
	if err := p.expectKeyword("EXISTS"); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Parser) parseCreateTable() (Statement, error) {
	if err := p.advance(); err != nil { // consume TABLE
		return nil, err
	}
	ifNotExists, err := p.ifNotExistsClause()
	if err != nil {
		return nil, err
	}
	table, err := p.identName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectType(TokenLParen); err != nil {
		return nil, err
	}

	ct := &CreateTable{Table: table, IfNotExists: ifNotExists}
	for {
		if p.isKeyword("CHECK") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			text, err := p.parseParenthesizedExprText()
			if err != nil {
				return nil, err
			}
			ct.CheckConstraints = append(ct.CheckConstraints, text)
		} else if p.isKeyword("FOREIGN") {
			fk, err := p.parseForeignKeyClause()
			if err != nil {
				return nil, err
			}
			ct.ForeignKeys = append(ct.ForeignKeys, fk)
		} else {
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			ct.Columns = append(ct.Columns, col)
		}
		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expectType(TokenRParen); err != nil {
		return nil, err
	}
	return ct, nil
}

func (p *Parser) parseForeignKeyClause() (types.ForeignKey, error) {
	if err := p.advance(); err != nil { // FOREIGN
		return types.ForeignKey{}, err
	}
	if err := p.expectKeyword("KEY"); err != nil {
		return types.ForeignKey{}, err
	}
	if _, err := p.expectType(TokenLParen); err != nil {
		return types.ForeignKey{}, err
	}
	col, err := p.identName()
	if err != nil {
		return types.ForeignKey{}, err
	}
	if _, err := p.expectType(TokenRParen); err != nil {
		return types.ForeignKey{}, err
	}
	if err := p.expectKeyword("REFERENCES"); err != nil {
		return types.ForeignKey{}, err
	}
	refTable, err := p.identName()
	if err != nil {
		return types.ForeignKey{}, err
	}
	refCol := ""
	if p.current.Type == TokenLParen {
		if err := p.advance(); err != nil {
			return types.ForeignKey{}, err
		}
		refCol, err = p.identName()
		if err != nil {
			return types.ForeignKey{}, err
		}
		if _, err := p.expectType(TokenRParen); err != nil {
			return types.ForeignKey{}, err
		}
	}
	return types.ForeignKey{Column: col, RefTable: refTable, RefColumn: refCol}, nil
}

// parseParenthesizedExprText captures the raw text between a matching
// pair of parens, for CHECK constraints that internal/executor parses
// lazily with ParseExpr.
func (p *Parser) parseParenthesizedExprText() (string, error) {
	if p.current.Type != TokenLParen {
		return "", p.errorf("expected '(' ")
	}
	start := p.current.Pos
	depth := 0
	for {
		if p.current.Type == TokenLParen {
			depth++
		} else if p.current.Type == TokenRParen {
			depth--
			if depth == 0 {
				end := p.current.Pos + 1
				text := p.lexer.input[start+1 : end-1]
				if err := p.advance(); err != nil {
					return "", err
				}
				return strings.TrimSpace(text), nil
			}
		} else if p.current.Type == TokenEOF {
			return "", p.errorf("unterminated parenthesized expression")
		}
		if err := p.advance(); err != nil {
			return "", err
		}
	}
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	name, err := p.identName()
	if err != nil {
		return ColumnDef{}, err
	}
	col := ColumnDef{Name: name, Nullable: true}

	if p.current.Type != TokenKeyword {
		return ColumnDef{}, p.errorf("expected a type for column %q", name)
	}
	switch p.current.Value {
	case "INT", "INTEGER":
		col.Kind = types.KindInt
		if err := p.advance(); err != nil {
			return ColumnDef{}, err
		}
	case "FLOAT":
		col.Kind = types.KindFloat
		if err := p.advance(); err != nil {
			return ColumnDef{}, err
		}
	case "BOOL", "BOOLEAN":
		col.Kind = types.KindBool
		if err := p.advance(); err != nil {
			return ColumnDef{}, err
		}
	case "CHAR", "VARCHAR":
		isChar := p.current.Value == "CHAR"
		if err := p.advance(); err != nil {
			return ColumnDef{}, err
		}
		n := 255
		if p.current.Type == TokenLParen {
			if err := p.advance(); err != nil {
				return ColumnDef{}, err
			}
			numTok, err := p.expectType(TokenNumber)
			if err != nil {
				return ColumnDef{}, err
			}
			n, _ = strconv.Atoi(numTok.Value)
			if _, err := p.expectType(TokenRParen); err != nil {
				return ColumnDef{}, err
			}
		}
		col.Len = n
		if isChar {
			col.Kind = types.KindChar
		} else {
			col.Kind = types.KindVarchar
		}
	default:
		return ColumnDef{}, p.errorf("unknown column type %q", p.current.Value)
	}

	for p.current.Type == TokenKeyword {
		switch p.current.Value {
		case "NOT":
			if err := p.advance(); err != nil {
				return ColumnDef{}, err
			}
			if err := p.expectKeyword("NULL"); err != nil {
				return ColumnDef{}, err
			}
			col.Nullable = false
		case "NULL":
			if err := p.advance(); err != nil {
				return ColumnDef{}, err
			}
			col.Nullable = true
		case "PRIMARY":
			if err := p.advance(); err != nil {
				return ColumnDef{}, err
			}
			if err := p.expectKeyword("KEY"); err != nil {
				return ColumnDef{}, err
			}
			col.PrimaryKey = true
			col.Nullable = false
		case "UNIQUE":
			if err := p.advance(); err != nil {
				return ColumnDef{}, err
			}
			col.Unique = true
		case "DEFAULT":
			if err := p.advance(); err != nil {
				return ColumnDef{}, err
			}
			expr, err := p.parsePrimary()
			if err != nil {
				return ColumnDef{}, err
			}
			lit, ok := expr.(*Literal)
			if !ok {
				return ColumnDef{}, p.errorf("DEFAULT for column %q must be a constant", name)
			}
			v := lit.Value
			col.Default = &v
		default:
			return col, nil
		}
	}
	return col, nil
}

func (p *Parser) parseCreateIndex(unique bool) (Statement, error) {
	ifNotExists, err := p.ifNotExistsClause()
	if err != nil {
		return nil, err
	}
	name, err := p.identName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.identName()
	if err != nil {
		return nil, err
	}
	cols, err := p.parseIdentList()
	if err != nil {
		return nil, err
	}
	return &CreateIndex{Index: name, Table: table, Columns: cols, Unique: unique, IfNotExists: ifNotExists}, nil
}

func (p *Parser) parseIdentList() ([]string, error) {
	if _, err := p.expectType(TokenLParen); err != nil {
		return nil, err
	}
	var out []string
	for {
		name, err := p.identName()
		if err != nil {
			return nil, err
		}
		out = append(out, name)
		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expectType(TokenRParen); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parser) parseCreateView() (Statement, error) {
	if err := p.advance(); err != nil { // VIEW
		return nil, err
	}
	ifNotExists, err := p.ifNotExistsClause()
	if err != nil {
		return nil, err
	}
	name, err := p.identName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	def := strings.TrimSpace(p.lexer.input[p.current.Pos:])
	def = strings.TrimSuffix(def, ";")
	for p.current.Type != TokenEOF {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return &CreateView{View: name, Definition: def, IfNotExists: ifNotExists}, nil
}

func (p *Parser) parseCreateUser() (Statement, error) {
	if err := p.advance(); err != nil { // USER
		return nil, err
	}
	ifNotExists, err := p.ifNotExistsClause()
	if err != nil {
		return nil, err
	}
	name, err := p.identName()
	if err != nil {
		return nil, err
	}
	user := &CreateUser{User: name, IfNotExists: ifNotExists}
	if p.isKeyword("IDENTIFIED") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		tok, err := p.expectType(TokenString)
		if err != nil {
			return nil, err
		}
		user.Password = tok.Value
	}
	return user, nil
}

func (p *Parser) parseCreateTrigger() (Statement, error) {
	if err := p.advance(); err != nil { // TRIGGER
		return nil, err
	}
	ifNotExists, err := p.ifNotExistsClause()
	if err != nil {
		return nil, err
	}
	name, err := p.identName()
	if err != nil {
		return nil, err
	}
	timing := ""
	if p.isKeyword("BEFORE") {
		timing = "BEFORE"
	} else if p.isKeyword("AFTER") {
		timing = "AFTER"
	} else {
		return nil, p.errorf("expected BEFORE or AFTER")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	event := ""
	switch {
	case p.isKeyword("INSERT"):
		event = "INSERT"
	case p.isKeyword("UPDATE"):
		event = "UPDATE"
	case p.isKeyword("DELETE"):
		event = "DELETE"
	default:
		return nil, p.errorf("expected INSERT, UPDATE, or DELETE")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.identName()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("FOR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("EACH"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("ROW"); err != nil {
			return nil, err
		}
	}
	stmtText := strings.TrimSpace(p.lexer.input[p.current.Pos:])
	stmtText = strings.TrimSuffix(stmtText, ";")
	for p.current.Type != TokenEOF {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return &CreateTrigger{Trigger: name, Timing: timing, Event: event, Table: table, Statement: stmtText, IfNotExists: ifNotExists}, nil
}

// --- DROP / TRUNCATE / ALTER ---

func (p *Parser) parseDrop() (Statement, error) {
	if err := p.advance(); err != nil { // DROP
		return nil, err
	}
	switch {
	case p.isKeyword("TABLE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		ifExists, err := p.ifExistsClause()
		if err != nil {
			return nil, err
		}
		name, err := p.identName()
		if err != nil {
			return nil, err
		}
		return &DropTable{Table: name, IfExists: ifExists}, nil
	case p.isKeyword("INDEX"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		ifExists, err := p.ifExistsClause()
		if err != nil {
			return nil, err
		}
		name, err := p.identName()
		if err != nil {
			return nil, err
		}
		return &DropIndex{Index: name, IfExists: ifExists}, nil
	case p.isKeyword("VIEW"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		ifExists, err := p.ifExistsClause()
		if err != nil {
			return nil, err
		}
		name, err := p.identName()
		if err != nil {
			return nil, err
		}
		return &DropView{View: name, IfExists: ifExists}, nil
	case p.isKeyword("USER"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		ifExists, err := p.ifExistsClause()
		if err != nil {
			return nil, err
		}
		name, err := p.identName()
		if err != nil {
			return nil, err
		}
		return &DropUser{User: name, IfExists: ifExists}, nil
	case p.isKeyword("TRIGGER"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		ifExists, err := p.ifExistsClause()
		if err != nil {
			return nil, err
		}
		name, err := p.identName()
		if err != nil {
			return nil, err
		}
		return &DropTrigger{Trigger: name, IfExists: ifExists}, nil
	default:
		return nil, p.errorf("expected TABLE, INDEX, VIEW, USER, or TRIGGER after DROP")
	}
}

func (p *Parser) parseTruncate() (Statement, error) {
	if err := p.advance(); err != nil { // TRUNCATE
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.identName()
	if err != nil {
		return nil, err
	}
	return &TruncateTable{Table: name}, nil
}

func (p *Parser) parseAlter() (Statement, error) {
	if err := p.advance(); err != nil { // ALTER
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.identName()
	if err != nil {
		return nil, err
	}
	at := &AlterTable{Table: table}
	switch {
	case p.isKeyword("ADD"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isKeyword("COLUMN") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		at.AddColumn = &col
	case p.isKeyword("DROP"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isKeyword("COLUMN") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		name, err := p.identName()
		if err != nil {
			return nil, err
		}
		at.DropColumn = name
	default:
		return nil, p.errorf("expected ADD or DROP after ALTER TABLE %s", table)
	}
	return at, nil
}

// --- GRANT / REVOKE ---

func (p *Parser) parsePrivilege() (string, error) {
	if p.isKeyword("ALL") {
		if err := p.advance(); err != nil {
			return "", err
		}
		if p.isKeyword("PRIVILEGES") {
			if err := p.advance(); err != nil {
				return "", err
			}
		}
		return "ALL", nil
	}
	for _, kw := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if p.isKeyword(kw) {
			if err := p.advance(); err != nil {
				return "", err
			}
			return kw, nil
		}
	}
	return "", p.errorf("expected a privilege (SELECT/INSERT/UPDATE/DELETE/ALL)")
}

func (p *Parser) parseGrant() (Statement, error) {
	if err := p.advance(); err != nil { // GRANT
		return nil, err
	}
	priv, err := p.parsePrivilege()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.identName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	user, err := p.identName()
	if err != nil {
		return nil, err
	}
	return &Grant{Privilege: priv, Table: table, User: user}, nil
}

func (p *Parser) parseRevoke() (Statement, error) {
	if err := p.advance(); err != nil { // REVOKE
		return nil, err
	}
	priv, err := p.parsePrivilege()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.identName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	user, err := p.identName()
	if err != nil {
		return nil, err
	}
	return &Revoke{Privilege: priv, Table: table, User: user}, nil
}

// --- transaction control ---

// parseStartTransaction handles START TRANSACTION, an alias for BEGIN.
func (p *Parser) parseStartTransaction() (Statement, error) {
	if err := p.advance(); err != nil { // START
		return nil, err
	}
	if err := p.expectKeyword("TRANSACTION"); err != nil {
		return nil, err
	}
	return p.parseBeginTail()
}

func (p *Parser) parseBegin() (Statement, error) {
	if err := p.advance(); err != nil { // BEGIN
		return nil, err
	}
	if p.isKeyword("TRANSACTION") {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return p.parseBeginTail()
}

func (p *Parser) parseBeginTail() (Statement, error) {
	b := &Begin{}
	if p.isKeyword("ISOLATION") {
		level, err := p.parseIsolationClause()
		if err != nil {
			return nil, err
		}
		b.HasIsolation = true
		b.Isolation = level
	}
	return b, nil
}

func (p *Parser) parseIsolationClause() (string, error) {
	if err := p.advance(); err != nil { // ISOLATION
		return "", err
	}
	if err := p.expectKeyword("LEVEL"); err != nil {
		return "", err
	}
	var words []string
	for p.current.Type == TokenKeyword {
		words = append(words, p.current.Value)
		if err := p.advance(); err != nil {
			return "", err
		}
	}
	return strings.Join(words, " "), nil
}

func (p *Parser) parseShow() (Statement, error) {
	if err := p.advance(); err != nil { // SHOW
		return nil, err
	}
	if p.isKeyword("AUTOCOMMIT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ShowAutocommit{}, nil
	}
	if p.isKeyword("ISOLATION") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("LEVEL"); err != nil {
			return nil, err
		}
		return &ShowIsolationLevel{}, nil
	}
	return nil, p.errorf("expected AUTOCOMMIT or ISOLATION LEVEL after SHOW")
}

// --- DML ---

func (p *Parser) parseInsert() (Statement, error) {
	if err := p.advance(); err != nil { // INSERT
		return nil, err
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.identName()
	if err != nil {
		return nil, err
	}
	ins := &Insert{Table: table}
	if p.current.Type == TokenLParen {
		cols, err := p.parseIdentList()
		if err != nil {
			return nil, err
		}
		ins.Columns = cols
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if _, err := p.expectType(TokenLParen); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.current.Type == TokenComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if _, err := p.expectType(TokenRParen); err != nil {
			return nil, err
		}
		ins.Rows = append(ins.Rows, row)
		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return ins, nil
}

func (p *Parser) parseSelect() (Statement, error) {
	if err := p.advance(); err != nil { // SELECT
		return nil, err
	}
	sel := &Select{}
	if p.current.Type == TokenStar {
		sel.Star = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else if p.current.Type == TokenIdent && strings.EqualFold(p.current.Value, "COUNT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expectType(TokenLParen); err != nil {
			return nil, err
		}
		if _, err := p.expectType(TokenStar); err != nil {
			return nil, err
		}
		if _, err := p.expectType(TokenRParen); err != nil {
			return nil, err
		}
		sel.CountStar = true
	} else {
		for {
			name, err := p.qualifiedName()
			if err != nil {
				return nil, err
			}
			sel.Columns = append(sel.Columns, name)
			if p.current.Type == TokenComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.identName()
	if err != nil {
		return nil, err
	}
	sel.Table = table

	for p.isKeyword("JOIN") || p.isKeyword("INNER") {
		if p.isKeyword("INNER") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if err := p.expectKeyword("JOIN"); err != nil {
			return nil, err
		}
		joinTable, err := p.identName()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("ON"); err != nil {
			return nil, err
		}
		on, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		sel.Joins = append(sel.Joins, JoinClause{Table: joinTable, On: on})
	}

	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		sel.Where = where
	}

	if p.isKeyword("ORDER") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.qualifiedName()
			if err != nil {
				return nil, err
			}
			desc := false
			if p.isKeyword("DESC") {
				desc = true
				if err := p.advance(); err != nil {
					return nil, err
				}
			} else if p.isKeyword("ASC") {
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			sel.OrderBy = append(sel.OrderBy, OrderTerm{Column: col, Desc: desc})
			if p.current.Type == TokenComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}

	if p.isKeyword("LIMIT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		tok, err := p.expectType(TokenNumber)
		if err != nil {
			return nil, err
		}
		n, convErr := strconv.Atoi(tok.Value)
		if convErr != nil {
			return nil, p.errorf("invalid LIMIT value %q", tok.Value)
		}
		sel.Limit = n
		sel.HasLimit = true
	}

	return sel, nil
}

func (p *Parser) qualifiedName() (string, error) {
	first, err := p.identName()
	if err != nil {
		return "", err
	}
	if p.current.Type == TokenDot {
		if err := p.advance(); err != nil {
			return "", err
		}
		second, err := p.identName()
		if err != nil {
			return "", err
		}
		return first + "." + second, nil
	}
	return first, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	if err := p.advance(); err != nil { // UPDATE
		return nil, err
	}
	table, err := p.identName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	upd := &Update{Table: table}
	for {
		col, err := p.identName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectType(TokenEquals); err != nil {
			return nil, err
		}
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		upd.Columns = append(upd.Columns, col)
		upd.Values = append(upd.Values, val)
		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		upd.Where = where
	}
	return upd, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	if err := p.advance(); err != nil { // DELETE
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.identName()
	if err != nil {
		return nil, err
	}
	del := &Delete{Table: table}
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		del.Where = where
	}
	return del, nil
}

// --- expressions, precedence climbing: OR < AND < NOT < comparison < additive < primary ---

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", X: left, Y: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", X: left, Y: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.isKeyword("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", X: x}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if p.isKeyword("IS") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		negate := false
		if p.isKeyword("NOT") {
			negate = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{X: left, Negate: negate}, nil
	}

	negateIn := false
	if p.isKeyword("NOT") {
		peek, err := p.peek()
		if err != nil {
			return nil, err
		}
		if peek.Type == TokenKeyword && peek.Value == "IN" {
			negateIn = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if p.isKeyword("IN") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expectType(TokenLParen); err != nil {
			return nil, err
		}
		var list []Expr
		for {
			e, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			list = append(list, e)
			if p.current.Type == TokenComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if _, err := p.expectType(TokenRParen); err != nil {
			return nil, err
		}
		return &InExpr{X: left, List: list, Negate: negateIn}, nil
	}

	var op string
	switch p.current.Type {
	case TokenEquals:
		op = "="
	case TokenNotEquals:
		op = "!="
	case TokenLess:
		op = "<"
	case TokenLessEq:
		op = "<="
	case TokenGreater:
		op = ">"
	case TokenGreaterEq:
		op = ">="
	default:
		return left, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: op, X: left, Y: right}, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenPlus || p.current.Type == TokenMinus {
		op := "+"
		if p.current.Type == TokenMinus {
			op = "-"
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, X: left, Y: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.current.Type == TokenMinus {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", X: x}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.current.Type {
	case TokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectType(TokenRParen); err != nil {
			return nil, err
		}
		return e, nil
	case TokenNumber:
		tok := p.current
		if err := p.advance(); err != nil {
			return nil, err
		}
		if strings.Contains(tok.Value, ".") {
			f, convErr := strconv.ParseFloat(tok.Value, 64)
			if convErr != nil {
				return nil, p.errorf("invalid number %q", tok.Value)
			}
			return &Literal{Value: types.NewFloat(f)}, nil
		}
		n, convErr := strconv.ParseInt(tok.Value, 10, 64)
		if convErr != nil {
			return nil, p.errorf("invalid number %q", tok.Value)
		}
		return &Literal{Value: types.NewInt(n)}, nil
	case TokenString:
		tok := p.current
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Value: types.NewVarchar(tok.Value, len(tok.Value))}, nil
	case TokenKeyword:
		switch p.current.Value {
		case "NULL":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &Literal{Value: types.Null}, nil
		case "TRUE":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &Literal{Value: types.NewBool(true)}, nil
		case "FALSE":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &Literal{Value: types.NewBool(false)}, nil
		}
		return nil, p.errorf("unexpected keyword %q in expression", p.current.Value)
	case TokenIdent:
		name, err := p.qualifiedName()
		if err != nil {
			return nil, err
		}
		if parts := strings.SplitN(name, ".", 2); len(parts) == 2 {
			return &ColumnRef{Table: parts[0], Name: parts[1]}, nil
		}
		return &ColumnRef{Name: name}, nil
	default:
		return nil, p.errorf("unexpected token %s %q in expression", p.current.Type, p.current.Value)
	}
}
