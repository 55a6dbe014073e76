// Package shell implements the interactive SQL REPL: multi-line
// statement buffering, meta-commands, result-table rendering with
// lipgloss, and a huh confirmation prompt before destructive
// statements.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/minisql/minisql/internal/engine"
	"github.com/minisql/minisql/internal/executor"
	"github.com/minisql/minisql/internal/txn"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"})
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"})
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"})
	headStyle  = lipgloss.NewStyle().Bold(true)
)

// destructiveStatements are the statement prefixes that ask for
// interactive confirmation before running.
var destructiveStatements = []string{"DROP TABLE", "DROP INDEX", "DROP VIEW", "TRUNCATE"}

// Shell is one interactive session over an engine.Engine, matching
// SQLShell's one-shell-per-connected-database shape.
type Shell struct {
	eng     *engine.Engine
	session *executor.Session
	in      *bufio.Scanner
	out     io.Writer
	// Confirm asks y/n before a destructive statement runs; nil skips
	// confirmation entirely (used for non-interactive input).
	Confirm func(statement string) (bool, error)
}

// New creates a Shell reading statements from in and writing output
// to out, with huh's interactive confirm wired in by default.
func New(eng *engine.Engine, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		eng:     eng,
		session: eng.NewSession(),
		in:      bufio.NewScanner(in),
		out:     out,
		Confirm: huhConfirm,
	}
}

func huhConfirm(statement string) (bool, error) {
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Run %q?", statement)).
				Affirmative("Run").
				Negative("Cancel").
				Value(&ok),
		),
	).Run()
	if err != nil {
		if err == huh.ErrUserAborted {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// Run drives the read-eval-print loop until EOF or a \q meta-command,
// matching SQLShell.start's prompt/read/process loop.
func (s *Shell) Run() error {
	fmt.Fprintln(s.out, mutedStyle.Render("minisql shell - type \\help for meta-commands, \\q to quit"))
	var buf strings.Builder
	for {
		if buf.Len() == 0 {
			fmt.Fprint(s.out, "minisql> ")
		} else {
			fmt.Fprint(s.out, "     ...> ")
		}
		if !s.in.Scan() {
			return s.in.Err()
		}
		line := s.in.Text()

		if buf.Len() == 0 {
			if strings.HasPrefix(strings.TrimSpace(line), "\\") {
				if s.metaCommand(strings.TrimSpace(line)) {
					return nil
				}
				continue
			}
		}

		buf.WriteString(line)
		buf.WriteByte(' ')
		trimmed := strings.TrimSpace(buf.String())
		if !strings.HasSuffix(trimmed, ";") {
			continue
		}

		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		s.runStatement(stmt)
	}
}

func (s *Shell) runStatement(stmt string) {
	if s.Confirm != nil && isDestructive(stmt) {
		ok, err := s.Confirm(stmt)
		if err != nil {
			fmt.Fprintln(s.out, errStyle.Render("error: "+err.Error()))
			return
		}
		if !ok {
			fmt.Fprintln(s.out, mutedStyle.Render("cancelled"))
			return
		}
	}

	res, err := s.session.Exec(stmt)
	if err != nil {
		fmt.Fprintln(s.out, errStyle.Render("error: "+err.Error()))
		return
	}
	s.printResult(res)
}

func isDestructive(stmt string) bool {
	upper := strings.ToUpper(strings.TrimSpace(stmt))
	for _, prefix := range destructiveStatements {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// printResult renders a Result as a column-width-aligned table, or a
// one-line status message for non-SELECT statements.
func (s *Shell) printResult(res *executor.Result) {
	if res == nil {
		return
	}
	if len(res.Columns) == 0 {
		msg := res.Message
		if res.RowsAffected > 0 {
			msg = fmt.Sprintf("%s (%d rows affected)", msg, res.RowsAffected)
		}
		fmt.Fprintln(s.out, okStyle.Render(msg))
		return
	}
	if len(res.Rows) == 0 {
		fmt.Fprintln(s.out, mutedStyle.Render("(0 rows)"))
		return
	}

	cells := make([][]string, len(res.Rows))
	widths := make([]int, len(res.Columns))
	for i, col := range res.Columns {
		widths[i] = len(col)
	}
	for r, row := range res.Rows {
		cells[r] = make([]string, len(row))
		for c, v := range row {
			text := "NULL"
			if !v.IsNull() {
				text = v.String()
			}
			cells[r][c] = text
			if len(text) > widths[c] {
				widths[c] = len(text)
			}
		}
	}

	header := make([]string, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = padRight(col, widths[i])
	}
	fmt.Fprintln(s.out, headStyle.Render(strings.Join(header, " | ")))
	sepLen := len(strings.Join(header, " | "))
	fmt.Fprintln(s.out, mutedStyle.Render(strings.Repeat("-", sepLen)))

	for _, row := range cells {
		padded := make([]string, len(row))
		for i, v := range row {
			padded[i] = padRight(v, widths[i])
		}
		fmt.Fprintln(s.out, strings.Join(padded, " | "))
	}
	fmt.Fprintln(s.out, mutedStyle.Render(fmt.Sprintf("(%d rows)", len(res.Rows))))
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

// metaCommand handles a leading-backslash command. Returns true when
// the shell should exit.
func (s *Shell) metaCommand(cmd string) bool {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "\\q", "\\quit":
		return true
	case "\\help":
		s.printHelp()
	case "\\dt", "\\tables":
		s.printTables()
	case "\\stats":
		s.printStats()
	case "\\dtxn":
		s.printPendingChanges()
	case "\\dtree":
		if len(fields) < 2 {
			fmt.Fprintln(s.out, errStyle.Render("usage: \\dtree <index-name>"))
			return false
		}
		s.printIndexDump(fields[1])
	default:
		fmt.Fprintln(s.out, errStyle.Render("unknown meta-command "+fields[0]+"; try \\help"))
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `meta-commands:
  \dt, \tables     list tables
  \stats           buffer pool hit/miss/eviction counters
  \dtxn            dump the current transaction's pending changes
  \dtree <index>   dump every key/RID pair in an index
  \help            this message
  \q, \quit        exit`)
}

func (s *Shell) printTables() {
	for _, name := range s.eng.Catalog.ListTables() {
		fmt.Fprintln(s.out, name)
	}
}

func (s *Shell) printStats() {
	stats := s.eng.Stats()
	fmt.Fprintf(s.out, "cache hits: %d  misses: %d  evictions: %d\n", stats.Hits, stats.Misses, stats.Evictions)
	fmt.Fprintf(s.out, "active transactions: %d\n", s.eng.ActiveTransactions())
}

func (s *Shell) printPendingChanges() {
	changes := s.eng.DumpPendingChanges(s.session)
	if len(changes) == 0 {
		fmt.Fprintln(s.out, mutedStyle.Render("no open transaction or no pending changes"))
		return
	}
	for i, c := range changes {
		fmt.Fprintf(s.out, "%d: %s table=%s rid=%s\n", i, changeTypeName(c.Type), c.Table, c.RID)
	}
}

func changeTypeName(t txn.ChangeType) string {
	switch t {
	case txn.ChangeInsert:
		return "INSERT"
	case txn.ChangeUpdate:
		return "UPDATE"
	case txn.ChangeDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

func (s *Shell) printIndexDump(name string) {
	pairs, err := s.eng.DumpIndex(name)
	if err != nil {
		fmt.Fprintln(s.out, errStyle.Render("error: "+err.Error()))
		return
	}
	for _, p := range pairs {
		fmt.Fprintf(s.out, "%s -> %s\n", p.Key.String(), p.RID)
	}
}

