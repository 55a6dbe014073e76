package engine

import (
	"path/filepath"
	"testing"

	"github.com/minisql/minisql/internal/dberrors"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	e, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// Heap round trip: insert three rows, select them back in order,
// delete one, and confirm COUNT(*) reflects the deletion.
func TestHeapRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	s := e.NewSession()

	if _, err := s.Exec("CREATE TABLE t(id INTEGER PRIMARY KEY, name VARCHAR(20))"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	for _, row := range []string{
		"INSERT INTO t VALUES (1, 'A')",
		"INSERT INTO t VALUES (2, 'B')",
		"INSERT INTO t VALUES (3, 'C')",
	} {
		if _, err := s.Exec(row); err != nil {
			t.Fatalf("%s failed: %v", row, err)
		}
	}

	res, err := s.Exec("SELECT * FROM t ORDER BY id")
	if err != nil {
		t.Fatalf("SELECT failed: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("SELECT returned %d rows, want 3", len(res.Rows))
	}
	wantNames := []string{"A", "B", "C"}
	for i, row := range res.Rows {
		if row[0].Int != int64(i+1) || row[1].Str != wantNames[i] {
			t.Fatalf("row %d = %v, want id=%d name=%s", i, row, i+1, wantNames[i])
		}
	}

	if _, err := s.Exec("DELETE FROM t WHERE id = 2"); err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}

	res, err = s.Exec("SELECT COUNT(*) FROM t")
	if err != nil {
		t.Fatalf("SELECT COUNT(*) failed: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0].Int != 2 {
		t.Fatalf("COUNT(*) = %v, want 2", res.Rows)
	}
}

// Unique index enforcement: a second row with a duplicate UNIQUE
// column value is rejected with UniqueViolation.
func TestUniqueIndexEnforcement(t *testing.T) {
	e := openTestEngine(t)
	s := e.NewSession()

	if _, err := s.Exec("CREATE TABLE u(id INT PRIMARY KEY, email VARCHAR(50) UNIQUE)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if _, err := s.Exec("INSERT INTO u VALUES (1, 'a@x')"); err != nil {
		t.Fatalf("first INSERT failed: %v", err)
	}
	_, err := s.Exec("INSERT INTO u VALUES (2, 'a@x')")
	if err == nil {
		t.Fatalf("second INSERT with duplicate email succeeded, want UniqueViolation")
	}
	if !dberrors.Is(err, dberrors.KindUniqueViolation) {
		t.Fatalf("err = %v, want KindUniqueViolation", err)
	}
}

// Dirty read under READ UNCOMMITTED: an uncommitted UPDATE from
// one session is visible to a second session reading at the same
// isolation level, and the change vanishes again after ROLLBACK.
func TestDirtyReadUnderReadUncommitted(t *testing.T) {
	e := openTestEngine(t)
	a := e.NewSession()
	b := e.NewSession()

	if _, err := a.Exec("CREATE TABLE accounts(id INT PRIMARY KEY, balance INT)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if _, err := a.Exec("INSERT INTO accounts VALUES (1, 1000)"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}

	if _, err := a.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ UNCOMMITTED"); err != nil {
		t.Fatalf("SET ISOLATION (a) failed: %v", err)
	}
	if _, err := b.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ UNCOMMITTED"); err != nil {
		t.Fatalf("SET ISOLATION (b) failed: %v", err)
	}

	if _, err := a.Exec("BEGIN"); err != nil {
		t.Fatalf("BEGIN failed: %v", err)
	}
	if _, err := a.Exec("UPDATE accounts SET balance = 1500 WHERE id = 1"); err != nil {
		t.Fatalf("UPDATE failed: %v", err)
	}

	res, err := b.Exec("SELECT balance FROM accounts WHERE id = 1")
	if err != nil {
		t.Fatalf("SELECT (dirty read) failed: %v", err)
	}
	if res.Rows[0][0].Int != 1500 {
		t.Fatalf("dirty read balance = %d, want 1500", res.Rows[0][0].Int)
	}

	if _, err := a.Exec("ROLLBACK"); err != nil {
		t.Fatalf("ROLLBACK failed: %v", err)
	}

	res, err = b.Exec("SELECT balance FROM accounts WHERE id = 1")
	if err != nil {
		t.Fatalf("SELECT (post-rollback) failed: %v", err)
	}
	if res.Rows[0][0].Int != 1000 {
		t.Fatalf("post-rollback balance = %d, want 1000", res.Rows[0][0].Int)
	}
}

// READ COMMITTED blocks the dirty read READ UNCOMMITTED permits: the
// uncommitted UPDATE is invisible until A commits.
func TestReadCommittedBlocksDirtyRead(t *testing.T) {
	e := openTestEngine(t)
	a := e.NewSession()
	b := e.NewSession()

	if _, err := a.Exec("CREATE TABLE accounts(id INT PRIMARY KEY, balance INT)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if _, err := a.Exec("INSERT INTO accounts VALUES (1, 1000)"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}

	if _, err := a.Exec("BEGIN"); err != nil {
		t.Fatalf("BEGIN failed: %v", err)
	}
	if _, err := a.Exec("UPDATE accounts SET balance = 1500 WHERE id = 1"); err != nil {
		t.Fatalf("UPDATE failed: %v", err)
	}

	res, err := b.Exec("SELECT balance FROM accounts WHERE id = 1")
	if err != nil {
		t.Fatalf("SELECT (pre-commit) failed: %v", err)
	}
	if res.Rows[0][0].Int != 1000 {
		t.Fatalf("pre-commit balance = %d, want 1000 (uncommitted write must be invisible)", res.Rows[0][0].Int)
	}

	if _, err := a.Exec("COMMIT"); err != nil {
		t.Fatalf("COMMIT failed: %v", err)
	}

	res, err = b.Exec("SELECT balance FROM accounts WHERE id = 1")
	if err != nil {
		t.Fatalf("SELECT (post-commit) failed: %v", err)
	}
	if res.Rows[0][0].Int != 1500 {
		t.Fatalf("post-commit balance = %d, want 1500", res.Rows[0][0].Int)
	}
}

// Rollback replay: an INSERT, UPDATE, and DELETE inside one
// transaction are all undone by ROLLBACK, restoring exact pre-BEGIN
// contents.
func TestRollbackReplay(t *testing.T) {
	e := openTestEngine(t)
	s := e.NewSession()

	if _, err := s.Exec("CREATE TABLE t(id INTEGER PRIMARY KEY, name VARCHAR(20))"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if _, err := s.Exec("INSERT INTO t VALUES (1, 'A')"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}

	before, err := s.Exec("SELECT * FROM t ORDER BY id")
	if err != nil {
		t.Fatalf("SELECT (before) failed: %v", err)
	}

	if _, err := s.Exec("BEGIN"); err != nil {
		t.Fatalf("BEGIN failed: %v", err)
	}
	if _, err := s.Exec("INSERT INTO t VALUES (10, 'X')"); err != nil {
		t.Fatalf("INSERT (10) failed: %v", err)
	}
	if _, err := s.Exec("UPDATE t SET name = 'Y' WHERE id = 10"); err != nil {
		t.Fatalf("UPDATE failed: %v", err)
	}
	if _, err := s.Exec("DELETE FROM t WHERE id = 1"); err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	if _, err := s.Exec("ROLLBACK"); err != nil {
		t.Fatalf("ROLLBACK failed: %v", err)
	}

	after, err := s.Exec("SELECT * FROM t ORDER BY id")
	if err != nil {
		t.Fatalf("SELECT (after) failed: %v", err)
	}
	if len(after.Rows) != len(before.Rows) {
		t.Fatalf("row count after rollback = %d, want %d", len(after.Rows), len(before.Rows))
	}
	for i := range before.Rows {
		if before.Rows[i][0].Int != after.Rows[i][0].Int || before.Rows[i][1].Str != after.Rows[i][1].Str {
			t.Fatalf("row %d after rollback = %v, want %v", i, after.Rows[i], before.Rows[i])
		}
	}
}

// Concurrent transactions at SERIALIZABLE conflict instead of
// blocking: a second session's write to a table the first already
// holds a lock on is rejected immediately with LockConflict.
func TestSerializableLockConflict(t *testing.T) {
	e := openTestEngine(t)
	a := e.NewSession()
	b := e.NewSession()

	if _, err := a.Exec("CREATE TABLE t(id INT PRIMARY KEY)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if _, err := a.Exec("BEGIN ISOLATION LEVEL SERIALIZABLE"); err != nil {
		t.Fatalf("BEGIN failed: %v", err)
	}
	if _, err := a.Exec("INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("INSERT (a) failed: %v", err)
	}

	if _, err := b.Exec("SET SESSION TRANSACTION ISOLATION LEVEL SERIALIZABLE"); err != nil {
		t.Fatalf("SET ISOLATION (b) failed: %v", err)
	}
	if _, err := b.Exec("BEGIN"); err != nil {
		t.Fatalf("BEGIN (b) failed: %v", err)
	}
	_, err := b.Exec("INSERT INTO t VALUES (2)")
	if err == nil {
		t.Fatalf("INSERT (b) under conflicting exclusive lock succeeded, want LockConflict")
	}
	if !dberrors.Is(err, dberrors.KindLockConflict) {
		t.Fatalf("err = %v, want KindLockConflict", err)
	}
}

// NOT NULL, CHECK, and FOREIGN KEY constraints are all enforced before
// any physical write, per the executor's constraint pipeline order.
func TestConstraintPipeline(t *testing.T) {
	e := openTestEngine(t)
	s := e.NewSession()

	if _, err := s.Exec("CREATE TABLE dept(id INT PRIMARY KEY, name VARCHAR(20) NOT NULL)"); err != nil {
		t.Fatalf("CREATE TABLE dept failed: %v", err)
	}
	if _, err := s.Exec("INSERT INTO dept VALUES (1, 'eng')"); err != nil {
		t.Fatalf("INSERT dept failed: %v", err)
	}
	if _, err := s.Exec("CREATE TABLE emp(id INT PRIMARY KEY, age INT, dept_id INT, CHECK (age >= 18), FOREIGN KEY (dept_id) REFERENCES dept(id))"); err != nil {
		t.Fatalf("CREATE TABLE emp failed: %v", err)
	}

	if _, err := s.Exec("INSERT INTO emp VALUES (1, 17, 1)"); err == nil {
		t.Fatalf("INSERT with age below CHECK succeeded, want CheckViolation")
	} else if !dberrors.Is(err, dberrors.KindCheckViolation) {
		t.Fatalf("err = %v, want KindCheckViolation", err)
	}

	if _, err := s.Exec("INSERT INTO emp VALUES (1, 30, 99)"); err == nil {
		t.Fatalf("INSERT with unknown dept_id succeeded, want ForeignKeyViolation")
	} else if !dberrors.Is(err, dberrors.KindForeignKeyViolation) {
		t.Fatalf("err = %v, want KindForeignKeyViolation", err)
	}

	if _, err := s.Exec("INSERT INTO emp VALUES (1, 30, 1)"); err != nil {
		t.Fatalf("valid INSERT failed: %v", err)
	}
}

// Views, users, triggers, and grants all round-trip through the
// catalog: create, see the effect (a fired trigger, a rejected
// duplicate), then drop/revoke.
func TestViewUserTriggerGrantLifecycle(t *testing.T) {
	e := openTestEngine(t)
	s := e.NewSession()

	if _, err := s.Exec("CREATE TABLE t(id INT PRIMARY KEY, val INT)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if _, err := s.Exec("CREATE TABLE log(id INT PRIMARY KEY, msg VARCHAR(20))"); err != nil {
		t.Fatalf("CREATE TABLE log failed: %v", err)
	}

	if _, err := s.Exec("CREATE VIEW v AS SELECT * FROM t"); err != nil {
		t.Fatalf("CREATE VIEW failed: %v", err)
	}
	if _, err := s.Exec("CREATE VIEW v AS SELECT * FROM t"); err == nil {
		t.Fatalf("duplicate CREATE VIEW succeeded, want error")
	}
	if _, err := s.Exec("DROP VIEW v"); err != nil {
		t.Fatalf("DROP VIEW failed: %v", err)
	}

	if _, err := s.Exec("CREATE USER alice IDENTIFIED BY 'secret'"); err != nil {
		t.Fatalf("CREATE USER failed: %v", err)
	}
	if _, err := s.Exec("CREATE USER alice IDENTIFIED BY 'secret'"); err == nil {
		t.Fatalf("duplicate CREATE USER succeeded, want error")
	}

	if _, err := s.Exec("GRANT SELECT ON t TO alice"); err != nil {
		t.Fatalf("GRANT failed: %v", err)
	}
	if _, err := s.Exec("REVOKE SELECT ON t FROM alice"); err != nil {
		t.Fatalf("REVOKE failed: %v", err)
	}
	if _, err := s.Exec("DROP USER alice"); err != nil {
		t.Fatalf("DROP USER failed: %v", err)
	}

	if _, err := s.Exec("CREATE TRIGGER log_insert AFTER INSERT ON t FOR EACH ROW INSERT INTO log VALUES (1, 'inserted')"); err != nil {
		t.Fatalf("CREATE TRIGGER failed: %v", err)
	}
	if _, err := s.Exec("INSERT INTO t VALUES (1, 100)"); err != nil {
		t.Fatalf("INSERT INTO t failed: %v", err)
	}
	res, err := s.Exec("SELECT * FROM log")
	if err != nil {
		t.Fatalf("SELECT * FROM log failed: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("AFTER INSERT trigger did not fire: got %d log rows, want 1", len(res.Rows))
	}

	if _, err := s.Exec("DROP TRIGGER log_insert"); err != nil {
		t.Fatalf("DROP TRIGGER failed: %v", err)
	}
}

// A NOT NULL violation is reported as KindNullInNotNull, not the
// generic KindTypeMismatch, and is caught before any BEFORE trigger on
// the table runs.
func TestNotNullViolationReportedBeforeTrigger(t *testing.T) {
	e := openTestEngine(t)
	s := e.NewSession()

	if _, err := s.Exec("CREATE TABLE audit(id INT PRIMARY KEY, note VARCHAR(20))"); err != nil {
		t.Fatalf("CREATE TABLE audit failed: %v", err)
	}
	if _, err := s.Exec("CREATE TABLE t(id INT PRIMARY KEY, name VARCHAR(20) NOT NULL)"); err != nil {
		t.Fatalf("CREATE TABLE t failed: %v", err)
	}
	if _, err := s.Exec("CREATE TRIGGER log_insert BEFORE INSERT ON t FOR EACH ROW INSERT INTO audit VALUES (1, 'fired')"); err != nil {
		t.Fatalf("CREATE TRIGGER failed: %v", err)
	}

	_, err := s.Exec("INSERT INTO t(id) VALUES (1)")
	if err == nil {
		t.Fatalf("INSERT missing NOT NULL column succeeded, want KindNullInNotNull")
	}
	if !dberrors.Is(err, dberrors.KindNullInNotNull) {
		t.Fatalf("err = %v, want KindNullInNotNull", err)
	}

	res, err := s.Exec("SELECT * FROM audit")
	if err != nil {
		t.Fatalf("SELECT * FROM audit failed: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Fatalf("BEFORE INSERT trigger fired despite NOT NULL failure: %d audit rows, want 0", len(res.Rows))
	}
}

// An UPDATE that leaves a unique column's value unchanged must not be
// rejected as colliding with its own prior entry.
func TestUpdateUniqueColumnUnchanged(t *testing.T) {
	e := openTestEngine(t)
	s := e.NewSession()

	if _, err := s.Exec("CREATE TABLE u(id INT PRIMARY KEY, email VARCHAR(50) UNIQUE)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if _, err := s.Exec("INSERT INTO u VALUES (1, 'a@x')"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}
	if _, err := s.Exec("UPDATE u SET email = 'a@x' WHERE id = 1"); err != nil {
		t.Fatalf("UPDATE leaving UNIQUE column unchanged failed: %v", err)
	}

	if _, err := s.Exec("INSERT INTO u VALUES (2, 'b@x')"); err != nil {
		t.Fatalf("second INSERT failed: %v", err)
	}
	_, err := s.Exec("UPDATE u SET email = 'a@x' WHERE id = 2")
	if err == nil {
		t.Fatalf("UPDATE colliding with another row's UNIQUE value succeeded, want UniqueViolation")
	}
	if !dberrors.Is(err, dberrors.KindUniqueViolation) {
		t.Fatalf("err = %v, want KindUniqueViolation", err)
	}
}

// A UNIQUE value released by an UPDATE is free for reuse: the old
// index entry still exists (the tree has no delete), but the live row
// no longer holds that key.
func TestUniqueValueReusableAfterUpdate(t *testing.T) {
	e := openTestEngine(t)
	s := e.NewSession()

	if _, err := s.Exec("CREATE TABLE u(id INT PRIMARY KEY, email VARCHAR(50) UNIQUE)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if _, err := s.Exec("INSERT INTO u VALUES (1, 'a@x')"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}
	if _, err := s.Exec("UPDATE u SET email = 'b@x' WHERE id = 1"); err != nil {
		t.Fatalf("UPDATE failed: %v", err)
	}
	if _, err := s.Exec("INSERT INTO u VALUES (2, 'a@x')"); err != nil {
		t.Fatalf("INSERT of the released email failed: %v", err)
	}

	// The moved-to value is still protected.
	_, err := s.Exec("INSERT INTO u VALUES (3, 'b@x')")
	if !dberrors.Is(err, dberrors.KindUniqueViolation) {
		t.Fatalf("INSERT of a taken email = %v, want KindUniqueViolation", err)
	}

	// Same for a changed primary key.
	if _, err := s.Exec("UPDATE u SET id = 10 WHERE id = 1"); err != nil {
		t.Fatalf("UPDATE of primary key failed: %v", err)
	}
	if _, err := s.Exec("INSERT INTO u VALUES (1, 'c@x')"); err != nil {
		t.Fatalf("INSERT of the released primary key failed: %v", err)
	}
}
