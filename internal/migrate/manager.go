package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	migrationsDir = "sql/migrations"
	seedsDir      = "sql/seeds"

	// Session advisory lock held for a whole run; API replicas starting with
	// DB_AUTO_MIGRATE queue behind each other instead of racing.
	lockKey int64 = 0x6164_6f70_73 // "adops"
)

//go:embed sql
var embedded embed.FS

// Files returns the SQL shipped with the binary.
func Files() fs.FS { return embedded }

// Manager applies the schema migrations and permission catalog seeds. Each file
// runs in its own transaction together with its bookkeeping row.
type Manager struct {
	db              *sql.DB
	files           fs.FS
	migrationsTable string
	seedsTable      string
}

type Option func(*Manager)

func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithFiles replaces the embedded SQL. The FS must contain sql/migrations and sql/seeds.
func WithFiles(files fs.FS) Option {
	return func(m *Manager) {
		if files != nil {
			m.files = files
		}
	}
}

func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		files:           embedded,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in name order and returns the ones it ran.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.applyPending(ctx, m.migrationsTable, migrationsDir, ".up.sql")
}

// Seed applies seed files that have not run yet and returns the ones it ran.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	return m.applyPending(ctx, m.seedsTable, seedsDir, ".sql")
}

func (m *Manager) applyPending(ctx context.Context, table, dir, suffix string) ([]string, error) {
	files, err := collectSQL(m.files, dir, suffix)
	if err != nil {
		return nil, err
	}
	var applied []string
	err = m.locked(ctx, func(conn *sql.Conn) error {
		done, err := executed(ctx, conn, table)
		if err != nil {
			return err
		}
		for _, f := range files {
			if done[f.Base] {
				continue
			}
			err := m.inTx(ctx, conn, f.Path, fmt.Sprintf(`insert into %s (name) values ($1)`, table), f.Base)
			if err != nil {
				return fmt.Errorf("apply %s: %w", f.Base, err)
			}
			applied = append(applied, f.Base)
		}
		return nil
	})
	return applied, err
}

// Down reverts the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	var last string
	err := m.locked(ctx, func(conn *sql.Conn) error {
		hist, err := history(ctx, conn, m.migrationsTable)
		if err != nil {
			return err
		}
		if len(hist) == 0 {
			return errors.New("no migrations applied")
		}
		last = hist[len(hist)-1]
		down := path.Join(migrationsDir, strings.TrimSuffix(last, ".up.sql")+".down.sql")
		if _, err := fs.Stat(m.files, down); err != nil {
			return fmt.Errorf("missing down migration for %s", last)
		}
		if err := m.inTx(ctx, conn, down, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
			return fmt.Errorf("revert %s: %w", last, err)
		}
		return nil
	})
	return last, err
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	var hist []string
	err := m.locked(ctx, func(conn *sql.Conn) (err error) {
		hist, err = history(ctx, conn, m.migrationsTable)
		return err
	})
	return hist, err
}

// locked runs fn on one connection holding the migration lock, with the
// bookkeeping tables in place.
func (m *Manager) locked(ctx context.Context, fn func(*sql.Conn) error) (err error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		// Unlock even when ctx is already done; the session would keep the lock otherwise.
		if _, uerr := conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, lockKey); uerr != nil && err == nil {
			err = fmt.Errorf("release migration lock: %w", uerr)
		}
	}()
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			)`, table)); err != nil {
			return err
		}
	}
	return fn(conn)
}

// inTx executes the statements of file and the bookkeeping statement atomically.
func (m *Manager) inTx(ctx context.Context, conn *sql.Conn, file, record, name string) error {
	raw, err := fs.ReadFile(m.files, file)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, name); err != nil {
		return err
	}
	return tx.Commit()
}

func executed(ctx context.Context, conn *sql.Conn, table string) (map[string]bool, error) {
	names, err := history(ctx, conn, table)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(names))
	for _, n := range names {
		done[n] = true
	}
	return done, nil
}

func history(ctx context.Context, conn *sql.Conn, table string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

type sqlFile struct {
	Base string
	Path string
}

func collectSQL(files fs.FS, dir, suffix string) ([]sqlFile, error) {
	entries, err := fs.ReadDir(files, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []sqlFile
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			out = append(out, sqlFile{Base: e.Name(), Path: path.Join(dir, e.Name())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out, nil
}

// splitStatements splits on semicolons outside quoted strings, dollar-quoted
// bodies and line comments. Statements that are only comments or whitespace
// are dropped.
func splitStatements(src string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quote   bool
		dollar  string
		comment bool
		code    bool
	)
	flush := func() {
		if code {
			stmts = append(stmts, strings.TrimSpace(cur.String()))
		}
		cur.Reset()
		code = false
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
			}
		case dollar != "":
			if strings.HasPrefix(src[i:], dollar) {
				cur.WriteString(dollar)
				i += len(dollar) - 1
				dollar = ""
				continue
			}
		case quote:
			if c == '\'' {
				quote = false
			}
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			comment = true
			continue
		case c == '\'':
			quote, code = true, true
		case c == '$':
			if tag, ok := dollarTag(src[i:]); ok {
				cur.WriteString(tag)
				i += len(tag) - 1
				dollar, code = tag, true
				continue
			}
		case c == ';':
			cur.WriteByte(c)
			flush()
			continue
		case c > ' ':
			code = true
		}
		if !comment {
			cur.WriteByte(c)
		}
	}
	flush()
	return stmts
}

// dollarTag matches $$ or $tag$ at the start of s.
func dollarTag(s string) (string, bool) {
	for i := 1; i < len(s); i++ {
		switch c := s[i]; {
		case c == '$':
			return s[:i+1], true
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 1 && c >= '0' && c <= '9':
		default:
			return "", false
		}
	}
	return "", false
}
