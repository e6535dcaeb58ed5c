package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"regexp"
	"strings"
	"time"

	chstore "model-token-engine/internal/storage/clickhouse"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// clickhouseExecer is the part of the driver the apply loop needs.
type clickhouseExecer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// RunClickhouseMigrations creates the DSN's database if needed and applies the
// embedded price history migrations not yet recorded in schema_migrations.
// Returns an open connection to that database and the newly applied files.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, []string, error) {
	db, err := clickhouseDatabase(dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := ensureClickhouseDatabase(ctx, dsn, db); err != nil {
		return nil, nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, nil, fmt.Errorf("connect clickhouse %s: %w", db, err)
	}

	applied, err := migrateClickhouse(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, applied, err
	}
	return conn, applied, nil
}

func ensureClickhouseDatabase(ctx context.Context, dsn, db string) error {
	server, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse server: %w", err)
	}
	defer server.Close()

	if err := server.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+db+"`"); err != nil {
		return fmt.Errorf("create database %s: %w", db, err)
	}
	return nil
}

func migrateClickhouse(ctx context.Context, conn *chstore.Conn) ([]string, error) {
	if err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   String,
			applied_at Int64
		) ENGINE = ReplacingMergeTree
		ORDER BY filename
	`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT DISTINCT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		done[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	return applyClickhouse(ctx, conn, ClickhouseFS, "clickhouse", done)
}

// applyClickhouse runs every pending file of dir one statement at a time
// (the native protocol rejects multi-statement queries) and records it.
// A file is recorded only after all of its statements succeeded.
func applyClickhouse(ctx context.Context, conn clickhouseExecer, fsys fs.FS, dir string, done map[string]bool) ([]string, error) {
	files, err := sqlFiles(fsys, dir)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		if done[file] {
			continue
		}
		data, err := fs.ReadFile(fsys, dir+"/"+file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		stmts, err := clickhouseStatements(string(data))
		if err != nil {
			return applied, fmt.Errorf("parse migration %s: %w", file, err)
		}
		for i, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				return applied, fmt.Errorf("apply migration %s statement %d: %w", file, i+1, err)
			}
		}
		if err := conn.Exec(ctx,
			`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`,
			file, time.Now().UnixMilli(),
		); err != nil {
			return applied, fmt.Errorf("record migration %s: %w", file, err)
		}
		applied = append(applied, file)
	}
	return applied, nil
}

// clickhouseStatements splits a script on semicolons that sit outside quoted
// literals, identifiers and comments. Comments are dropped.
func clickhouseStatements(sql string) ([]string, error) {
	var (
		stmts []string
		cur   strings.Builder
		quote byte
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		ch := sql[i]

		if quote != 0 {
			cur.WriteByte(ch)
			switch {
			case ch == '\\' && i+1 < len(sql):
				i++
				cur.WriteByte(sql[i])
			case ch == quote && i+1 < len(sql) && sql[i+1] == quote:
				i++
				cur.WriteByte(sql[i])
			case ch == quote:
				quote = 0
			}
			continue
		}

		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
			cur.WriteByte(ch)
		case ch == '-' && strings.HasPrefix(sql[i:], "--"):
			if nl := strings.IndexByte(sql[i:], '\n'); nl >= 0 {
				i += nl
				cur.WriteByte('\n')
			} else {
				i = len(sql)
			}
		case ch == '/' && strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment at offset %d", i)
			}
			i += end + 3
			cur.WriteByte(' ')
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	flush()
	return stmts, nil
}

// clickhouseDatabase extracts the database from a clickhouse:// DSN.
func clickhouseDatabase(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	switch {
	case db == "":
		return "", fmt.Errorf("clickhouse dsn names no database")
	case !identRe.MatchString(db):
		return "", fmt.Errorf("clickhouse database %q is not a plain identifier", db)
	}
	return db, nil
}
