package migrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	chstore "launchpad-ledger/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database if needed and applies
// the embedded price-tick schema. The statements are idempotent, so every
// file runs on every call. It returns a connection to the target database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	files, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	createErr := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+dbName)
	if err := errors.Join(createErr, admin.Close()); err != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}

	for _, m := range files {
		start := time.Now()
		if err := applyClickhouse(ctx, conn, m); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		log.Ctx(ctx).Info().
			Str("component", "migrations").
			Str("database", "clickhouse").
			Str("version", m.Version).
			Dur("duration", time.Since(start)).
			Msg("migration applied")
	}
	return conn, nil
}

// applyClickhouse runs each statement of m separately; the driver rejects
// multi-statement Exec.
func applyClickhouse(ctx context.Context, conn *chstore.Conn, m migration) error {
	if err := validateNoSemicolonInStrings(m.SQL); err != nil {
		return err
	}
	for _, stmt := range splitStatements(m.SQL) {
		if err := conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements drops blank and -- comment lines and splits on ';'.
// Semicolons inside literals or block comments are not supported, which
// validateNoSemicolonInStrings enforces for literals.
func splitStatements(input string) []string {
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if inString && i+1 < len(sql) && sql[i+1] == '\'' {
				i++ // escaped quote
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	opts, err := chstore.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	db := opts.Auth.Database
	if db == "" {
		return "", errors.New("clickhouse dsn missing database")
	}
	return db, nil
}
