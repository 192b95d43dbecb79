package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"bongobot/internal/birthday"
	logx "bongobot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite has a single writer and :memory: databases are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, tenantID string) (*birthday.Registry, error) {
	reg := &birthday.Registry{Entries: []birthday.Record{}}

	var channel, announced sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id, announced_on FROM tenants WHERE tenant_id = ?`, tenantID,
	).Scan(&channel, &announced)
	if errors.Is(err, sql.ErrNoRows) {
		return reg, nil
	}
	if err != nil {
		return nil, err
	}
	reg.ChannelID = channel.String
	reg.AnnouncedOn = announced.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, month, day, added_by, md FROM entries WHERE tenant_id = ? ORDER BY position`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r birthday.Record
		var addedBy sql.NullString
		if err := rows.Scan(&r.Name, &r.Month, &r.Day, &addedBy, &r.MD); err != nil {
			return nil, err
		}
		r.AddedBy = addedBy.String
		reg.Entries = append(reg.Entries, r)
	}
	return reg, rows.Err()
}

// Save replaces the tenant's row and entries in one transaction.
func (s *sqliteStore) Save(ctx context.Context, tenantID string, reg *birthday.Registry) error {
	if reg == nil {
		reg = &birthday.Registry{}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenants(tenant_id, channel_id, announced_on) VALUES(?,?,?)
		 ON CONFLICT(tenant_id) DO UPDATE SET channel_id = excluded.channel_id, announced_on = excluded.announced_on`,
		tenantID, nullStr(reg.ChannelID), nullStr(reg.AnnouncedOn),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE tenant_id = ?`, tenantID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries(tenant_id, position, name, month, day, added_by, md) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range reg.Entries {
		md := r.MD
		if md == "" {
			md = birthday.MonthDayKey(r.Month, r.Day)
		}
		if _, err := stmt.ExecContext(ctx, tenantID, i, r.Name, r.Month, r.Day, nullStr(r.AddedBy), md); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
