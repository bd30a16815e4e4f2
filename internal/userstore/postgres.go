package userstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/prilive-com/ezsticker/internal/resilience"
)

//go:embed migrations/*.sql
var migrations embed.FS

// swapped in tests
var gooseUpContext = goose.UpContext

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, "migrations")
}

// Connect opens dsn with the pgx driver, waits for the database to answer
// and applies the migrations.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 5
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("database not ready", "attempt", attempt, "error", err, "retry_in", wait)
	}
	if _, err := resilience.Retry(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return db, nil
}

// PostgresStore keeps records in Postgres. First contact relies on
// INSERT ... ON CONFLICT DO NOTHING, usage on an atomic UPDATE.
type PostgresStore struct {
	db       *sql.DB
	counters *PostgresCounters
	logger   *slog.Logger
}

// NewPostgresStore wraps an open database with the schema applied.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:       db,
		counters: &PostgresCounters{db: db},
		logger:   logger,
	}
}

func (s *PostgresStore) Counters() Counters { return s.counters }

// Close closes the database.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) GetOrCreate(ctx context.Context, userID string, hint LanguageHint) (Record, error) {
	lang := DefaultLang
	if hint != "" {
		lang = string(hint)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, lang, opt_in, uses, icon_warned, schema_version)
		 VALUES ($1, $2, TRUE, 0, FALSE, $3)
		 ON CONFLICT (id) DO NOTHING`,
		userID, lang, SchemaVersion)
	if err != nil {
		return Record{}, fmt.Errorf("ezsticker: create user: %w", err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return Record{}, err
	}
	if created == 1 {
		s.logger.Debug("user created", "user_id", userID, "lang", lang)
		if lang != DefaultLang {
			if err := s.counters.Increment(ctx, CounterLangsAutoSet); err != nil {
				return Record{}, err
			}
		}
	}

	rec, ok, err := s.Get(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

const selectUser = `SELECT lang, opt_in, uses, icon_warned, schema_version FROM users WHERE id = $1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	err := row.Scan(&r.Lang, &r.OptIn, &r.Uses, &r.IconWarned, &r.SchemaVersion)
	return FillDefaults(r), err
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Record, bool, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectUser, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("ezsticker: get user: %w", err)
	}
	if rec.Pack, err = s.loadPack(ctx, userID); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) loadPack(ctx context.Context, userID string) ([]PackSlot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_ref, use_count FROM user_pack WHERE user_id = $1 ORDER BY slot`, userID)
	if err != nil {
		return nil, fmt.Errorf("ezsticker: load pack: %w", err)
	}
	defer rows.Close()

	var pack []PackSlot
	for rows.Next() {
		var slot PackSlot
		if err := rows.Scan(&slot.AssetRef, &slot.UseCount); err != nil {
			return nil, err
		}
		pack = append(pack, slot)
	}
	return pack, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, userID string, fn func(*Record)) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, selectUser+` FOR UPDATE`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("ezsticker: lock user: %w", err)
	}

	applyPreferences(&rec, fn)
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET lang = $2, opt_in = $3, icon_warned = $4 WHERE id = $1`,
		userID, rec.Lang, rec.OptIn, rec.IconWarned); err != nil {
		return Record{}, fmt.Errorf("ezsticker: update user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, userID string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`UPDATE users SET uses = uses + 1 WHERE id = $1
		 RETURNING lang, opt_in, uses, icon_warned, schema_version`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("ezsticker: increment usage: %w", err)
	}
	if err := s.counters.Increment(ctx, CounterUses); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *PostgresStore) AddToPack(ctx context.Context, userID, assetRef string) (Record, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, false, err
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, selectUser+` FOR UPDATE`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, ErrNotFound
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("ezsticker: lock user: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE user_pack SET use_count = use_count + 1 WHERE user_id = $1 AND asset_ref = $2`,
		userID, assetRef)
	if err != nil {
		return Record{}, false, fmt.Errorf("ezsticker: bump pack slot: %w", err)
	}
	bumped, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, err
	}

	added := bumped == 0
	if added {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_pack (user_id, slot, asset_ref, use_count)
			 SELECT $1, COALESCE(MAX(slot) + 1, 0), $2, 1 FROM user_pack WHERE user_id = $1`,
			userID, assetRef); err != nil {
			return Record{}, false, fmt.Errorf("ezsticker: add pack slot: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Record{}, false, err
	}

	if added {
		if err := s.counters.Increment(ctx, CounterPersonalStickersAdded); err != nil {
			return Record{}, false, err
		}
	}
	if rec.Pack, err = s.loadPack(ctx, userID); err != nil {
		return Record{}, false, err
	}
	return rec, added, nil
}

// Users returns every record ordered by id. Packs are not loaded.
func (s *PostgresStore) Users(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lang, opt_in, uses, icon_warned, schema_version FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ezsticker: list users: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Record.Lang, &e.Record.OptIn, &e.Record.Uses,
			&e.Record.IconWarned, &e.Record.SchemaVersion); err != nil {
			return nil, err
		}
		e.Record = FillDefaults(e.Record)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PostgresCounters stores counters in the counters table.
type PostgresCounters struct {
	db *sql.DB
}

func (c *PostgresCounters) Increment(ctx context.Context, name string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO counters (name, value) VALUES ($1, 1)
		 ON CONFLICT (name) DO UPDATE SET value = counters.value + 1`, name)
	if err != nil {
		return fmt.Errorf("ezsticker: increment %s: %w", name, err)
	}
	return nil
}

func (c *PostgresCounters) Get(ctx context.Context, name string) (int64, error) {
	var v int64
	err := c.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = $1`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (c *PostgresCounters) All(ctx context.Context) (map[string]int64, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var v int64
		if err := rows.Scan(&name, &v); err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, rows.Err()
}
