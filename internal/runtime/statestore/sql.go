// Package statestore provides the SQL state backend of the broker sidecar.
// A single table holds the key/value pairs of every declared store.
package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/ids"
	"github.com/drblury/funcflow/internal/runtime/jsoncodec"
	"github.com/drblury/funcflow/internal/runtime/sidecar"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS funcflow_state (
	store TEXT NOT NULL,
	state_key TEXT NOT NULL,
	value TEXT NOT NULL,
	etag TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (store, state_key)
)`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore keeps state in sqlite or postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and prepares the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("statestore: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("statestore: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	store, err := New(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open database handle and prepares the schema.
func New(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db, driver: driver}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("statestore: initialise schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Save writes items in one transaction.
func (s *SQLStore) Save(ctx context.Context, store string, items []sidecar.StateItem) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			if err := s.save(ctx, tx, store, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) Get(ctx context.Context, store, key string) (sidecar.Item, error) {
	item := sidecar.Item{Key: key}
	var value string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT value, etag FROM funcflow_state WHERE store = ? AND state_key = ?`),
		store, key,
	).Scan(&value, &item.Etag)
	if errors.Is(err, sql.ErrNoRows) {
		return item, nil
	}
	if err != nil {
		return sidecar.Item{}, fmt.Errorf("statestore: get %s/%s: %w", store, key, err)
	}
	item.Data = []byte(value)
	return item, nil
}

// GetBulk reads keys one after another; per-key failures are reported on the item.
func (s *SQLStore) GetBulk(ctx context.Context, store string, keys []string) ([]sidecar.Item, error) {
	items := make([]sidecar.Item, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := s.Get(ctx, store, key)
		if err != nil {
			item = sidecar.Item{Key: key, Error: err.Error()}
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *SQLStore) Delete(ctx context.Context, store, key string) error {
	return s.delete(ctx, s.db, store, key)
}

// Transact applies upserts and deletes atomically.
func (s *SQLStore) Transact(ctx context.Context, store string, ops []sidecar.TransactionOperation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i, op := range ops {
			var err error
			switch strings.ToLower(op.Operation) {
			case sidecar.OperationUpsert:
				err = s.save(ctx, tx, store, op.Request)
			case sidecar.OperationDelete:
				err = s.delete(ctx, tx, store, op.Request.Key)
			default:
				err = fmt.Errorf("statestore: unknown operation %q", op.Operation)
			}
			if err != nil {
				return fmt.Errorf("statestore: operation %d: %w", i, err)
			}
		}
		return nil
	})
}

// Query evaluates the query against every value of the store. The page
// token is the offset of the next page.
func (s *SQLStore) Query(ctx context.Context, store string, q sidecar.Query) (sidecar.QueryResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT state_key, value, etag FROM funcflow_state WHERE store = ? ORDER BY state_key`),
		store,
	)
	if err != nil {
		return sidecar.QueryResponse{}, fmt.Errorf("statestore: query %s: %w", store, err)
	}
	defer rows.Close()

	var docs []document
	for rows.Next() {
		var d document
		var value string
		if err := rows.Scan(&d.item.Key, &value, &d.item.Etag); err != nil {
			return sidecar.QueryResponse{}, fmt.Errorf("statestore: scan %s: %w", store, err)
		}
		d.item.Data = []byte(value)
		if err := jsoncodec.Unmarshal(d.item.Data, &d.value); err != nil {
			return sidecar.QueryResponse{}, fmt.Errorf("statestore: decode %s/%s: %w", store, d.item.Key, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return sidecar.QueryResponse{}, err
	}

	return evaluate(docs, q)
}

func (s *SQLStore) save(ctx context.Context, q querier, store string, item sidecar.StateItem) error {
	if item.Key == "" {
		return errors.New("statestore: key is required")
	}
	value, err := jsoncodec.Marshal(item.Value)
	if err != nil {
		return fmt.Errorf("statestore: encode %s/%s: %w", store, item.Key, err)
	}
	now := time.Now().UTC()
	etag := ids.NewAt(now).String()

	if item.Etag != "" {
		res, err := q.ExecContext(ctx,
			s.rebind(`UPDATE funcflow_state SET value = ?, etag = ?, updated_at = ? WHERE store = ? AND state_key = ? AND etag = ?`),
			string(value), etag, now, store, item.Key, item.Etag,
		)
		if err != nil {
			return fmt.Errorf("statestore: save %s/%s: %w", store, item.Key, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		var existing string
		err = q.QueryRowContext(ctx,
			s.rebind(`SELECT etag FROM funcflow_state WHERE store = ? AND state_key = ?`),
			store, item.Key,
		).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%w: %s/%s", errspkg.ErrEtagMismatch, store, item.Key)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("statestore: save %s/%s: %w", store, item.Key, err)
		}
	}

	_, err = q.ExecContext(ctx,
		s.rebind(`INSERT INTO funcflow_state (store, state_key, value, etag, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (store, state_key) DO UPDATE SET value = excluded.value, etag = excluded.etag, updated_at = excluded.updated_at`),
		store, item.Key, string(value), etag, now,
	)
	if err != nil {
		return fmt.Errorf("statestore: save %s/%s: %w", store, item.Key, err)
	}
	return nil
}

func (s *SQLStore) delete(ctx context.Context, q querier, store, key string) error {
	_, err := q.ExecContext(ctx,
		s.rebind(`DELETE FROM funcflow_state WHERE store = ? AND state_key = ?`),
		store, key,
	)
	if err != nil {
		return fmt.Errorf("statestore: delete %s/%s: %w", store, key, err)
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statestore: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
