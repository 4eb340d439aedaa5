package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore keeps all partitions in a single SQLite table.
// It is the default store, since it survives restarts the way a browser's
// cache storage does.
type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore opens (or creates) the store in the given file.
// If the file name is empty, a new in-memory db is opened.
func NewSQLiteStore(filename string) (SQLiteStore, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStore{}, fmt.Errorf("open cache db: %w", err)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			partition TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER NOT NULL,
			bytes BLOB,
			PRIMARY KEY (partition, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteStore{}, fmt.Errorf("prepare cache db: %w", err)
		}
	}
	return SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteStore) Get(partition, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow(
		"SELECT bytes FROM entries WHERE partition = ? AND key = ?",
		partition, key,
	).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteStore) Put(partition, key string, value []byte) error {
	if partition == "" {
		return ErrEmptyPartition
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO entries (partition, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		partition, key, time.Now().Unix(), value,
	)
	return err
}

func (s SQLiteStore) Remove(partition, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM entries WHERE partition = ? AND key = ?", partition, key)
	return err
}

func (s SQLiteStore) Keys(partition string) ([]string, error) {
	return s.strings("SELECT key FROM entries WHERE partition = ? ORDER BY key", partition)
}

func (s SQLiteStore) Partitions() ([]string, error) {
	return s.strings("SELECT DISTINCT partition FROM entries ORDER BY partition")
}

func (s SQLiteStore) Delete(partition string) error {
	if partition == "" {
		return ErrEmptyPartition
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM entries WHERE partition = ?", partition)
	return err
}

// Close closes the underlying database.
func (s SQLiteStore) Close() error {
	return s.db.Close()
}

func (s SQLiteStore) strings(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return values, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}
