package cache

import (
	"io"
	"strings"
)

// Open returns the store named by location: "memory" for a process-local
// store, a redis:// or rediss:// URL for Redis, anything else is an SQLite
// file name. The closer releases the store's resources.
func Open(location string) (Store, io.Closer, error) {
	switch {
	case location == "memory":
		return NewMemStore(), nopCloser{}, nil
	case strings.HasPrefix(location, "redis://"), strings.HasPrefix(location, "rediss://"):
		s, err := NewRedisStore(location)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		s, err := NewSQLiteStore(location)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
