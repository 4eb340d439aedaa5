package cache

import (
	"sort"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

// partitionSeparator joins partition and key into one go-cache key.
// Neither partition names nor request keys contain a NUL byte.
const partitionSeparator = "\x00"

// MemStore is a process-local store. Entries never expire and there is no
// janitor goroutine; entries live until removed or the process exits.
type MemStore struct {
	c *gocache.Cache
}

func NewMemStore() MemStore {
	return MemStore{
		c: gocache.New(gocache.NoExpiration, 0),
	}
}

func (m MemStore) Get(partition, key string) ([]byte, bool, error) {
	value, ok := m.c.Get(partition + partitionSeparator + key)
	if !ok {
		return nil, false, nil
	}
	return value.([]byte), true, nil
}

func (m MemStore) Put(partition, key string, value []byte) error {
	if partition == "" {
		return ErrEmptyPartition
	}
	// copy so later changes by the caller do not leak into the store
	stored := make([]byte, len(value))
	copy(stored, value)
	m.c.Set(partition+partitionSeparator+key, stored, gocache.NoExpiration)
	return nil
}

func (m MemStore) Remove(partition, key string) error {
	m.c.Delete(partition + partitionSeparator + key)
	return nil
}

func (m MemStore) Keys(partition string) ([]string, error) {
	prefix := partition + partitionSeparator
	keys := make([]string, 0)
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m MemStore) Partitions() ([]string, error) {
	seen := make(map[string]struct{})
	for k := range m.c.Items() {
		partition, _, _ := strings.Cut(k, partitionSeparator)
		seen[partition] = struct{}{}
	}
	partitions := make([]string, 0, len(seen))
	for p := range seen {
		partitions = append(partitions, p)
	}
	sort.Strings(partitions)
	return partitions, nil
}

func (m MemStore) Delete(partition string) error {
	if partition == "" {
		return ErrEmptyPartition
	}
	prefix := partition + partitionSeparator
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			m.c.Delete(k)
		}
	}
	return nil
}
