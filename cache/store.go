package cache

import "errors"

// Store is a partitioned store for serialized HTTP responses.
// Every partition is an independent key space, created implicitly by the
// first Put to it. Values are opaque bytes; the worker stores responses in
// their HTTP/1.1 wire format.
//
// Writes are full overwrites of a key, never merges, so concurrent writers
// of the same key cannot corrupt an entry: the last write wins.
//
// Implementations must be thread-safe!
type Store interface {
	// Get returns the stored value for key in partition.
	// The boolean reports whether the key was found.
	Get(partition, key string) ([]byte, bool, error)
	// Put stores value under key in partition, replacing any previous value.
	Put(partition, key string, value []byte) error
	// Remove deletes a single entry. Removing a missing key is not an error.
	Remove(partition, key string) error
	// Keys returns the keys stored in partition in ascending order.
	Keys(partition string) ([]string, error)
	// Partitions returns the names of all partitions holding at least one
	// entry, in ascending order.
	Partitions() ([]string, error)
	// Delete removes a partition and all of its entries.
	Delete(partition string) error
}

// ErrEmptyPartition is returned when an operation names no partition.
var ErrEmptyPartition = errors.New("partition name is empty")
