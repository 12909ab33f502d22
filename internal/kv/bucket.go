// Package kv provides small JSON key-value buckets with SQLite persistence
// and an in-memory variant.
package kv

import "time"

// StoreOptions contains optional parameters for Put operations.
type StoreOptions struct {
	TTL time.Duration // Time-to-live; zero means no expiry
}

// Bucket is the interface for key-value storage operations.
// Values are JSON encoded; Get decodes into dst.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// Put saves a value with the given key.
	Put(key string, value any, opts *StoreOptions) error

	// Get decodes the value stored under key into dst.
	// Returns false if the key doesn't exist or has expired.
	Get(key string, dst any) (bool, error)

	// Delete removes a key from the bucket.
	// Returns true if the key existed.
	Delete(key string) (bool, error)

	// Keys returns all non-expired keys in the bucket.
	Keys() ([]string, error)
}
