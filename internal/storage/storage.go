// Package storage provides the durable key-value slot the watchlist is
// persisted to. Every backend stores opaque byte values under string keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when nothing is stored under the key.
var ErrNotFound = errors.New("storage: not found")

// Storage describes a key-value slot.
//
//go:generate mockgen -package=watchlist_test -destination=../watchlist/mock_storage_test.go -source=storage.go Storage
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Driver    string
	Path      string
	RedisAddr string
}

// Open builds the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverFile:
		return NewFile(opts.Path)
	case DriverSQLite:
		return OpenSQLite(ctx, opts.Path)
	case DriverRedis:
		return NewRedis(ctx, opts.RedisAddr)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
