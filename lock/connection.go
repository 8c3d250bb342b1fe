// Package lock provides the distributed mutual-exclusion primitive the TPL
// protocol's distributed mode (cc/tpl NewDistributed) uses to serialize
// Insert and Delete of AbKeys across processes, backed by Redis.
package lock

import (
	"crypto/tls"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Options holds configuration for connecting to a Redis server or cluster.
type Options struct {
	// Address is the host:port of the Redis server/cluster.
	Address string
	// Password is the password used to authenticate.
	Password string
	// DB is the database index to select.
	DB int
	// TLSConfig contains TLS configuration for secure connections.
	TLSConfig *tls.Config
}

// DefaultOptions returns an Options with localhost defaults (no password, DB 0).
func DefaultOptions() Options {
	return Options{
		Address: "localhost:6379",
		DB:      0,
	}
}

var (
	connection *redis.Client
	mux        sync.Mutex
)

// IsConnectionInstantiated reports whether the package-level singleton connection exists.
func IsConnectionInstantiated() bool {
	return connection != nil
}

// OpenConnection initializes and returns the package-level singleton connection.
// Subsequent calls return the same connection.
func OpenConnection(options Options) *redis.Client {
	if connection != nil {
		return connection
	}
	mux.Lock()
	defer mux.Unlock()

	if connection != nil {
		return connection
	}
	connection = redis.NewClient(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB,
	})
	return connection
}

// CloseConnection closes the package-level singleton connection, if present.
func CloseConnection() error {
	if connection == nil {
		return nil
	}
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return nil
	}
	err := connection.Close()
	connection = nil
	return err
}
