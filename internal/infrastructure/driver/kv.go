package driver

import (
	"errors"
	"time"
)

// ErrKeyNotFound returned by Get when the key is missing or expired
var ErrKeyNotFound = errors.New("key not found")

// KeyValueDB define a key-value storage interface, an expiration of 0 means the key never expires
type KeyValueDB interface {
	SetEX(key string, value string, expiration time.Duration) error
	Get(key string) (string, error)
	Exists(key string) (bool, error)
	Ping() error
}
