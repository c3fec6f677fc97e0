package cache

import "fmt"

// CacheCorruptError describes a blob that could not be used. The cache
// recovers from it by treating the read as a miss.
type CacheCorruptError struct {
	Path string
	Err  error
}

func (e *CacheCorruptError) Error() string {
	return fmt.Sprintf("cache blob %s is corrupt: %v", e.Path, e.Err)
}

func (e *CacheCorruptError) Unwrap() error {
	return e.Err
}
