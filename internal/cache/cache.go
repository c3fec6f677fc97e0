package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/vmihailenco/msgpack/v5"
)

// formatVersion is bumped whenever the envelope layout changes.
const formatVersion = 1

// ErrNotFound is returned by a BlobStore that has no object for a name.
var ErrNotFound = errors.New("cache: blob not found")

// BlobStore is a secondary place blobs are mirrored to, such as an object
// store shared between cluster jobs.
type BlobStore interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
}

type envelope struct {
	Version  int                `msgpack:"v"`
	Kind     string             `msgpack:"kind"`
	Identity string             `msgpack:"identity"`
	Payload  msgpack.RawMessage `msgpack:"payload"`
}

// Options configure a Cache.
type Options struct {
	// Entries is the size of the in-memory front. Zero disables it.
	Entries int
	// Remote, if set, mirrors every stored blob.
	Remote BlobStore
}

// Cache loads and stores artifacts.
type Cache struct {
	front  *lru.Cache[string, []byte]
	remote BlobStore
}

// New creates a cache.
func New(opts Options) (*Cache, error) {
	c := &Cache{remote: opts.Remote}
	if opts.Entries > 0 {
		front, err := lru.New[string, []byte](opts.Entries)
		if err != nil {
			return nil, err
		}
		c.front = front
	}
	return c, nil
}

// FileName returns the blob file name for kind and identity.
func FileName(kind, identity string) string {
	return fmt.Sprintf("%s.%s.bin", kind, identity)
}

// Path returns where the blob for kind and identity lives under workdir.
func Path(workdir, kind, identity string) string {
	return filepath.Join(workdir, FileName(kind, identity))
}

// Load decodes the artifact into out. It reports false on a miss, including
// when the stored blob turned out to be unusable.
func (c *Cache) Load(ctx context.Context, workdir, kind, identity string, out any) (bool, error) {
	logger := ctxlog.FromContext(ctx).With("kind", kind, "identity", identity)
	path := Path(workdir, kind, identity)

	raw, err := c.read(ctx, path, FileName(kind, identity))
	if err != nil {
		return false, err
	}
	if raw == nil {
		logger.Debug("Cache miss.", "path", path)
		return false, nil
	}

	if err := decode(raw, kind, identity, out); err != nil {
		corrupt := &CacheCorruptError{Path: path, Err: err}
		logger.Warn("Discarding unusable cache blob.", "error", corrupt)
		c.discard(ctx, path, FileName(kind, identity))
		return false, nil
	}
	logger.Debug("Cache hit.", "path", path)
	return true, nil
}

// Store encodes obj and writes it under workdir. A remote mirror failure is
// logged and does not fail the call.
func (c *Cache) Store(ctx context.Context, workdir, kind string, obj any, identity string) error {
	logger := ctxlog.FromContext(ctx).With("kind", kind, "identity", identity)

	payload, err := msgpack.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encoding %s artifact: %w", kind, err)
	}
	raw, err := msgpack.Marshal(&envelope{Version: formatVersion, Kind: kind, Identity: identity, Payload: payload})
	if err != nil {
		return fmt.Errorf("encoding %s envelope: %w", kind, err)
	}

	path := Path(workdir, kind, identity)
	if err := writeFile(path, raw); err != nil {
		return fmt.Errorf("writing cache blob %s: %w", path, err)
	}
	if c.front != nil {
		c.front.Add(path, raw)
	}
	if c.remote != nil {
		if err := c.remote.Put(ctx, FileName(kind, identity), raw); err != nil {
			logger.Warn("Failed to mirror cache blob.", "error", err)
		}
	}
	logger.Debug("Stored cache blob.", "path", path, "bytes", len(raw))
	return nil
}

func (c *Cache) read(ctx context.Context, path, name string) ([]byte, error) {
	if c.front != nil {
		if raw, ok := c.front.Get(path); ok {
			return raw, nil
		}
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		if c.remote == nil {
			return nil, nil
		}
		raw, err = c.remote.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Remote cache unavailable.", "name", name, "error", err)
			return nil, nil
		}
		if err := writeFile(path, raw); err != nil {
			return nil, fmt.Errorf("writing cache blob %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("reading cache blob %s: %w", path, err)
	}

	if c.front != nil {
		c.front.Add(path, raw)
	}
	return raw, nil
}

func (c *Cache) discard(ctx context.Context, path, name string) {
	logger := ctxlog.FromContext(ctx)
	if c.front != nil {
		c.front.Remove(path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove corrupt cache blob.", "path", path, "error", err)
	}
	if c.remote != nil {
		if err := c.remote.Delete(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
			logger.Warn("Failed to remove corrupt remote cache blob.", "name", name, "error", err)
		}
	}
}

func decode(raw []byte, kind, identity string, out any) error {
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return err
	}
	if env.Version != formatVersion {
		return fmt.Errorf("format version %d, want %d", env.Version, formatVersion)
	}
	if env.Kind != kind || env.Identity != identity {
		return fmt.Errorf("header names %s/%s", env.Kind, env.Identity)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(env.Payload))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(out)
}

func writeFile(path string, raw []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
