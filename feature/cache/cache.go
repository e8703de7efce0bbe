package cache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/speechunit/feature"
	"github.com/hupe1980/speechunit/internal/blockcodec"
)

// Options configures a Cache.
type Options struct {
	// Entries is the LRU capacity in files.
	Entries int
	// Compression is applied to stored embeddings.
	Compression blockcodec.Type
	Logger      *slog.Logger
}

type entry struct {
	dim  int
	data []float32
}

// Stats counts lookups.
type Stats struct {
	MemoryHits int64
	DiskHits   int64
	Misses     int64
}

// Cache is a caching feature.Source. It is safe for concurrent use.
type Cache struct {
	src       feature.Source
	namespace string
	db        *sql.DB
	mem       *lru.Cache[string, entry]
	opts      Options

	memHits  atomic.Int64
	diskHits atomic.Int64
	misses   atomic.Int64
}

// Open opens (or creates) the SQLite cache at path in front of src.
// Use ":memory:" for a process-local cache.
func Open(path, namespace string, src feature.Source, optFns ...func(*Options)) (*Cache, error) {
	opts := Options{Entries: 1024, Compression: blockcodec.LZ4}
	for _, fn := range optFns {
		fn(&opts)
	}

	mem, err := lru.New[string, entry](max(opts.Entries, 1))
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	// One connection keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: enable WAL: %w", err)
	}
	const schema = `
	CREATE TABLE IF NOT EXISTS embeddings (
		key TEXT PRIMARY KEY,
		dim INTEGER NOT NULL,
		compression INTEGER NOT NULL,
		data BLOB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}

	return &Cache{
		src:       src,
		namespace: namespace,
		db:        db,
		mem:       mem,
		opts:      opts,
	}, nil
}

// Close closes the database.
func (c *Cache) Close() error { return c.db.Close() }

// Stats returns lookup counters.
func (c *Cache) Stats() Stats {
	return Stats{
		MemoryHits: c.memHits.Load(),
		DiskHits:   c.diskHits.Load(),
		Misses:     c.misses.Load(),
	}
}

func (c *Cache) key(path string) string { return c.namespace + "\x00" + path }

// Embed serves cached items and forwards the rest to the wrapped source in
// one batch.
func (c *Cache) Embed(ctx context.Context, b feature.Batch) (*feature.Tensor, error) {
	items := make([]entry, b.Len())
	var missing []int

	for i, p := range b.Paths {
		k := c.key(p)
		if e, ok := c.mem.Get(k); ok {
			c.memHits.Add(1)
			items[i] = e
			continue
		}
		e, ok, err := c.load(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			c.diskHits.Add(1)
			c.mem.Add(k, e)
			items[i] = e
			continue
		}
		c.misses.Add(1)
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		sub := feature.Batch{
			IDs:   make([]string, len(missing)),
			Paths: make([]string, len(missing)),
		}
		for j, i := range missing {
			sub.IDs[j] = b.IDs[i]
			sub.Paths[j] = b.Paths[i]
		}
		t, err := c.src.Embed(ctx, sub)
		if err != nil {
			return nil, err
		}
		if err := t.Validate(); err != nil {
			return nil, feature.BatchError(sub, err)
		}
		if t.Items() != len(missing) {
			return nil, feature.BatchError(sub, fmt.Errorf("cache: source returned %d items for %d files", t.Items(), len(missing)))
		}
		for j, i := range missing {
			e := entry{dim: t.Dim, data: t.Item(j)}
			k := c.key(b.Paths[i])
			if err := c.store(ctx, k, e); err != nil {
				if c.opts.Logger != nil {
					c.opts.Logger.Warn("feature cache write failed", "path", b.Paths[i], "error", err)
				}
			}
			c.mem.Add(k, e)
			items[i] = e
		}
	}

	if len(items) == 0 {
		return feature.NewTensor(1), nil
	}
	t := feature.NewTensor(items[0].dim)
	for i, e := range items {
		if e.dim != t.Dim {
			return nil, fmt.Errorf("cache: %s has dimension %d, batch has %d", b.Paths[i], e.dim, t.Dim)
		}
		if err := t.Append(e.data); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (c *Cache) load(ctx context.Context, key string) (entry, bool, error) {
	var (
		dim         int
		compression int
		blob        []byte
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT dim, compression, data FROM embeddings WHERE key = ?", key,
	).Scan(&dim, &compression, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, fmt.Errorf("cache: query: %w", err)
	}

	raw, err := blockcodec.Decode(blob, blockcodec.Type(compression))
	if err != nil || len(raw)%4 != 0 {
		// Treat undecodable rows as misses; they are overwritten on store.
		return entry{}, false, nil
	}
	data := make([]float32, len(raw)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return entry{dim: dim, data: data}, true, nil
}

func (c *Cache) store(ctx context.Context, key string, e entry) error {
	raw := make([]byte, 4*len(e.data))
	for i, v := range e.data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	blob, err := blockcodec.Encode(raw, c.opts.Compression)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO embeddings (key, dim, compression, data) VALUES (?, ?, ?, ?)",
		key, e.dim, int(c.opts.Compression), blob,
	)
	return err
}
