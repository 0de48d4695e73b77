// Package cache is a content-addressed artifact store shared by
// concurrent workers, possibly in separate processes. A durable
// per-fingerprint lease file guarantees at-most-one producer per
// fingerprint; completed entries become visible atomically via
// rename and are integrity-checked on every read.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrCorrupted means a stored entry failed its integrity check. It
// is surfaced, never silently served.
var ErrCorrupted = errors.New("cache entry corrupted")

// fingerprintVersion is folded into every fingerprint so changing
// the treatment definition invalidates old artifacts.
const fingerprintVersion = "v1"

// Artifact is a set of files keyed by workspace-relative path. For a
// fixed fingerprint every consumer observes byte-identical content.
type Artifact struct {
	Files map[string][]byte
}

// BuildFunc computes an artifact. Invoked at most once per
// fingerprint across all concurrent callers.
type BuildFunc func(ctx context.Context) (*Artifact, error)

// Fingerprint derives the deterministic cache key for a treatment
// artifact from everything that affects its content.
func Fingerprint(condition, repoURL, revision string) string {
	h := sha256.New()
	for _, part := range []string{fingerprintVersion, condition, repoURL, revision} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type entryMeta struct {
	Fingerprint string     `json:"fingerprint"`
	CreatedAt   time.Time  `json:"created_at"`
	ProducerID  string     `json:"producer_id"`
	Files       []fileMeta `json:"files"`
}

type fileMeta struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

type leaseRecord struct {
	ProducerID string    `json:"producer_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Cache is a durable artifact cache rooted at a directory.
type Cache struct {
	dir        string
	leaseTTL   time.Duration
	poll       time.Duration
	producerID string
	log        *slog.Logger
}

// Option tunes a Cache.
type Option func(*Cache)

// WithLeaseTTL bounds how long a crashed producer can block other
// callers before its lease is reclaimed.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.leaseTTL = ttl }
}

// WithPollInterval sets how often waiting callers re-check.
func WithPollInterval(d time.Duration) Option {
	return func(c *Cache) { c.poll = d }
}

// New opens (creating if needed) a cache directory.
func New(dir string, log *slog.Logger, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	c := &Cache{
		dir:        dir,
		leaseTTL:   20 * time.Minute,
		poll:       250 * time.Millisecond,
		producerID: uuid.NewString(),
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetOrBuild returns the artifact for fingerprint, computing it with
// build if absent. Exactly one caller executes build; concurrent
// callers for the same fingerprint wait for its result. The second
// return value reports a cache hit. A failed build persists nothing
// and releases the lease so a later caller may retry.
func (c *Cache) GetOrBuild(ctx context.Context, fingerprint string, build BuildFunc) (*Artifact, bool, error) {
	for {
		art, err := c.load(fingerprint)
		if err == nil {
			return art, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, err
		}

		acquired, holder, err := c.acquireLease(fingerprint)
		if err != nil {
			return nil, false, err
		}

		if acquired {
			art, loaded, err := c.produce(ctx, fingerprint, build)
			if err != nil {
				return nil, false, err
			}
			return art, loaded, nil
		}

		// Another producer holds the lease; reclaim if expired,
		// otherwise wait and re-check.
		if time.Now().After(holder.ExpiresAt) {
			if c.reclaimLease(fingerprint, holder) {
				c.log.Warn("reclaimed expired cache lease",
					"fingerprint", shortFP(fingerprint), "holder", holder.ProducerID)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(c.poll):
		}
	}
}

// produce runs build while holding the lease and commits the result
// atomically. The lease is released on every path. The second return
// reports whether the artifact came from an entry committed by
// another producer instead of running build, so callers can tell a
// hit from a build they performed themselves.
func (c *Cache) produce(ctx context.Context, fingerprint string, build BuildFunc) (*Artifact, bool, error) {
	defer os.Remove(c.leasePath(fingerprint))

	// The entry may have been completed between our existence check
	// and winning the lease (by a producer whose lease we reclaimed
	// just before it finished renaming).
	if art, err := c.load(fingerprint); err == nil {
		return art, true, nil
	}

	art, err := build(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("building artifact %s: %w", shortFP(fingerprint), err)
	}
	if art == nil || len(art.Files) == 0 {
		return nil, false, fmt.Errorf("building artifact %s: build produced no files", shortFP(fingerprint))
	}

	if err := c.commit(fingerprint, art); err != nil {
		// A concurrent producer may have committed the entry first;
		// serve its bytes so every consumer of the fingerprint
		// observes identical content.
		if existing, lerr := c.load(fingerprint); lerr == nil {
			return existing, true, nil
		}
		return nil, false, err
	}
	return art, false, nil
}

// reclaimLease removes the lease only while it still carries the
// record observed to have expired. A fresh lease written by a faster
// reclaimer must not be deleted out from under its holder.
func (c *Cache) reclaimLease(fingerprint string, stale leaseRecord) bool {
	data, err := os.ReadFile(c.leasePath(fingerprint))
	if err != nil {
		return false
	}
	var cur leaseRecord
	if err := json.Unmarshal(data, &cur); err == nil {
		if cur.ProducerID != stale.ProducerID || !cur.ExpiresAt.Equal(stale.ExpiresAt) {
			return false
		}
	}
	return os.Remove(c.leasePath(fingerprint)) == nil
}

// commit writes the artifact into a staging directory and renames it
// into place, so an entry is never observable half-written.
func (c *Cache) commit(fingerprint string, art *Artifact) error {
	staging := filepath.Join(c.dir, fingerprint+".tmp-"+c.producerID)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	meta := entryMeta{
		Fingerprint: fingerprint,
		CreatedAt:   time.Now().UTC(),
		ProducerID:  c.producerID,
	}

	paths := make([]string, 0, len(art.Files))
	for path := range art.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := checkRelPath(path); err != nil {
			return err
		}
		content := art.Files[path]
		dst := filepath.Join(staging, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("creating artifact subdir: %w", err)
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return fmt.Errorf("writing artifact file: %w", err)
		}
		sum := sha256.Sum256(content)
		meta.Files = append(meta.Files, fileMeta{Path: path, SHA256: hex.EncodeToString(sum[:])})
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "meta.json"), metaBytes, 0o644); err != nil {
		return fmt.Errorf("writing cache meta: %w", err)
	}

	if err := os.Rename(staging, c.entryPath(fingerprint)); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	return nil
}

// load reads a completed entry, verifying every file against its
// recorded checksum. Returns os.ErrNotExist when absent and
// ErrCorrupted when the entry fails verification.
func (c *Cache) load(fingerprint string) (*Artifact, error) {
	metaBytes, err := os.ReadFile(filepath.Join(c.entryPath(fingerprint), "meta.json"))
	if errors.Is(err, os.ErrNotExist) {
		// An entry dir without meta.json is a torn write from a
		// pre-rename crash of an old layout; treat as corrupt.
		if _, statErr := os.Stat(c.entryPath(fingerprint)); statErr == nil {
			return nil, fmt.Errorf("%w: %s missing meta.json", ErrCorrupted, shortFP(fingerprint))
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache meta: %w", err)
	}

	var meta entryMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s meta unreadable: %v", ErrCorrupted, shortFP(fingerprint), err)
	}

	art := &Artifact{Files: make(map[string][]byte, len(meta.Files))}
	for _, fm := range meta.Files {
		content, err := os.ReadFile(filepath.Join(c.entryPath(fingerprint), filepath.FromSlash(fm.Path)))
		if err != nil {
			return nil, fmt.Errorf("%w: %s missing %s", ErrCorrupted, shortFP(fingerprint), fm.Path)
		}
		sum := sha256.Sum256(content)
		if hex.EncodeToString(sum[:]) != fm.SHA256 {
			return nil, fmt.Errorf("%w: %s checksum mismatch for %s", ErrCorrupted, shortFP(fingerprint), fm.Path)
		}
		art.Files[fm.Path] = content
	}
	return art, nil
}

// acquireLease attempts to claim the build lease. Returns the
// current holder when someone else has it.
func (c *Cache) acquireLease(fingerprint string) (bool, leaseRecord, error) {
	rec := leaseRecord{
		ProducerID: c.producerID,
		ExpiresAt:  time.Now().Add(c.leaseTTL),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, leaseRecord{}, fmt.Errorf("encoding lease: %w", err)
	}

	f, err := os.OpenFile(c.leasePath(fingerprint), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			os.Remove(c.leasePath(fingerprint))
			return false, leaseRecord{}, fmt.Errorf("writing lease: %w", errors.Join(werr, cerr))
		}
		return true, rec, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return false, leaseRecord{}, fmt.Errorf("acquiring lease: %w", err)
	}

	holderBytes, err := os.ReadFile(c.leasePath(fingerprint))
	if errors.Is(err, os.ErrNotExist) {
		// Holder released between our create attempt and read.
		return false, leaseRecord{ExpiresAt: time.Now()}, nil
	}
	if err != nil {
		return false, leaseRecord{}, fmt.Errorf("reading lease: %w", err)
	}

	var holder leaseRecord
	if err := json.Unmarshal(holderBytes, &holder); err != nil {
		// Torn lease write from a crashed producer; reclaimable.
		return false, leaseRecord{ExpiresAt: time.Now().Add(-time.Second)}, nil
	}
	return false, holder, nil
}

// Clear removes all entries, staging directories and leases.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading cache dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, entry.Name())); err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
	}
	return nil
}

func (c *Cache) entryPath(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint)
}

func (c *Cache) leasePath(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint+".lease")
}

func checkRelPath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return fmt.Errorf("invalid artifact path %q", path)
	}
	return nil
}

func shortFP(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
