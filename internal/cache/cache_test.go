package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), testLogger(), opts...)
	require.NoError(t, err)
	return c
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("flat_context", "https://example.com/repo.git", "abc123")
	b := Fingerprint("flat_context", "https://example.com/repo.git", "abc123")
	require.Equal(t, a, b)
	require.Len(t, a, 64)

	require.NotEqual(t, a, Fingerprint("structured_layer", "https://example.com/repo.git", "abc123"))
	require.NotEqual(t, a, Fingerprint("flat_context", "https://example.com/repo.git", "def456"))

	// The separator must prevent ambiguous concatenation.
	require.NotEqual(t,
		Fingerprint("a", "bc", "d"),
		Fingerprint("ab", "c", "d"))
}

func TestGetOrBuildAtMostOnce(t *testing.T) {
	c := testCache(t, WithPollInterval(5*time.Millisecond))
	fp := Fingerprint("flat_context", "url", "rev")

	var builds atomic.Int32
	build := func(ctx context.Context) (*Artifact, error) {
		builds.Add(1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return &Artifact{Files: map[string][]byte{
			"CLAUDE.md":     []byte("# overview\n"),
			"pkg/AGENTS.md": []byte("# pkg\n"),
		}}, nil
	}

	const callers = 8
	results := make([]*Artifact, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrBuild(context.Background(), fp, build)
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), builds.Load(), "exactly one caller must build")
	for i, art := range results {
		require.NoError(t, errs[i])
		require.Equal(t, []byte("# overview\n"), art.Files["CLAUDE.md"])
		require.Equal(t, []byte("# pkg\n"), art.Files["pkg/AGENTS.md"])
	}
}

func TestGetOrBuildFailedBuildReleasesLease(t *testing.T) {
	c := testCache(t)
	fp := Fingerprint("flat_context", "url", "rev")

	_, _, err := c.GetOrBuild(context.Background(), fp, func(ctx context.Context) (*Artifact, error) {
		return nil, errors.New("generation blew up")
	})
	require.Error(t, err)

	// Nothing persisted, and a later caller can build successfully.
	_, statErr := os.Stat(filepath.Join(c.dir, fp))
	require.True(t, os.IsNotExist(statErr), "failed build must not leave an entry")

	art, hit, err := c.GetOrBuild(context.Background(), fp, func(ctx context.Context) (*Artifact, error) {
		return &Artifact{Files: map[string][]byte{"CLAUDE.md": []byte("ok")}}, nil
	})
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, []byte("ok"), art.Files["CLAUDE.md"])
}

func TestGetOrBuildRejectsEmptyArtifact(t *testing.T) {
	c := testCache(t)
	fp := Fingerprint("flat_context", "url", "rev")

	_, _, err := c.GetOrBuild(context.Background(), fp, func(ctx context.Context) (*Artifact, error) {
		return &Artifact{}, nil
	})
	require.ErrorContains(t, err, "no files")
}

func TestExpiredLeaseReclaimed(t *testing.T) {
	c := testCache(t, WithLeaseTTL(time.Minute), WithPollInterval(5*time.Millisecond))
	fp := Fingerprint("flat_context", "url", "rev")

	// A lease from a producer that died an hour ago.
	stale := fmt.Sprintf(`{"producer_id":"dead-producer","expires_at":%q}`,
		time.Now().Add(-time.Hour).Format(time.RFC3339))
	require.NoError(t, os.WriteFile(c.leasePath(fp), []byte(stale), 0644))

	art, hit, err := c.GetOrBuild(context.Background(), fp, func(ctx context.Context) (*Artifact, error) {
		return &Artifact{Files: map[string][]byte{"CLAUDE.md": []byte("fresh")}}, nil
	})
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, []byte("fresh"), art.Files["CLAUDE.md"])
}

func TestLiveLeaseBlocksUntilEntryAppears(t *testing.T) {
	c := testCache(t, WithLeaseTTL(time.Minute), WithPollInterval(5*time.Millisecond))
	fp := Fingerprint("flat_context", "url", "rev")

	live := fmt.Sprintf(`{"producer_id":"other","expires_at":%q}`,
		time.Now().Add(time.Minute).Format(time.RFC3339))
	require.NoError(t, os.WriteFile(c.leasePath(fp), []byte(live), 0644))

	// Simulate the holder finishing shortly after we start waiting.
	go func() {
		time.Sleep(30 * time.Millisecond)
		other, err := New(c.dir, testLogger())
		if err != nil {
			return
		}
		other.commit(fp, &Artifact{Files: map[string][]byte{"CLAUDE.md": []byte("done")}})
		os.Remove(c.leasePath(fp))
	}()

	var built atomic.Bool
	art, hit, err := c.GetOrBuild(context.Background(), fp, func(ctx context.Context) (*Artifact, error) {
		built.Store(true)
		return &Artifact{Files: map[string][]byte{"CLAUDE.md": []byte("mine")}}, nil
	})
	require.NoError(t, err)
	require.True(t, hit)
	require.False(t, built.Load(), "waiter must not build while another producer holds the lease")
	require.Equal(t, []byte("done"), art.Files["CLAUDE.md"])
}

func TestEntryCommittedAfterLeaseWinIsAHit(t *testing.T) {
	c := testCache(t)
	fp := Fingerprint("flat_context", "url", "rev")

	// Win the lease, then have another producer commit the entry
	// before our build would start (its own lease was reclaimed just
	// before it finished renaming).
	acquired, _, err := c.acquireLease(fp)
	require.NoError(t, err)
	require.True(t, acquired)

	other, err := New(c.dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, other.commit(fp, &Artifact{Files: map[string][]byte{"CLAUDE.md": []byte("theirs")}}))

	art, loaded, err := c.produce(context.Background(), fp, func(ctx context.Context) (*Artifact, error) {
		t.Fatal("build must not run when the entry is already committed")
		return nil, nil
	})
	require.NoError(t, err)
	require.True(t, loaded, "a pre-committed entry must be reported as a hit, not a build")
	require.Equal(t, []byte("theirs"), art.Files["CLAUDE.md"])
}

func TestReclaimSparesFreshLease(t *testing.T) {
	c := testCache(t, WithLeaseTTL(time.Minute))
	fp := Fingerprint("flat_context", "url", "rev")

	stale := leaseRecord{ProducerID: "dead-producer", ExpiresAt: time.Now().Add(-time.Hour)}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(c.leasePath(fp), data, 0644))

	// A faster waiter reclaims the stale lease and takes it over.
	require.True(t, c.reclaimLease(fp, stale))
	winner, err := New(c.dir, testLogger(), WithLeaseTTL(time.Minute))
	require.NoError(t, err)
	acquired, _, err := winner.acquireLease(fp)
	require.NoError(t, err)
	require.True(t, acquired)

	// A slower waiter replaying its reclaim with the old record must
	// leave the winner's lease alone.
	require.False(t, c.reclaimLease(fp, stale))
	acquired, holder, err := c.acquireLease(fp)
	require.NoError(t, err)
	require.False(t, acquired, "the fresh lease must still be held")
	require.Equal(t, winner.producerID, holder.ProducerID)
}

func TestCommitCollisionServesCommittedEntry(t *testing.T) {
	c := testCache(t)
	fp := Fingerprint("flat_context", "url", "rev")

	other, err := New(c.dir, testLogger())
	require.NoError(t, err)

	// The concurrent producer finishes while our build runs, so our
	// commit rename collides with the entry already in place.
	art, hit, err := c.GetOrBuild(context.Background(), fp, func(ctx context.Context) (*Artifact, error) {
		require.NoError(t, other.commit(fp, &Artifact{Files: map[string][]byte{"CLAUDE.md": []byte("theirs")}}))
		return &Artifact{Files: map[string][]byte{"CLAUDE.md": []byte("mine")}}, nil
	})
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("theirs"), art.Files["CLAUDE.md"], "everyone must observe the committed bytes")
}

func TestCorruptionDetected(t *testing.T) {
	c := testCache(t)
	fp := Fingerprint("flat_context", "url", "rev")

	_, _, err := c.GetOrBuild(context.Background(), fp, func(ctx context.Context) (*Artifact, error) {
		return &Artifact{Files: map[string][]byte{"CLAUDE.md": []byte("pristine")}}, nil
	})
	require.NoError(t, err)

	// Flip bytes behind the cache's back.
	require.NoError(t, os.WriteFile(filepath.Join(c.dir, fp, "CLAUDE.md"), []byte("tampered"), 0644))

	_, _, err = c.GetOrBuild(context.Background(), fp, func(ctx context.Context) (*Artifact, error) {
		t.Fatal("corrupted entries must surface, not trigger a rebuild")
		return nil, nil
	})
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestClear(t *testing.T) {
	c := testCache(t)
	fp := Fingerprint("flat_context", "url", "rev")

	_, _, err := c.GetOrBuild(context.Background(), fp, func(ctx context.Context) (*Artifact, error) {
		return &Artifact{Files: map[string][]byte{"CLAUDE.md": []byte("x")}}, nil
	})
	require.NoError(t, err)
	require.NoError(t, c.Clear())

	entries, err := os.ReadDir(c.dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestGetOrBuildContextCancelledWhileWaiting(t *testing.T) {
	c := testCache(t, WithLeaseTTL(time.Minute), WithPollInterval(5*time.Millisecond))
	fp := Fingerprint("flat_context", "url", "rev")

	live := fmt.Sprintf(`{"producer_id":"other","expires_at":%q}`,
		time.Now().Add(time.Minute).Format(time.RFC3339))
	require.NoError(t, os.WriteFile(c.leasePath(fp), []byte(live), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err := c.GetOrBuild(ctx, fp, func(ctx context.Context) (*Artifact, error) {
		t.Fatal("must not build while another producer holds the lease")
		return nil, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
