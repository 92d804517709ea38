package integration

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/bulk-ingest/internal/testutil"
	"github.com/Sternrassler/bulk-ingest/pkg/cache"
	"github.com/Sternrassler/bulk-ingest/pkg/orchestrator"
	"github.com/Sternrassler/bulk-ingest/pkg/scheduler"
	"github.com/Sternrassler/bulk-ingest/pkg/source"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func fastScheduler() scheduler.Config {
	return scheduler.Config{
		MaxConcurrent:     4,
		RequestsPerSecond: 200,
		RetryAttempts:     2,
		RetryBaseDelay:    10 * time.Millisecond,
		RetryMaxDelay:     50 * time.Millisecond,
	}
}

// TestCacheRoundTrip exercises the record cache against a real Redis.
func TestCacheRoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	manager := cache.NewManager(redisClient)
	key := cache.Key{Namespace: "test.remote", ID: "42"}

	if _, err := manager.Get(ctx, key); err != cache.ErrCacheMiss {
		t.Fatalf("expected cache miss, got %v", err)
	}

	entry := cache.NewEntry([]byte(`{"id":"42","name":"Answer"}`), time.Minute)
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != string(entry.Data) {
		t.Errorf("cached data mismatch: %s", got.Data)
	}
	if got.TTL() <= 0 {
		t.Error("expected remaining TTL on cached entry")
	}

	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); err != cache.ErrCacheMiss {
		t.Errorf("expected miss after delete, got %v", err)
	}
}

// TestReadThroughCache verifies that a second fetch for the same id is
// served from Redis instead of hitting the remote.
func TestReadThroughCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	remote := testutil.NewMockRemote()
	defer remote.Close()
	remote.SetResponse("100", testutil.NewRecordResponse("100", "Cached Entity"))

	cfg := source.DefaultHTTPConfig(remote.URL())
	cfg.Cache = cache.NewManager(redisClient)
	cfg.CacheTTL = time.Minute

	src, err := source.NewHTTP(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}

	ctx := context.Background()

	first, err := src.Fetch(ctx, "100", "token")
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if first == nil || first.Name != "Cached Entity" {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if remote.Attempts("100") != 1 {
		t.Fatalf("expected 1 remote hit, got %d", remote.Attempts("100"))
	}

	second, err := src.Fetch(ctx, "100", "token")
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if second == nil || second.ID != "100" {
		t.Fatalf("unexpected second record: %+v", second)
	}
	if remote.Attempts("100") != 1 {
		t.Errorf("second fetch hit the remote: %d attempts", remote.Attempts("100"))
	}
}

// TestFullIngestionFlow runs the whole pipeline against a mock remote and
// a real Redis cache: batching, retries, dedupe, and result collection.
func TestFullIngestionFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	remote := testutil.NewMockRemote()
	defer remote.Close()

	remote.SetResponse("1", testutil.NewRecordResponse("1", "First"))
	remote.SetResponse("2", testutil.NewFlakyResponse("2", 503, 1))
	remote.SetResponse("3", testutil.NewNoDataResponse())
	remote.SetResponse("4", testutil.NewRecordResponse("4", "Fourth"))
	remote.SetResponse("5", testutil.NewErrorResponse(403))

	srcCfg := source.DefaultHTTPConfig(remote.URL())
	srcCfg.Cache = cache.NewManager(redisClient)
	srcCfg.CacheTTL = time.Minute

	src, err := source.NewHTTP(srcCfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}

	cfg := orchestrator.DefaultConfig()
	cfg.BatchSize = 3
	cfg.DelayBetweenBatches = 0
	cfg.Scheduler = fastScheduler()

	orch, err := orchestrator.New(src, cfg, zerolog.Nop(), orchestrator.Callbacks{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// "1" appears twice: the repeat is deduplicated, not re-fetched.
	ids := []string{"1", "2", "3", "4", "5", "1"}
	results, err := orch.Run(context.Background(), ids, "token", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(results) != 3 {
		t.Errorf("expected 3 collected records, got %d", len(results))
	}

	prog := orch.Progress()
	if prog.Successful != 3 || prog.Failed != 1 || prog.Skipped != 1 || prog.Duplicates != 1 {
		t.Errorf("unexpected counters: %+v", prog)
	}
	if prog.Processed != prog.TotalItems {
		t.Errorf("run did not consume all items: %d/%d", prog.Processed, prog.TotalItems)
	}

	// The flaky id needed a retry, the duplicate id only one remote hit.
	if remote.Attempts("2") != 2 {
		t.Errorf("expected 2 attempts for flaky id, got %d", remote.Attempts("2"))
	}
	if remote.Attempts("1") != 1 {
		t.Errorf("expected 1 attempt for duplicated id, got %d", remote.Attempts("1"))
	}

	// A second run over the successful ids is served from the cache.
	orch.Reset()
	if _, err := orch.Run(context.Background(), []string{"1", "4"}, "token", nil); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if remote.Attempts("1") != 1 || remote.Attempts("4") != 1 {
		t.Errorf("cached ids hit the remote again: %d/%d attempts",
			remote.Attempts("1"), remote.Attempts("4"))
	}
}
