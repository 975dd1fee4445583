package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	goRenew "github.com/MrEthical07/goRenew"
	"github.com/MrEthical07/goRenew/internal/testauthority"
	"github.com/MrEthical07/goRenew/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		principals  int
		concurrency int
		redisAddr   string
		databaseURL string
		prefix      string
		delay       time.Duration
		preemptive  bool
	)

	flagSet := pflag.NewFlagSet("gorenew-loadtest", pflag.ContinueOnError)
	flagSet.IntVar(&principals, "principals", 200, "number of principals seeded with expired access tokens")
	flagSet.IntVar(&concurrency, "concurrency", 20, "concurrent requests per principal")
	flagSet.StringVar(&redisAddr, "redis-addr", "", "redis address; if empty, GORENEW_REDIS_ADDR or miniredis is used")
	flagSet.StringVar(&databaseURL, "database-url", "", "postgres URL; when set, sessions live in SQL instead of redis")
	flagSet.StringVar(&prefix, "prefix", "lt", "session key prefix")
	flagSet.DurationVar(&delay, "authority-delay", 20*time.Millisecond, "artificial latency of every renewal")
	flagSet.BoolVar(&preemptive, "preemptive", false, "renew before the first attempt instead of after a 401")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if principals <= 0 || concurrency <= 0 {
		return fmt.Errorf("principals and concurrency must be > 0")
	}

	secret := make([]byte, session.MinSecretLen)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	sealer, err := session.NewSealer(secret)
	if err != nil {
		return err
	}

	cfg := goRenew.DefaultConfig()
	cfg.Session.RedisPrefix = prefix
	cfg.Executor.PreemptiveRenewal = preemptive
	codec := session.NewCodec(sealer)
	lifetime := cfg.SessionLifetime()

	var store session.Store
	if databaseURL != "" {
		db, err := sql.Open("pgx", databaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		sqlStore := session.NewSQLStore(db, codec, lifetime)
		if err := sqlStore.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		fmt.Println("using postgres session store")
		store = sqlStore
	} else {
		client, closeRedis, err := openRedis(redisAddr)
		if err != nil {
			return err
		}
		defer closeRedis()
		store = session.NewRedisStore(client, cfg.Session.RedisPrefix, codec, lifetime)
	}

	auth := testauthority.New()
	auth.SetDelay(delay)
	authSrv := httptest.NewServer(auth)
	defer authSrv.Close()
	upstream := httptest.NewServer(auth.Protect(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	defer upstream.Close()

	cfg.Authority.BaseURL = authSrv.URL
	m, err := goRenew.New().
		WithConfig(cfg).
		WithStore(store).
		WithLogger(logr.Discard()).
		Build()
	if err != nil {
		return fmt.Errorf("build manager: %w", err)
	}
	defer m.Close()

	ctx := context.Background()
	ids := make([]string, principals)
	fmt.Printf("seeding %d principals...\n", principals)
	startSeed := time.Now()
	for i := range ids {
		ids[i] = fmt.Sprintf("principal-%d", i)
		pair, err := auth.Issue(ids[i], -time.Minute)
		if err != nil {
			return err
		}
		if err := m.SignIn(ctx, ids[i], pair); err != nil {
			return fmt.Errorf("seed %s: %w", ids[i], err)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	stats := runPhase(ctx, m, upstream.URL, ids, concurrency)

	fmt.Println("---- results ----")
	printStats("execute", stats)
	snap := m.MetricsSnapshot()
	fmt.Printf("renewals: authority_calls=%d expected=%d leading=%d shared=%d skipped=%d retry_success=%d\n",
		auth.Calls(),
		principals,
		snap.Counters[goRenew.MetricRenewalSuccess],
		snap.Counters[goRenew.MetricRenewalShared],
		snap.Counters[goRenew.MetricRenewalSkipped],
		snap.Counters[goRenew.MetricExecuteRetrySuccess],
	)
	if auth.Calls() != int64(principals) {
		return fmt.Errorf("expected %d renewals, authority saw %d", principals, auth.Calls())
	}
	return nil
}

// openRedis connects to addr, GORENEW_REDIS_ADDR, or an in-process miniredis.
func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv(goRenew.EnvRedisAddr)
	}
	var mr *miniredis.Miniredis
	if addr == "" {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	return client, func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}, nil
}

func runPhase(ctx context.Context, m *goRenew.Manager, url string, ids []string, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		failures  int64
		latencies = make([]time.Duration, 0, len(ids)*concurrency)
		mu        sync.Mutex
	)

	start := time.Now()
	for _, id := range ids {
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func(principalID string) {
				defer wg.Done()
				req, _ := http.NewRequest(http.MethodGet, url, nil)
				t0 := time.Now()
				resp, err := m.Do(ctx, principalID, req)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else {
					_, _ = io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
					if resp.StatusCode != http.StatusOK {
						atomic.AddInt64(&failures, 1)
					}
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}(id)
		}
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
