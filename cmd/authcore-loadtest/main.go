// Command authcore-loadtest drives login, access validation and refresh
// rotation through an Engine and reports latency percentiles per phase.
//
// Accounts live in memory by default. With -store=redis they go to
// -redis-addr, REDIS_ADDR, or an embedded miniredis.
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store/memstore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const loadPassword = "L0ad!test-password"

type accountState struct {
	email   string
	access  string
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		accounts    = flag.Int("accounts", 1000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per validate and refresh phase")
		logins      = flag.Int("logins", 2000, "operations in the login phase")
		storeKind   = flag.String("store", "memory", "identity store: memory or redis")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		argonMemory = flag.Uint("argon-memory", 8*1024, "argon2id memory in KB")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 || *logins <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, ops and logins must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	store, cleanup, err := openStore(*storeKind, *redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = randomKey()
	cfg.Session.RefreshHashKey = randomKey()
	cfg.Password.Memory = uint32(*argonMemory)
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Lockout.Threshold = 1 << 20

	engine, err := authcore.New().WithConfig(cfg).WithStore(store).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states, err := seed(ctx, store, cfg, *accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	loginStats := runPhase(*logins, *concurrency, len(states), false, func(idx int) error {
		state := &states[idx%len(states)]
		sess, err := engine.Login(ctx, authcore.LoginRequest{Email: state.email, Password: loadPassword})
		if err != nil {
			return err
		}
		state.mu.Lock()
		state.access = sess.AccessToken
		state.refresh = sess.RefreshToken
		state.mu.Unlock()
		return nil
	})

	validateStats := runPhase(*ops, *concurrency, len(states), true, func(idx int) error {
		state := &states[idx]
		state.mu.Lock()
		token := state.access
		state.mu.Unlock()
		_, err := engine.ValidateAccess(ctx, token)
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, len(states), true, func(idx int) error {
		state := &states[idx]
		state.mu.Lock()
		defer state.mu.Unlock()
		sess, err := engine.Refresh(ctx, state.refresh)
		if err != nil {
			return err
		}
		state.access = sess.AccessToken
		state.refresh = sess.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	fmt.Printf("store conflict retries: %d\n", engine.MetricsSnapshot().Counters[authcore.MetricStoreConflictRetry])
}

func openStore(kind, addr string) (account.Store, func(), error) {
	switch kind {
	case "memory":
		fmt.Println("using in-memory store")
		return memstore.New(), func() {}, nil
	case "redis":
	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{mr.Addr()},
		})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return redisstore.New(client, "lt:"), func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})
	fmt.Printf("using redis at %s\n", addr)
	return redisstore.New(client, "lt:"), func() { _ = client.Close() }, nil
}

// seed inserts verified active accounts that share one password hash, so
// seeding costs a single argon2 derivation.
func seed(ctx context.Context, store account.Store, cfg authcore.Config, n int) ([]accountState, error) {
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	fmt.Printf("seeding %d accounts...\n", n)
	start := time.Now()
	states := make([]accountState, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		email := fmt.Sprintf("load%d@example.com", i)
		err = store.Create(ctx, &account.Account{
			ID:            id.String(),
			Email:         email,
			Username:      fmt.Sprintf("load%d", i),
			PasswordHash:  hash,
			Role:          account.RoleClient,
			IsActive:      true,
			EmailVerified: true,
			SecondFactor:  account.NoFactor{},
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return nil, err
		}
		states[i].email = email
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return states, nil
}

// runPhase calls op ops times across concurrency workers. Without random the
// operation index is passed through, so a login phase can walk every account.
func runPhase(ops, concurrency, n int, random bool, op func(idx int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := i
				if random {
					idx = r.Intn(n)
				}
				t0 := time.Now()
				err := op(idx)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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

func randomKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return bytes.Repeat([]byte{0x5a}, 32)
	}
	return key
}
