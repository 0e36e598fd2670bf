//go:build integration
// +build integration

package test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/store/gormstore"
	"github.com/MrEthical07/authcore/store/memstore"
	"github.com/MrEthical07/authcore/store/pgstore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const integrationPassword = "Integr4tion!pw"

var (
	tokenPattern = regexp.MustCompile(`token=([0-9a-f]+)`)
	codePattern  = regexp.MustCompile(`code is (\d+)`)
)

type backend struct {
	name string
	open func(t *testing.T) account.Store
}

// backends lists every identity store. Postgres joins when
// AUTHCORE_TEST_DATABASE_URL points at a disposable database.
func backends() []backend {
	return []backend{
		{name: "memory", open: func(*testing.T) account.Store { return memstore.New() }},
		{name: "redis", open: openRedis},
		{name: "sqlite", open: openSQLite},
		{name: "postgres", open: openPostgres},
	}
}

func openRedis(t *testing.T) account.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisstore.New(rdb, "it:")
}

func openSQLite(t *testing.T) account.Store {
	t.Helper()
	db, err := gormstore.OpenSQLite(filepath.Join(t.TempDir(), "authcore.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store, err := gormstore.New(db)
	if err != nil {
		t.Fatalf("gormstore.New: %v", err)
	}
	return store
}

func openPostgres(t *testing.T) account.Store {
	t.Helper()
	url := os.Getenv("AUTHCORE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AUTHCORE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := pgstore.Open(ctx, url)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := pgstore.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE accounts CASCADE"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pgstore.New(db)
}

type mailbox struct {
	mu   sync.Mutex
	sent []authcore.Message
}

func (m *mailbox) Send(_ context.Context, msg authcore.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailbox) match(t *testing.T, re *regexp.Regexp) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	found := re.FindStringSubmatch(m.sent[len(m.sent)-1].Text)
	if len(found) != 2 {
		t.Fatalf("no match for %s in %q", re, m.sent[len(m.sent)-1].Text)
	}
	return found[1]
}

func (m *mailbox) token(t *testing.T) string { return m.match(t, tokenPattern) }
func (m *mailbox) code(t *testing.T) string  { return m.match(t, codePattern) }

func newEngine(t *testing.T, store account.Store) (*authcore.Engine, *mailbox) {
	t.Helper()

	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = bytes.Repeat([]byte("i"), 32)
	cfg.Session.RefreshHashKey = bytes.Repeat([]byte("h"), 32)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	box := &mailbox{}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(store).
		WithNotifier(box).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, box
}
