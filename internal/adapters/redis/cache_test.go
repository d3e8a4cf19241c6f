package redisad_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	redisad "taxsale/internal/adapters/redis"
	"taxsale/internal/domain"
)

type entry struct {
	AAN   string  `json:"aan"`
	Price float64 `json:"price"`
}

func newCache(t *testing.T) (*redisad.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redisad.New(mr.Addr(), "", 0, time.Minute), mr
}

func TestCache_SetGetDel(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	var got entry
	if ok, err := c.Get(ctx, "property:1", &got); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "property:1", entry{AAN: "1", Price: 10.5}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ok, err := c.Get(ctx, "property:1", &got); !ok || err != nil || got.Price != 10.5 {
		t.Fatalf("get: ok=%v err=%v got=%+v", ok, err, got)
	}
	if err := c.Del(ctx, "property:1"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if ok, _ := c.Get(ctx, "property:1", &got); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestCache_DefaultAndExplicitTTL(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "a", 1, 0)
	_ = c.Set(ctx, "b", 1, 5*time.Second)
	if ttl := mr.TTL("a"); ttl != time.Minute {
		t.Fatalf("default ttl: %v", ttl)
	}
	if ttl := mr.TTL("b"); ttl != 5*time.Second {
		t.Fatalf("explicit ttl: %v", ttl)
	}
	mr.FastForward(6 * time.Second)
	var v int
	if ok, _ := c.Get(ctx, "b", &v); ok {
		t.Fatalf("expected expiry")
	}
}

func TestCache_FlushPattern(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	for i := 0; i < 450; i++ {
		_ = mr.Set(fmt.Sprintf("search:muni=%d", i), "x")
	}
	_ = c.Set(ctx, "property:9", entry{AAN: "9"}, 0)

	if err := c.FlushPattern(ctx, "search:"); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 1 || keys[0] != "property:9" {
		t.Fatalf("remaining keys: %v", keys)
	}
}

func TestCache_UnavailableDegrades(t *testing.T) {
	c, mr := newCache(t)
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got entry
	ok, err := c.Get(ctx, "property:1", &got)
	if ok || err != nil {
		t.Fatalf("get should degrade to a miss, got ok=%v err=%v", ok, err)
	}
	for name, err := range map[string]error{
		"set":   c.Set(ctx, "k", 1, 0),
		"del":   c.Del(ctx, "k"),
		"flush": c.FlushPattern(ctx, "search:"),
	} {
		if !errors.Is(err, domain.ErrCacheUnavailable) {
			t.Fatalf("%s: expected ErrCacheUnavailable, got %v", name, err)
		}
	}
}

func TestCache_Disabled(t *testing.T) {
	c := redisad.New("", "", 0, 0)
	var v int
	if ok, err := c.Get(context.Background(), "k", &v); ok || err != nil {
		t.Fatalf("disabled get: ok=%v err=%v", ok, err)
	}
	if err := c.Set(context.Background(), "k", 1, 0); !errors.Is(err, domain.ErrCacheUnavailable) {
		t.Fatalf("disabled set: %v", err)
	}
}
