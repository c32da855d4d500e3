package scex

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goszjacek/scex/log"
)

func cacheProfile() *ExpressionProfile {
	acl := NewACL().Add(Allow, Pattern{Wildcard: WildcardAllMembers})
	return NewProfile("cache-demo", DefaultSyntaxWhitelist(), acl, nil, "", nil)
}

func TestCache_Get_ConcurrentIdenticalRequestsCoalesce(t *testing.T) {
	profile := cacheProfile()
	driver := NewDriver(log.Logger{})
	cache := NewCache(driver)

	def := ExpressionDef{Profile: profile.Name, Expression: "1 + 1", OriginalSource: "1 + 1"}
	req := CompileRequest{Profile: profile, Def: def}

	const n = 16

	var (
		wg    sync.WaitGroup
		calls int64
	)

	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()

			callable, err := cache.Get(context.Background(), req)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}

			atomic.AddInt64(&calls, 1)

			if _, err := callable.Program(context.Background()); err != nil {
				t.Errorf("Program: %v", err)
			}
		}()
	}

	wg.Wait()

	if calls != n {
		t.Fatalf("expected all %d goroutines to receive a Callable, got %d", n, calls)
	}

	if got := cache.Len(); got != 1 {
		t.Errorf("expected a single coalesced cache entry, got %d", got)
	}
}

func TestCache_Get_CachesByExpressionDefKey(t *testing.T) {
	profile := cacheProfile()
	driver := NewDriver(log.Logger{})
	cache := NewCache(driver)

	def := ExpressionDef{Profile: profile.Name, Expression: "1 + 1", OriginalSource: "1 + 1"}
	req := CompileRequest{Profile: profile, Def: def}

	first, err := cache.Get(context.Background(), req)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	second, err := cache.Get(context.Background(), req)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if first.entry != second.entry {
		t.Errorf("expected the same cacheEntry for an identical ExpressionDef")
	}

	if cache.Len() != 1 {
		t.Errorf("expected exactly one cached entry, got %d", cache.Len())
	}
}

func TestCache_Evict_CallableStillEvaluatesViaStrongReference(t *testing.T) {
	profile := cacheProfile()
	driver := NewDriver(log.Logger{})
	cache := NewCache(driver)

	def := ExpressionDef{Profile: profile.Name, Expression: "2 * 3", OriginalSource: "2 * 3"}
	req := CompileRequest{Profile: profile, Def: def}

	callable, err := cache.Get(context.Background(), req)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	cache.Evict(def)

	if cache.Len() != 0 {
		t.Errorf("expected Evict to remove the entry, got len %d", cache.Len())
	}

	got, err := callable.Eval(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Eval after Evict: %v", err)
	}

	if got != 6 {
		t.Errorf("got %v, want 6", got)
	}

	second, err := cache.Get(context.Background(), req)
	if err != nil {
		t.Fatalf("Get after Evict: %v", err)
	}

	if second.entry == callable.entry {
		t.Errorf("expected Evict followed by Get to produce a fresh cacheEntry")
	}
}

func TestCache_Release_DoesNotBreakSubsequentEval(t *testing.T) {
	profile := cacheProfile()
	driver := NewDriver(log.Logger{})
	cache := NewCache(driver)

	def := ExpressionDef{Profile: profile.Name, Expression: "10 - 3", OriginalSource: "10 - 3"}
	req := CompileRequest{Profile: profile, Def: def}

	callable, err := cache.Get(context.Background(), req)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	callable.Release()

	// The weak pointer may or may not have been collected yet, but resolve
	// must transparently recompile from the retained request if it has.
	got, err := callable.Eval(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Eval after Release: %v", err)
	}

	if got != 7 {
		t.Errorf("got %v, want 7", got)
	}
}
