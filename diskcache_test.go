package scex

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestDiskCache_StoreLoad_RoundTrips(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	def := ExpressionDef{Expression: "1 + 1"}
	sigs := []SignatureRecord{
		{FullName: "b.Thing", Typed: "b.Thing: int", Erased: "b.Thing:int"},
		{FullName: "a.Thing", Typed: "a.Thing: string", Erased: "a.Thing:string"},
	}

	if err := dc.Store(def, "1 + 1", sigs); err != nil {
		t.Fatalf("Store: %v", err)
	}

	source, got, ok, err := dc.Load(def)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !ok {
		t.Fatalf("expected a cache hit after Store")
	}

	if source != "1 + 1" {
		t.Errorf("source = %q, want %q", source, "1 + 1")
	}

	if len(got) != 2 || got[0].FullName != "a.Thing" || got[1].FullName != "b.Thing" {
		t.Fatalf("expected records sorted by FullName, got %+v", got)
	}
}

func TestDiskCache_Load_MissUntilStored(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	_, _, ok, err := dc.Load(ExpressionDef{Expression: "never stored"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if ok {
		t.Fatalf("expected a cache miss for an unstored definition")
	}
}

func TestDiskCache_WriteSig_IsDeterministicRegardlessOfInputOrder(t *testing.T) {
	dir := t.TempDir()

	dc, err := NewDiskCache(dir)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	def := ExpressionDef{Expression: "x"}

	forward := []SignatureRecord{
		{FullName: "a.X", Typed: "a.X: int", Erased: "a.X:int"},
		{FullName: "z.Y", Typed: "z.Y: int", Erased: "z.Y:int"},
	}

	reversed := []SignatureRecord{forward[1], forward[0]}

	if err := dc.Store(def, "x", forward); err != nil {
		t.Fatalf("Store forward: %v", err)
	}

	path := filepath.Join(dir, def.Key(), def.Key()+".sig")

	forwardBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading .sig: %v", err)
	}

	if err := dc.Store(def, "x", reversed); err != nil {
		t.Fatalf("Store reversed: %v", err)
	}

	reversedBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading .sig: %v", err)
	}

	if string(forwardBytes) != string(reversedBytes) {
		t.Errorf(".sig contents differ by input order:\n%s\n---\n%s", forwardBytes, reversedBytes)
	}
}

func TestNewDiskCache_VersionMismatch_ClearsDirectory(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "stale.expr")
	if err := os.WriteFile(stale, []byte("leftover"), 0o644); err != nil {
		t.Fatalf("seeding stale file: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "cacheVersion"), []byte(strconv.Itoa(globalCacheVersion-1)+".0"), 0o644); err != nil {
		t.Fatalf("seeding cacheVersion: %v", err)
	}

	if _, err := NewDiskCache(dir); err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("expected stale file to be removed on version mismatch, stat err = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "cacheVersion"))
	if err != nil {
		t.Fatalf("reading cacheVersion: %v", err)
	}

	if !strings.HasPrefix(string(data), strconv.Itoa(globalCacheVersion)) {
		t.Errorf("cacheVersion = %q, want prefix %q", data, strconv.Itoa(globalCacheVersion))
	}
}
