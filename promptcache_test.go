package ziya

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPromptCacheRoundTrip(t *testing.T) {
	c := NewPromptCache("")
	key := c.Key("c1", "structure", []string{"a.py", "b.py"})

	entry := CacheEntry{ConversationID: "c1", FilePaths: []string{"a.py", "b.py"}, TokenCount: 1234}
	c.Put(key, entry)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("entry missing after Put")
	}
	if got.ConversationID != "c1" || got.TokenCount != 1234 {
		t.Errorf("entry = %+v", got)
	}
}

func TestPromptCacheKeyIgnoresFileOrder(t *testing.T) {
	c := NewPromptCache("")
	k1 := c.Key("c1", "s", []string{"a.py", "b.py"})
	k2 := c.Key("c1", "s", []string{"b.py", "a.py"})
	if k1 != k2 {
		t.Error("key must not depend on file selection order")
	}
	if k1 == c.Key("c2", "s", []string{"a.py", "b.py"}) {
		t.Error("key must depend on the conversation")
	}
}

func TestPromptCacheTTLExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := NewPromptCache("", CacheClock(func() time.Time { return clock() }), CacheTTL(time.Hour))

	key := c.Key("c1", "s", nil)
	c.Put(key, CacheEntry{ConversationID: "c1"})

	if _, ok := c.Get(key); !ok {
		t.Fatal("entry should be live before TTL")
	}
	now = now.Add(2 * time.Hour)
	if _, ok := c.Get(key); ok {
		t.Fatal("entry should be absent after TTL expiry")
	}
}

func TestPromptCacheInvalidation(t *testing.T) {
	c := NewPromptCache("")
	c.Put("k1", CacheEntry{ConversationID: "c1", FilePaths: []string{"a.py"}})
	c.Put("k2", CacheEntry{ConversationID: "c1", FilePaths: []string{"b.py"}})
	c.Put("k3", CacheEntry{ConversationID: "c2", FilePaths: []string{"a.py"}})

	if n := c.InvalidateConversation("c1"); n != 2 {
		t.Errorf("invalidated %d by conversation, want 2", n)
	}
	if n := c.InvalidateFile("a.py"); n != 1 {
		t.Errorf("invalidated %d by file, want 1 (k3)", n)
	}
	if s := c.Stats(); s.Entries != 0 {
		t.Errorf("entries = %d, want 0", s.Entries)
	}
}

func TestPromptCacheEvictionOldestFirst(t *testing.T) {
	now := time.Now()
	i := 0
	c := NewPromptCache("",
		CacheMaxEntries(3),
		CacheClock(func() time.Time { i++; return now.Add(time.Duration(i) * time.Second) }))

	for _, k := range []string{"k1", "k2", "k3", "k4"} {
		c.Put(k, CacheEntry{ConversationID: k})
	}
	if _, ok := c.Get("k1"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("k4"); !ok {
		t.Error("newest entry should survive")
	}
}

func TestPromptCachePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "prompt_cache.json")

	c := NewPromptCache(path)
	c.Put("k1", CacheEntry{ConversationID: "c1", TokenCount: 42})

	reopened := NewPromptCache(path)
	got, ok := reopened.Get("k1")
	if !ok || got.TokenCount != 42 {
		t.Fatalf("reloaded entry = %+v ok=%v, want the persisted one", got, ok)
	}
}

func TestPromptCacheCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt_cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewPromptCache(path)
	if s := c.Stats(); s.Entries != 0 {
		t.Errorf("corrupt file should load as empty, entries = %d", s.Entries)
	}
}

func TestPromptCacheStats(t *testing.T) {
	c := NewPromptCache("")
	c.Put("k", CacheEntry{TokenCount: 10})
	c.Get("k")
	c.Get("absent")
	c.RecordSplit()

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Splits != 1 || s.TokensCached != 10 {
		t.Errorf("stats = %+v", s)
	}
}
