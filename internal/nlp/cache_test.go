package nlp

import (
	"fmt"
	"testing"

	"github.com/mapspeak/mapspeak/internal/intent"
)

func TestCacheEvictsOldestHalf(t *testing.T) {
	c := newInterpretationCache(cacheCapacity)

	for i := 0; i <= cacheCapacity; i++ {
		in := intent.New(fmt.Sprintf("command %d", i))
		in.Operation = intent.OpBuffer
		c.put(fmt.Sprintf("key-%03d", i), in)
	}

	// Inserting one past capacity drops the oldest half.
	want := cacheCapacity + 1 - (cacheCapacity+1)/2
	if got := c.len(); got != want {
		t.Fatalf("len after eviction = %d, want %d", got, want)
	}
	if _, ok := c.get("key-000"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.get(fmt.Sprintf("key-%03d", cacheCapacity)); !ok {
		t.Error("newest entry was evicted")
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	c := newInterpretationCache(10)

	in := intent.New("buffer rivers by 50 meters")
	in.Operation = intent.OpBuffer
	in.InputLayer = "rivers"
	in.SetParam("distance", 50.0)
	c.put("k", in)

	// The stored entry must be insulated from later writes to the original.
	in.InputLayer = "changed"
	in.Parameters["distance"] = 99.0

	got, ok := c.get("k")
	if !ok {
		t.Fatal("entry missing")
	}
	if got.InputLayer != "rivers" {
		t.Errorf("input layer = %q, want rivers", got.InputLayer)
	}
	if d, _ := got.Distance(); d != 50 {
		t.Errorf("distance = %v, want 50", d)
	}

	// And each get hands out its own copy.
	got.SetParam("from_cache", true)
	again, _ := c.get("k")
	if _, leaked := again.Parameters["from_cache"]; leaked {
		t.Error("mutation of one cached copy leaked into another")
	}
}

func TestCacheKeyNormalization(t *testing.T) {
	a := cacheKey("Buffer Rivers", []string{"roads", "rivers"}, "EPSG:4326")
	b := cacheKey("buffer rivers", []string{"rivers", "roads"}, "EPSG:4326")
	if a != b {
		t.Errorf("case and layer order should not change the key:\n%q\n%q", a, b)
	}

	c := cacheKey("buffer rivers", []string{"rivers"}, "EPSG:4326")
	if a == c {
		t.Error("different layer sets must produce different keys")
	}
	d := cacheKey("buffer rivers", []string{"rivers"}, "EPSG:3857")
	if c == d {
		t.Error("different CRS must produce different keys")
	}
}

func TestCachePutSameKeyDoesNotGrow(t *testing.T) {
	c := newInterpretationCache(10)
	for i := 0; i < 5; i++ {
		c.put("same", intent.New("text"))
	}
	if got := c.len(); got != 1 {
		t.Errorf("len = %d, want 1", got)
	}
}
