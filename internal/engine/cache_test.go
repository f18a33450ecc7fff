package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/engramdev/engram/internal/sector"
)

func TestCacheHitAndMiss(t *testing.T) {
	c := newResultCache(time.Minute, 8)

	if got := c.get("absent"); got != nil {
		t.Fatalf("get(absent) = %v, want nil", got)
	}

	want := []Result{{Score: 0.9}}
	c.put("k", want)
	got := c.get("k")
	if len(got) != 1 || got[0].Score != 0.9 {
		t.Fatalf("get(k) = %v, want %v", got, want)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := newResultCache(10*time.Millisecond, 8)
	c.put("k", []Result{{Score: 0.9}})

	time.Sleep(20 * time.Millisecond)
	if got := c.get("k"); got != nil {
		t.Fatalf("expired entry served: %v", got)
	}
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	c := newResultCache(time.Minute, 3)

	for i := 0; i < 3; i++ {
		c.put(fmt.Sprintf("k%d", i), []Result{{Score: float64(i)}})
		time.Sleep(time.Millisecond)
	}
	c.put("k3", []Result{{Score: 3}})

	if got := c.get("k0"); got != nil {
		t.Error("oldest entry should have been evicted")
	}
	for _, k := range []string{"k1", "k2", "k3"} {
		if got := c.get(k); got == nil {
			t.Errorf("entry %s should survive eviction", k)
		}
	}
}

func TestCachePurge(t *testing.T) {
	c := newResultCache(time.Minute, 8)
	c.put("a", []Result{{Score: 1}})
	c.put("b", []Result{{Score: 2}})

	c.purge()
	if c.get("a") != nil || c.get("b") != nil {
		t.Error("purge should drop every entry")
	}
}

func TestCacheKeySectorOrderInsensitive(t *testing.T) {
	k1 := cacheKey("q", 5, []sector.Sector{sector.Episodic, sector.Semantic})
	k2 := cacheKey("q", 5, []sector.Sector{sector.Semantic, sector.Episodic})
	if k1 != k2 {
		t.Errorf("keys differ for same sector set: %q vs %q", k1, k2)
	}
	if k1 == cacheKey("q", 6, []sector.Sector{sector.Episodic, sector.Semantic}) {
		t.Error("limit should be part of the key")
	}
}
