package cache

import (
	"testing"
	"time"
)

func TestMemoryGetSetExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set("k", []byte("v"), time.Minute)
	if v, ok := m.Get("k"); !ok || string(v) != "v" {
		t.Fatalf("get = %q %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := m.Get("k"); ok {
		t.Fatal("expired entry still served")
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	src := []byte("abc")
	m.Set("k", src, time.Minute)
	src[0] = 'X'

	v, ok := m.Get("k")
	if !ok || string(v) != "abc" {
		t.Fatalf("cached value aliased writer: %q", v)
	}
	v[0] = 'Y'
	again, _ := m.Get("k")
	if string(again) != "abc" {
		t.Fatalf("cached value aliased reader: %q", again)
	}
}

func TestMemorySweep(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set("a", []byte("1"), time.Second)
	m.Set("b", []byte("2"), time.Hour)
	now = now.Add(time.Minute)

	if n := m.Sweep(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := m.Get("b"); !ok {
		t.Fatal("live entry swept")
	}
}

func TestTwoTierPromotesL2Hit(t *testing.T) {
	l1 := NewMemory()
	l2 := NewMemory()
	c := NewTwoTier(l1, l2, time.Minute)

	l2.Set("k", []byte("v"), time.Minute)
	if v, ok := c.Get("k"); !ok || string(v) != "v" {
		t.Fatalf("two-tier miss: %q %v", v, ok)
	}
	// Promoted: L1 now serves it directly.
	if v, ok := l1.Get("k"); !ok || string(v) != "v" {
		t.Fatal("L2 hit was not promoted into L1")
	}
}

func TestTwoTierSetWritesBothTiers(t *testing.T) {
	l1 := NewMemory()
	l2 := NewMemory()
	c := NewTwoTier(l1, l2, time.Minute)

	c.Set("k", []byte("v"))
	if _, ok := l1.Get("k"); !ok {
		t.Fatal("L1 missing entry")
	}
	if _, ok := l2.Get("k"); !ok {
		t.Fatal("L2 missing entry")
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("deleted entry still served")
	}
}

func TestTwoTierNilL2(t *testing.T) {
	c := NewTwoTier(NewMemory(), nil, time.Minute)
	c.Set("k", []byte("v"))
	if v, ok := c.Get("k"); !ok || string(v) != "v" {
		t.Fatalf("single-tier get = %q %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("missing key reported as hit")
	}
}
