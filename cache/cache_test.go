package cache

import "testing"

func TestCache_AddGet(t *testing.T) {
	c := New[string, int](0)

	c.Add("a", 1)
	c.Add("b", 2)

	val, found := c.Get("a")
	if !found {
		t.Fatalf("Get(a) returned not found")
	}
	if val != 1 {
		t.Errorf("Get(a) = %d, expected 1", val)
	}

	if _, found := c.Get("missing"); found {
		t.Errorf("Get(missing) returned found")
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)

	c.Add("a", 1)
	c.Add("b", 2)
	// touch "a" so "b" becomes the least-recently-used entry.
	c.Get("a")
	c.Add("c", 3)

	if c.Contain("b") {
		t.Errorf("expected b to be evicted")
	}
	if !c.Contain("a") {
		t.Errorf("expected a to survive eviction")
	}
	if !c.Contain("c") {
		t.Errorf("expected c to be present")
	}
	if n := c.Len(); n != 2 {
		t.Errorf("Len() = %d, expected 2", n)
	}
}

func TestCache_AddUpdatesExistingKey(t *testing.T) {
	c := New[string, int](2)

	c.Add("a", 1)
	c.Add("a", 2)

	val, found := c.Get("a")
	if !found || val != 2 {
		t.Fatalf("Get(a) = (%d, %v), expected (2, true)", val, found)
	}
	if n := c.Len(); n != 1 {
		t.Errorf("Len() = %d, expected 1", n)
	}
}

func TestCache_Remove(t *testing.T) {
	c := New[string, int](0)

	c.Add("a", 1)
	c.Remove("a")

	if c.Contain("a") {
		t.Errorf("expected a to be removed")
	}
	if n := c.Len(); n != 0 {
		t.Errorf("Len() = %d, expected 0", n)
	}
}

func TestCache_UnboundedCapacity(t *testing.T) {
	c := New[int, int](0)

	for i := 0; i < 100; i++ {
		c.Add(i, i*i)
	}
	if n := c.Len(); n != 100 {
		t.Errorf("Len() = %d, expected 100", n)
	}
}
