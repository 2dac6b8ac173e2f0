package cache

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestCache(t *testing.T) {
	c := qt.New(t)

	cache, err := New[string](2)
	c.Assert(err, qt.IsNil)

	a, b, d := Key([]byte("a"), 5), Key([]byte("b"), 5), Key([]byte("d"), 5)
	cache.Add(a, "first")
	cache.Add(b, "second")
	cache.Add(d, "third")

	_, ok := cache.Get(a)
	c.Check(ok, qt.IsFalse)
	v, ok := cache.Get(d)
	c.Check(ok, qt.IsTrue)
	c.Check(v, qt.Equals, "third")
	c.Check(cache.Len(), qt.Equals, 2)
}

func TestDisabled(t *testing.T) {
	c := qt.New(t)

	cache, err := New[int](0)
	c.Assert(err, qt.IsNil)
	c.Assert(cache, qt.IsNil)

	cache.Add("k", 1)
	_, ok := cache.Get("k")
	c.Check(ok, qt.IsFalse)
	c.Check(cache.Len(), qt.Equals, 0)
}

func TestKey(t *testing.T) {
	c := qt.New(t)

	c.Check(Key([]byte("img"), 5), qt.Equals, Key([]byte("img"), 5))
	c.Check(Key([]byte("img"), 5), qt.Not(qt.Equals), Key([]byte("img"), 3))
	c.Check(Key([]byte("img"), 5), qt.Not(qt.Equals), Key([]byte("img2"), 5))
}
