package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddAndGet(t *testing.T) {
	c := New[string, int](4, time.Minute)
	c.Add("a", 1)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsedOnOverflow(t *testing.T) {
	c := New[string, int](2, time.Minute)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Get("a") // touch a, making b the LRU victim
	c.Add("c", 3)

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")
	assert.True(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
}

func TestExpiredEntriesReportAbsent(t *testing.T) {
	c := New[string, int](4, 20*time.Millisecond)
	c.Add("a", 1)

	time.Sleep(40 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCheckAndInsertIsAtomicAgainstDuplicates(t *testing.T) {
	c := New[string, int](4, time.Minute)

	v1, existed1 := c.CheckAndInsert("nonce-1", 100)
	assert.False(t, existed1)
	assert.Equal(t, 100, v1)

	v2, existed2 := c.CheckAndInsert("nonce-1", 200)
	assert.True(t, existed2)
	assert.Equal(t, 100, v2)
}

func TestRemove(t *testing.T) {
	c := New[string, int](4, time.Minute)
	c.Add("a", 1)
	c.Remove("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
}
