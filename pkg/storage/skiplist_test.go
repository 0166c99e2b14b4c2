package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkipListInsertFind(t *testing.T) {
	sl := NewSkipList[string]()
	assert.True(t, sl.Insert(GID(3), "three"))
	assert.True(t, sl.Insert(GID(1), "one"))
	assert.True(t, sl.Insert(GID(2), "two"))

	v, ok := sl.Find(GID(2))
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	_, ok = sl.Find(GID(99))
	assert.False(t, ok)

	assert.Equal(t, 3, sl.Len())
}

func TestSkipListInsertDuplicateRejected(t *testing.T) {
	sl := NewSkipList[int]()
	assert.True(t, sl.Insert(GID(1), 10))
	assert.False(t, sl.Insert(GID(1), 20))

	v, _ := sl.Find(GID(1))
	assert.Equal(t, 10, v)
	assert.Equal(t, 1, sl.Len())
}

func TestSkipListRangeAscending(t *testing.T) {
	sl := NewSkipList[int]()
	gids := []GID{5, 1, 4, 2, 3}
	for _, g := range gids {
		sl.Insert(g, int(g))
	}

	var seen []GID
	sl.Range(func(gid GID, val int) bool {
		seen = append(seen, gid)
		return true
	})
	assert.Equal(t, []GID{1, 2, 3, 4, 5}, seen)
}

func TestSkipListRangeEarlyStop(t *testing.T) {
	sl := NewSkipList[int]()
	for i := GID(1); i <= 10; i++ {
		sl.Insert(i, int(i))
	}
	count := 0
	sl.Range(func(gid GID, val int) bool {
		count++
		return gid < 3
	})
	assert.Equal(t, 3, count) // stops once it returns false for gid=3
}

func TestSkipListDelete(t *testing.T) {
	sl := NewSkipList[int]()
	sl.Insert(GID(1), 1)
	sl.Insert(GID(2), 2)

	assert.True(t, sl.Delete(GID(1)))
	assert.False(t, sl.Delete(GID(1)))

	_, ok := sl.Find(GID(1))
	assert.False(t, ok)
	assert.Equal(t, 1, sl.Len())
}

func TestSkipListMax(t *testing.T) {
	sl := NewSkipList[int]()
	_, ok := sl.Max()
	assert.False(t, ok)

	sl.Insert(GID(7), 7)
	sl.Insert(GID(42), 42)
	sl.Insert(GID(3), 3)

	max, ok := sl.Max()
	assert.True(t, ok)
	assert.Equal(t, GID(42), max)
}

func TestSkipListConcurrentInsertAndFind(t *testing.T) {
	sl := NewSkipList[int]()
	var wg sync.WaitGroup
	const n = 200
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sl.Insert(GID(i), i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, sl.Len())
	for i := 0; i < n; i++ {
		v, ok := sl.Find(GID(i))
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}
}
