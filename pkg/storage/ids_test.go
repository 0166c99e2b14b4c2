package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameIDMapperInternsOnce(t *testing.T) {
	m := NewNameIDMapper()
	id1 := m.NameToID("Person")
	id2 := m.NameToID("Person")
	assert.Equal(t, id1, id2)

	id3 := m.NameToID("Company")
	assert.NotEqual(t, id1, id3)

	name, ok := m.IDToName(id1)
	assert.True(t, ok)
	assert.Equal(t, "Person", name)

	assert.Equal(t, 2, m.Len())
}

func TestNameIDMapperLookupMiss(t *testing.T) {
	m := NewNameIDMapper()
	_, ok := m.LookupID("nope")
	assert.False(t, ok)

	_, ok = m.IDToName(99)
	assert.False(t, ok)
}

func TestNameIDMapperConcurrentInsert(t *testing.T) {
	m := NewNameIDMapper()
	var wg sync.WaitGroup
	names := []string{"A", "B", "C", "D", "E"}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.NameToID(names[i%len(names)])
		}(i)
	}
	wg.Wait()
	assert.Equal(t, len(names), m.Len())

	seen := map[uint64]bool{}
	for _, n := range names {
		id, ok := m.LookupID(n)
		assert.True(t, ok)
		assert.False(t, seen[id], "duplicate id assigned")
		seen[id] = true
	}
}

func TestNameIDMapperEachInIDOrder(t *testing.T) {
	m := NewNameIDMapper()
	m.NameToID("first")
	m.NameToID("second")
	m.NameToID("third")

	var order []string
	m.Each(func(id uint64, name string) {
		order = append(order, name)
	})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestNameIDMapperRestore(t *testing.T) {
	m := NewNameIDMapper()
	m.Restore(0, "zero")
	m.Restore(2, "two")
	m.Restore(1, "one")

	name, ok := m.IDToName(1)
	assert.True(t, ok)
	assert.Equal(t, "one", name)

	id, ok := m.LookupID("two")
	assert.True(t, ok)
	assert.Equal(t, uint64(2), id)
	assert.Equal(t, 3, m.Len())
}
