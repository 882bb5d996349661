// Package memtable provides the in-memory ordered table committed batches
// are applied to before they reach an SSTable. It is a skiplist keyed by
// raw bytes; deletes are stored as tombstones so a removed key shadows any
// older value still living in a table file.
package memtable

import (
	"math/rand"
	"sync"
)

// maxHeight bounds the skiplist tower height.
const maxHeight = 16

// Record is one entry of the table.
type Record struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// node spans levels 0..len(next)-1; next[i] points to the next node at
// level i. Keys are kept as strings so comparisons are allocation-free.
type node struct {
	key       string
	value     []byte
	tombstone bool
	next      []*node
}

// MemTable is a thread-safe ordered map with tombstones.
type MemTable struct {
	mu      sync.RWMutex
	head    *node
	height  int
	entries int
	size    int
}

// New creates an empty memtable.
func New() *MemTable {
	return &MemTable{
		head:   &node{next: make([]*node, maxHeight)},
		height: 1,
	}
}

// roll picks a random tower height for a new node.
func roll() int {
	height := 1
	for rand.Int31n(2) == 1 && height < maxHeight {
		height++
	}
	return height
}

// findPath returns the last node before key at every level.
func (mt *MemTable) findPath(key string) []*node {
	path := make([]*node, maxHeight)
	current := mt.head
	for i := mt.height - 1; i >= 0; i-- {
		for current.next[i] != nil && current.next[i].key < key {
			current = current.next[i]
		}
		path[i] = current
	}
	return path
}

func (mt *MemTable) put(key string, value []byte, tombstone bool) {
	path := mt.findPath(key)

	if target := path[0].next[0]; target != nil && target.key == key {
		mt.size += len(value) - len(target.value)
		target.value = value
		target.tombstone = tombstone
		return
	}

	height := roll()
	if height > mt.height {
		for i := mt.height; i < height; i++ {
			path[i] = mt.head
		}
		mt.height = height
	}

	newNode := &node{
		key:       key,
		value:     value,
		tombstone: tombstone,
		next:      make([]*node, height),
	}
	for i := 0; i < height; i++ {
		newNode.next[i] = path[i].next[i]
		path[i].next[i] = newNode
	}
	mt.entries++
	mt.size += len(key) + len(value)
}

// Set stores value under key.
func (mt *MemTable) Set(key, value []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.put(string(key), append([]byte(nil), value...), false)
}

// Delete stores a tombstone under key.
func (mt *MemTable) Delete(key []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.put(string(key), nil, true)
}

// Get looks up key. tombstone reports a key that was found deleted; found
// is false only when the memtable holds nothing for the key at all.
func (mt *MemTable) Get(key []byte) (value []byte, tombstone bool, found bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	target := string(key)
	current := mt.head
	for i := mt.height - 1; i >= 0; i-- {
		for current.next[i] != nil && current.next[i].key < target {
			current = current.next[i]
		}
	}
	if hit := current.next[0]; hit != nil && hit.key == target {
		return hit.value, hit.tombstone, true
	}
	return nil, false, false
}

// Len returns the number of entries, tombstones included.
func (mt *MemTable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.entries
}

// ApproximateSize returns the rough byte footprint of keys and values.
func (mt *MemTable) ApproximateSize() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.size
}

// Records returns a snapshot of all entries in ascending key order.
func (mt *MemTable) Records() []Record {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	records := make([]Record, 0, mt.entries)
	for current := mt.head.next[0]; current != nil; current = current.next[0] {
		records = append(records, Record{
			Key:       []byte(current.key),
			Value:     current.value,
			Tombstone: current.tombstone,
		})
	}
	return records
}
