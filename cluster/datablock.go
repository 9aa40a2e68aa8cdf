// Package cluster holds the process-local representations of the entities
// that can cross a policy-domain boundary: data-block metadata and its
// proxy cache, task-template metadata and its proxy clone queue, and the
// lightweight Event/Task/Hint records. Compare cluster.LOM (Local Object
// Metadata) in the teacher: same role -- a pooled, locked, locally-owned
// record describing one remotely-nameable object.
/*
 * Copyright (c) 2024, ARTS-EDT Project. All rights reserved.
 */
package cluster

import (
	"sync"

	"github.com/arts-edt/corepd/guid"
)

// DataBlock is the local, canonical metadata for a data block. Only the
// creator's policy domain ever owns this record; every other domain that
// references the block holds a ProxyDb instead.
type DataBlock struct {
	Guid            guid.Guid
	Size            uint64
	Ptr             []byte
	Flags           uint32
	CreatorLocation guid.Location
	Hint            guid.Guid
}

var dataBlockPool = sync.Pool{New: func() interface{} { return &DataBlock{} }}

// AllocDataBlock mirrors the teacher's AllocLOM: pull a zeroed record from
// the pool instead of allocating fresh on every DB_CREATE.
func AllocDataBlock() *DataBlock {
	db := dataBlockPool.Get().(*DataBlock)
	*db = DataBlock{}
	return db
}

func FreeDataBlock(db *DataBlock) {
	db.Ptr = nil
	dataBlockPool.Put(db)
}

// Table is the home domain's registry of locally owned data blocks, keyed
// by Guid. It is a single map under one RWMutex (unlike the sharded
// guid.Registry) and stores the full record rather than a handle, since on the home domain the canonical
// metadata *is* the locally materialised object.
type Table struct {
	mu   sync.RWMutex
	rows map[guid.Guid]*DataBlock
}

func NewTable() *Table { return &Table{rows: make(map[guid.Guid]*DataBlock, 256)} }

func (t *Table) Put(db *DataBlock) {
	t.mu.Lock()
	t.rows[db.Guid] = db
	t.mu.Unlock()
}

func (t *Table) Get(g guid.Guid) (*DataBlock, bool) {
	t.mu.RLock()
	db, ok := t.rows[g]
	t.mu.RUnlock()
	return db, ok
}

// Delete removes a data block's canonical record. Returns false if it was
// never present (already destroyed), which the dispatcher surfaces as
// EINVAL to a double-destroy or an acquire racing a destroy.
func (t *Table) Delete(g guid.Guid) bool {
	t.mu.Lock()
	db, ok := t.rows[g]
	delete(t.rows, g)
	t.mu.Unlock()
	if ok {
		FreeDataBlock(db)
	}
	return ok
}
