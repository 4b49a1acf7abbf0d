package state

import "sort"

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// Snapshot returns an identifier for the current set of uncommitted writes.
// Passing it to RevertToSnapshot discards every write made afterwards.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes all uncommitted writes performed after the snapshot
// was taken. Unknown or stale identifiers are ignored.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:id]
}

// Pending reports the number of keys written since the last commit.
func (m *Manager) Pending() int {
	return len(m.dirty)
}

// Commit flushes all uncommitted writes to the backing database in a single
// batch and clears the journal. Outstanding snapshot identifiers become
// invalid.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	keys := make([]string, 0, len(m.dirty))
	for key := range m.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := m.db.NewBatch()
	for _, key := range keys {
		batch.Put([]byte(key), m.dirty[key])
	}
	if err := batch.Write(); err != nil {
		return err
	}
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

// Discard drops every uncommitted write.
func (m *Manager) Discard() {
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
}
