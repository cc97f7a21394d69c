package memory

import (
	"github.com/elliotchance/orderedmap"

	"github.com/bitswarm/tracker/bittorrent"
)

// peerEntry is the value stored per key in a peerTable.
type peerEntry struct {
	peer  bittorrent.Peer
	mtime int64 // unix nano, last touched
}

// peerTable is an insertion-ordered PeerIDKey -> peerEntry map. Insertion
// order must be preserved across updates so that the announce peer-selection
// algorithm's round-robin offset walks a stable sequence.
type peerTable struct {
	m *orderedmap.OrderedMap
}

func newPeerTable() *peerTable {
	return &peerTable{m: orderedmap.NewOrderedMap()}
}

func (t *peerTable) set(key bittorrent.PeerIDKey, e peerEntry) {
	t.m.Set(string(key), e)
}

func (t *peerTable) get(key bittorrent.PeerIDKey) (peerEntry, bool) {
	v, ok := t.m.Get(string(key))
	if !ok {
		return peerEntry{}, false
	}
	return v.(peerEntry), true
}

func (t *peerTable) delete(key bittorrent.PeerIDKey) bool {
	return t.m.Delete(string(key))
}

func (t *peerTable) len() int {
	return t.m.Len()
}

// forEachFrom walks the table's insertion order starting at offset (mod
// len), wrapping around once, calling proc for every live entry until it
// returns false or every entry has been visited.
func (t *peerTable) forEachFrom(offset int, proc func(bittorrent.PeerIDKey, bittorrent.Peer) bool) {
	n := t.m.Len()
	if n == 0 {
		return
	}

	keys := make([]interface{}, 0, n)
	for el := t.m.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Key)
	}

	start := offset % n
	if start < 0 {
		start += n
	}

	for i := 0; i < n; i++ {
		k := keys[(start+i)%n]
		v, ok := t.m.Get(k)
		if !ok {
			continue
		}
		e := v.(peerEntry)
		if !proc(bittorrent.PeerIDKey(k.(string)), e.peer) {
			return
		}
	}
}

// removeExpired deletes every entry last touched at or before cutoff,
// returning the number removed.
func (t *peerTable) removeExpired(cutoff int64) int {
	var stale []interface{}
	for el := t.m.Front(); el != nil; el = el.Next() {
		if el.Value.(peerEntry).mtime <= cutoff {
			stale = append(stale, el.Key)
		}
	}
	for _, k := range stale {
		t.m.Delete(k)
	}
	return len(stale)
}
