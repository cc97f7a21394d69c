package bittorrent

// PeerIDKey is the key under which a Peer is stored inside a swarm's peer
// tables: the 20-byte PeerID concatenated with an optional client-supplied
// identity key (the "key" announce parameter). Two announces from the same
// PeerID but a different user key are treated as distinct table entries,
// matching how real clients rotate their key across NAT rebinds while
// wanting to be recognized as "the same" peer by cooperative trackers.
//
// PeerIDKey has a total order over its raw bytes, used only for deterministic
// test fixtures; swarm tables themselves are insertion-ordered maps.
type PeerIDKey string

// DefaultKeyLength is the number of raw bytes kept from a hex-decoded "key"
// parameter when none is supplied by configuration.
const DefaultKeyLength = 4

// NewPeerIDKey builds a PeerIDKey from a PeerID and an optional user key. A
// nil or empty userKey yields a PeerIDKey equal to the bare PeerID.
func NewPeerIDKey(id PeerID, userKey []byte) PeerIDKey {
	if len(userKey) == 0 {
		return PeerIDKey(id[:])
	}

	buf := make([]byte, 0, len(id)+len(userKey))
	buf = append(buf, id[:]...)
	buf = append(buf, userKey...)
	return PeerIDKey(buf)
}

// Less gives PeerIDKey a total order over its raw bytes.
func (k PeerIDKey) Less(other PeerIDKey) bool { return k < other }
