// Copyright 2016 Jimmy Zelinskie
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bittorrent implements the primitives shared by every BitTorrent
// tracker frontend and storage backend: infohashes, peer identity, and the
// announce/scrape request and response shapes.
package bittorrent

import (
	"net/netip"
	"time"
)

// PeerID represents the 20-byte identifier a client chooses for itself.
type PeerID [20]byte

// PeerIDFromBytes creates a PeerID from a byte slice.
//
// It panics if b is not 20 bytes long.
func PeerIDFromBytes(b []byte) PeerID {
	if len(b) != 20 {
		panic("peer ID must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], b)
	return PeerID(buf)
}

// PeerIDFromString creates a PeerID from a string.
//
// It panics if s is not 20 bytes long.
func PeerIDFromString(s string) PeerID {
	if len(s) != 20 {
		panic("peer ID must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return PeerID(buf)
}

// InfoHash represents the 20-byte SHA-1 digest identifying a torrent.
type InfoHash [20]byte

// InfoHashFromBytes creates an InfoHash from a byte slice.
//
// It panics if b is not 20 bytes long.
func InfoHashFromBytes(b []byte) InfoHash {
	if len(b) != 20 {
		panic("infohash must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], b)
	return InfoHash(buf)
}

// InfoHashFromString creates an InfoHash from a string.
//
// It panics if s is not 20 bytes long.
func InfoHashFromString(s string) InfoHash {
	if len(s) != 20 {
		panic("infohash must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return InfoHash(buf)
}

// String implements Stringer, rendering the infohash as raw bytes.
func (i InfoHash) String() string { return string(i[:]) }

// Less gives InfoHash a lexicographic total order, as required for sorted
// bencode dictionary output and for deterministic shard/slice boundaries.
func (i InfoHash) Less(other InfoHash) bool {
	for idx := range i {
		if i[idx] != other[idx] {
			return i[idx] < other[idx]
		}
	}
	return false
}

// AddressFamily identifies whether a Peer's address is IPv4 or IPv6. Every
// stored Peer belongs to exactly one family; a dual-stack client that
// announces from both ends up as two distinct Peer entries, one per family.
type AddressFamily uint8

const (
	// IPv4 identifies a 4-byte address.
	IPv4 AddressFamily = iota
	// IPv6 identifies a 16-byte address.
	IPv6
)

// String implements Stringer for AddressFamily.
func (f AddressFamily) String() string {
	switch f {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return "Unknown"
	}
}

// Family reports the AddressFamily of addr: plain IPv4 and 4-in-6 addresses
// are IPv4, every other IPv6 address is IPv6. It panics only for an invalid
// (zero) netip.Addr.
func Family(addr netip.Addr) AddressFamily {
	switch {
	case addr.Is4(), addr.Is4In6():
		return IPv4
	case addr.Is6():
		return IPv6
	default:
		panic("bittorrent: address is neither IPv4 nor IPv6")
	}
}

// Peer represents the connection details of a peer participating in a swarm.
type Peer struct {
	ID       PeerID
	AddrPort netip.AddrPort
}

// Family reports which AddressFamily table a Peer belongs in.
func (p Peer) Family() AddressFamily { return Family(p.AddrPort.Addr()) }

// Equal reports whether p and x represent the same peer: same ID and same
// endpoint.
func (p Peer) Equal(x Peer) bool { return p.EqualEndpoint(x) && p.ID == x.ID }

// EqualEndpoint reports whether p and x have the same network endpoint.
func (p Peer) EqualEndpoint(x Peer) bool { return p.AddrPort == x.AddrPort }

// PeerType classifies a Peer's role in a swarm at the moment of an announce.
type PeerType uint8

const (
	// Leecher holds an incomplete copy of the torrent's data (left > 0).
	Leecher PeerType = iota
	// Seeder holds a complete copy of the torrent's data (left == 0).
	Seeder
	// Partial holds an incomplete copy it is willing to share but has
	// paused active transfer.
	Partial
)

// String implements Stringer for PeerType.
func (t PeerType) String() string {
	switch t {
	case Seeder:
		return "seeder"
	case Partial:
		return "partial seed"
	default:
		return "leecher"
	}
}

// AnnounceRequest represents the parsed parameters of an Announce.
type AnnounceRequest struct {
	Event      Event
	InfoHash   InfoHash
	Compact    bool
	NoPeerID   bool
	NumWant    uint32
	HasNumWant bool
	Left       uint64
	Downloaded uint64
	Uploaded   uint64
	Key        string

	Peer
	Params
}

// AnnounceResponse represents the fields used to build an Announce response.
type AnnounceResponse struct {
	Compact     bool
	NoPeerID    bool
	Complete    int32
	Incomplete  int32
	Interval    time.Duration
	MinInterval time.Duration
	IPv4Peers   []Peer
	IPv6Peers   []Peer
}

// ScrapeRequest represents the parsed parameters of a Scrape. An empty
// InfoHashes slice requests a full scrape.
type ScrapeRequest struct {
	InfoHashes    []InfoHash
	AddressFamily AddressFamily
	Params        Params
}

// ScrapeResponse represents the fields used to build a Scrape response.
type ScrapeResponse struct {
	Files map[InfoHash]Scrape
}

// Scrape represents the aggregate state of a swarm returned by a scrape.
type Scrape struct {
	Complete   uint32
	Incomplete uint32
	Downloaded uint32
}

// ClientError represents an error that is safe and meaningful to expose to
// the requesting BitTorrent client over the wire, as opposed to an
// infrastructure failure which should only ever be logged.
type ClientError string

// Error implements the error interface for ClientError.
func (c ClientError) Error() string { return string(c) }
