package store

import (
	"fmt"
	"slices"
	"sort"

	"github.com/signadot/ydoc/lib0"
)

// ID identifies one clock tick of one client.
type ID struct {
	Client uint64
	Clock  uint32
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Client, id.Clock)
}

// StateVector maps each client to the number of clock ticks known for it.
type StateVector map[uint64]uint32

// Get returns the state of client, 0 if unknown.
func (sv StateVector) Get(client uint64) uint32 {
	return sv[client]
}

// Contains reports whether sv covers id.
func (sv StateVector) Contains(id ID) bool {
	return id.Clock < sv[id.Client]
}

func sortedClients[V any](m map[uint64]V) []uint64 {
	clients := make([]uint64, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	// higher clients first
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })
	return clients
}

// Encode writes sv in lib0 v1 form.
func (sv StateVector) Encode() []byte {
	enc := lib0.NewEncoder()
	sv.encodeTo(enc)
	return enc.Bytes()
}

func (sv StateVector) encodeTo(enc *lib0.Encoder) {
	enc.WriteVarUint(uint64(len(sv)))
	for _, c := range sortedClients(sv) {
		enc.WriteVarUint(c)
		enc.WriteVarUint(uint64(sv[c]))
	}
}

// DecodeStateVector parses an encoded state vector. An empty input is
// the empty state vector.
func DecodeStateVector(data []byte) (StateVector, error) {
	sv := StateVector{}
	if len(data) == 0 {
		return sv, nil
	}
	dec := lib0.NewDecoder(data)
	n, err := dec.ReadLen()
	if err != nil {
		return nil, fmt.Errorf("%w: state vector length: %w", ErrMalformedUpdate, err)
	}
	for range n {
		c, err := dec.ReadVarUint()
		if err != nil {
			return nil, fmt.Errorf("%w: state vector client: %w", ErrMalformedUpdate, err)
		}
		clock, err := dec.ReadVarUint32()
		if err != nil {
			return nil, fmt.Errorf("%w: state vector clock: %w", ErrMalformedUpdate, err)
		}
		sv[c] = clock
	}
	if dec.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after state vector", ErrMalformedUpdate, dec.Remaining())
	}
	return sv, nil
}

// Range is a run of clock ticks [Clock, Clock+Len).
type Range struct {
	Clock uint32
	Len   uint32
}

func (r Range) End() uint32 { return r.Clock + r.Len }

// DeleteSet records deleted clock ranges per client.
type DeleteSet map[uint64][]Range

// Add records [clock, clock+n) of client as deleted.
func (ds DeleteSet) Add(client uint64, clock, n uint32) {
	if n == 0 {
		return
	}
	rs := ds[client]
	if k := len(rs); k > 0 && rs[k-1].End() == clock {
		rs[k-1].Len += n
		return
	}
	ds[client] = append(rs, Range{Clock: clock, Len: n})
}

// Normalize sorts and merges the ranges of every client.
func (ds DeleteSet) Normalize() {
	for c, rs := range ds {
		slices.SortFunc(rs, func(a, b Range) int {
			switch {
			case a.Clock < b.Clock:
				return -1
			case a.Clock > b.Clock:
				return 1
			}
			return 0
		})
		out := rs[:0]
		for _, r := range rs {
			if k := len(out); k > 0 && out[k-1].End() >= r.Clock {
				if r.End() > out[k-1].End() {
					out[k-1].Len = r.End() - out[k-1].Clock
				}
				continue
			}
			out = append(out, r)
		}
		ds[c] = out
	}
}

// Contains reports whether id falls in a deleted range. ds must be
// normalized.
func (ds DeleteSet) Contains(id ID) bool {
	rs := ds[id.Client]
	i := sort.Search(len(rs), func(i int) bool { return rs[i].End() > id.Clock })
	return i < len(rs) && rs[i].Clock <= id.Clock
}

// Merge adds every range of other to ds.
func (ds DeleteSet) Merge(other DeleteSet) {
	for c, rs := range other {
		ds[c] = append(ds[c], rs...)
	}
	ds.Normalize()
}

// Empty reports whether ds holds no ranges.
func (ds DeleteSet) Empty() bool {
	for _, rs := range ds {
		if len(rs) > 0 {
			return false
		}
	}
	return true
}

func (ds DeleteSet) encodeTo(enc *lib0.Encoder) {
	clients := sortedClients(ds)
	n := 0
	for _, c := range clients {
		if len(ds[c]) > 0 {
			n++
		}
	}
	enc.WriteVarUint(uint64(n))
	for _, c := range clients {
		rs := ds[c]
		if len(rs) == 0 {
			continue
		}
		enc.WriteVarUint(c)
		enc.WriteVarUint(uint64(len(rs)))
		for _, r := range rs {
			enc.WriteVarUint(uint64(r.Clock))
			enc.WriteVarUint(uint64(r.Len))
		}
	}
}

func decodeDeleteSet(dec *lib0.Decoder) (DeleteSet, error) {
	ds := DeleteSet{}
	n, err := dec.ReadLen()
	if err != nil {
		return nil, err
	}
	for range n {
		c, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		k, err := dec.ReadLen()
		if err != nil {
			return nil, err
		}
		for range k {
			clock, err := dec.ReadVarUint32()
			if err != nil {
				return nil, err
			}
			l, err := dec.ReadVarUint32()
			if err != nil {
				return nil, err
			}
			if uint64(clock)+uint64(l) > 1<<32-1 {
				return nil, fmt.Errorf("delete range %d+%d overflows", clock, l)
			}
			ds.Add(c, clock, l)
		}
	}
	ds.Normalize()
	return ds, nil
}
