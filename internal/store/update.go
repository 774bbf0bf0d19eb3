package store

import (
	"fmt"
	"math"
	"sort"

	"github.com/signadot/ydoc/lib0"
	"github.com/signadot/ydoc/value"
)

const (
	infoOrigin      = 0x80
	infoRightOrigin = 0x40
	infoParentSub   = 0x20
	infoRefMask     = 0x1f
)

// EncodeStateAsUpdate encodes everything the store holds beyond sv,
// followed by the complete delete set. A nil sv encodes the whole
// store.
func (s *Store) EncodeStateAsUpdate(sv StateVector) []byte {
	enc := lib0.NewEncoder()
	s.writeStructs(enc, sv)
	s.DeleteSet().encodeTo(enc)
	return enc.Bytes()
}

// EncodeUpdate encodes the changes made by t.
func (t *Txn) EncodeUpdate() []byte {
	enc := lib0.NewEncoder()
	t.store.writeStructs(enc, t.before)
	t.deleted.Normalize()
	t.deleted.encodeTo(enc)
	return enc.Bytes()
}

func (s *Store) writeStructs(enc *lib0.Encoder, from StateVector) {
	var clients []uint64
	for _, c := range sortedClients(s.clients) {
		if s.State(c) > from[c] {
			clients = append(clients, c)
		}
	}
	enc.WriteVarUint(uint64(len(clients)))
	for _, c := range clients {
		items := s.clients[c]
		start := from[c]
		i := findIndex(items, start)
		if i < 0 {
			// clients always start at clock 0
			i = 0
			start = items[0].ID.Clock
		}
		enc.WriteVarUint(uint64(len(items) - i))
		enc.WriteVarUint(c)
		enc.WriteVarUint(uint64(start))
		writeItem(enc, items[i], start-items[i].ID.Clock)
		for _, it := range items[i+1:] {
			writeItem(enc, it, 0)
		}
	}
}

func writeItem(enc *lib0.Encoder, it *Item, offset uint32) {
	if it.isGC() {
		enc.WriteUint8(refGC)
		enc.WriteVarUint(uint64(it.Len - offset))
		return
	}
	origin := it.Origin
	if offset > 0 {
		origin = &ID{Client: it.ID.Client, Clock: it.ID.Clock + offset - 1}
	}
	info := it.Content.ref() & infoRefMask
	if origin != nil {
		info |= infoOrigin
	}
	if it.RightOrigin != nil {
		info |= infoRightOrigin
	}
	if it.Keyed {
		info |= infoParentSub
	}
	enc.WriteUint8(info)
	if origin != nil {
		writeID(enc, *origin)
	}
	if it.RightOrigin != nil {
		writeID(enc, *it.RightOrigin)
	}
	if origin == nil && it.RightOrigin == nil {
		if p := it.Parent; p.Item == nil {
			enc.WriteVarUint(1)
			enc.WriteString(p.Name)
		} else {
			enc.WriteVarUint(0)
			writeID(enc, p.Item.ID)
		}
		if it.Keyed {
			enc.WriteString(it.Key)
		}
	}
	writeContent(enc, it.Content, offset)
}

func writeID(enc *lib0.Encoder, id ID) {
	enc.WriteVarUint(id.Client)
	enc.WriteVarUint(uint64(id.Clock))
}

func jsonText(a value.Any) string {
	if a.Type == value.UndefinedType {
		return "undefined"
	}
	d, err := value.ToJSON(a)
	if err != nil {
		return "null"
	}
	return string(d)
}

func writeContent(enc *lib0.Encoder, c Content, offset uint32) {
	switch x := c.(type) {
	case *DeletedContent:
		enc.WriteVarUint(uint64(x.N - offset))
	case *JSONContent:
		enc.WriteVarUint(1)
		enc.WriteString(jsonText(x.Value))
	case *BinaryContent:
		enc.WriteVarBytes(x.Data)
	case *StringContent:
		if offset > 0 {
			// the tail of a split surrogate pair
			enc.WriteString("\uFFFD")
		} else {
			enc.WriteString(string(x.Rune))
		}
	case *EmbedContent:
		enc.WriteString(jsonText(x.Value))
	case *FormatContent:
		enc.WriteString(x.Key)
		enc.WriteString(jsonText(x.Value))
	case *TypeContent:
		enc.WriteVarUint(uint64(x.Branch.Kind()))
		if k := x.Branch.Kind(); k == TypeXMLElement || k == TypeXMLHook {
			enc.WriteString(x.Branch.NodeName)
		}
	case *AnyContent:
		enc.WriteVarUint(1)
		enc.WriteAny(x.Value)
	case *DocContent:
		enc.WriteString(x.GUID)
		enc.WriteAny(x.Opts)
	case *MoveContent:
		// collapsed range, start associated after
		flags := uint64(1 | 2)
		if x.Priority > 0 {
			flags |= uint64(x.Priority) << 6
		}
		enc.WriteVarUint(flags)
		writeID(enc, x.Target)
	}
}

// pendingStruct is a decoded struct waiting to be integrated.
type pendingStruct struct {
	id          ID
	len         uint32
	origin      *ID
	rightOrigin *ID

	parentName    string
	hasParentName bool
	parentID      *ID
	key           string
	keyed         bool

	content Content
	gc      bool
}

// trim drops the first diff ticks of a multi-tick struct.
func (p *pendingStruct) trim(diff uint32) bool {
	switch c := p.content.(type) {
	case *DeletedContent:
		c.N -= diff
	default:
		if !p.gc {
			return false
		}
	}
	p.id.Clock += diff
	p.len -= diff
	o := ID{Client: p.id.Client, Clock: p.id.Clock - 1}
	p.origin = &o
	return true
}

func (p *pendingStruct) deps() []ID {
	var ds []ID
	if p.origin != nil {
		ds = append(ds, *p.origin)
	}
	if p.rightOrigin != nil {
		ds = append(ds, *p.rightOrigin)
	}
	if p.parentID != nil {
		ds = append(ds, *p.parentID)
	}
	if m, ok := p.content.(*MoveContent); ok {
		ds = append(ds, m.Target)
	}
	return ds
}

func readID(dec *lib0.Decoder) (ID, error) {
	c, err := dec.ReadVarUint()
	if err != nil {
		return ID{}, err
	}
	clock, err := dec.ReadVarUint32()
	if err != nil {
		return ID{}, err
	}
	return ID{Client: c, Clock: clock}, nil
}

// decodeUpdate parses a complete update. Multi-element structs are split
// into one pending struct per element.
func decodeUpdate(data []byte) (map[uint64][]*pendingStruct, DeleteSet, error) {
	dec := lib0.NewDecoder(data)
	res := map[uint64][]*pendingStruct{}
	nclients, err := dec.ReadLen()
	if err != nil {
		return nil, nil, fmt.Errorf("client count: %w", err)
	}
	for range nclients {
		nstructs, err := dec.ReadLen()
		if err != nil {
			return nil, nil, fmt.Errorf("struct count: %w", err)
		}
		client, err := dec.ReadVarUint()
		if err != nil {
			return nil, nil, fmt.Errorf("client: %w", err)
		}
		clock, err := dec.ReadVarUint32()
		if err != nil {
			return nil, nil, fmt.Errorf("clock: %w", err)
		}
		for range nstructs {
			ps, n, err := decodeStruct(dec, ID{Client: client, Clock: clock})
			if err != nil {
				return nil, nil, fmt.Errorf("struct %d:%d: %w", client, clock, err)
			}
			if uint64(clock)+uint64(n) > math.MaxUint32 {
				return nil, nil, fmt.Errorf("clock overflow for client %d", client)
			}
			clock += n
			res[client] = append(res[client], ps...)
		}
	}
	ds, err := decodeDeleteSet(dec)
	if err != nil {
		return nil, nil, fmt.Errorf("delete set: %w", err)
	}
	if dec.Remaining() != 0 {
		return nil, nil, fmt.Errorf("%d trailing bytes", dec.Remaining())
	}
	return res, ds, nil
}

func decodeStruct(dec *lib0.Decoder, id ID) ([]*pendingStruct, uint32, error) {
	info, err := dec.ReadUint8()
	if err != nil {
		return nil, 0, err
	}
	switch info & infoRefMask {
	case refGC:
		n, err := dec.ReadVarUint32()
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			return nil, 0, fmt.Errorf("empty gc struct")
		}
		return []*pendingStruct{{id: id, len: n, gc: true}}, n, nil
	case refSkip:
		n, err := dec.ReadVarUint32()
		if err != nil {
			return nil, 0, err
		}
		return nil, n, nil
	}
	p := &pendingStruct{id: id}
	if info&infoOrigin != 0 {
		o, err := readID(dec)
		if err != nil {
			return nil, 0, err
		}
		p.origin = &o
	}
	if info&infoRightOrigin != 0 {
		o, err := readID(dec)
		if err != nil {
			return nil, 0, err
		}
		p.rightOrigin = &o
	}
	if info&(infoOrigin|infoRightOrigin) == 0 {
		isName, err := dec.ReadVarUint()
		if err != nil {
			return nil, 0, err
		}
		if isName == 1 {
			p.parentName, err = dec.ReadString()
			if err != nil {
				return nil, 0, err
			}
			p.hasParentName = true
		} else {
			pid, err := readID(dec)
			if err != nil {
				return nil, 0, err
			}
			p.parentID = &pid
		}
		if info&infoParentSub != 0 {
			p.key, err = dec.ReadString()
			if err != nil {
				return nil, 0, err
			}
			p.keyed = true
		}
	}
	cs, err := decodeContent(dec, info&infoRefMask)
	if err != nil {
		return nil, 0, err
	}
	// one pending struct per element, each after the previous one
	res := make([]*pendingStruct, 0, len(cs))
	clock := id.Clock
	for i, c := range cs {
		q := *p
		q.id = ID{Client: id.Client, Clock: clock}
		q.content = c
		q.len = contentLen(c)
		if i > 0 {
			o := ID{Client: id.Client, Clock: clock - 1}
			q.origin = &o
		}
		if uint64(clock)+uint64(q.len) > math.MaxUint32 {
			return nil, 0, fmt.Errorf("clock overflow")
		}
		clock += q.len
		res = append(res, &q)
	}
	return res, clock - id.Clock, nil
}

func parseJSONText(s string) (value.Any, error) {
	if s == "undefined" {
		return value.Undefined(), nil
	}
	return value.FromJSON([]byte(s))
}

func decodeContent(dec *lib0.Decoder, ref uint8) ([]Content, error) {
	switch ref {
	case refDeleted:
		n, err := dec.ReadVarUint32()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("empty deleted struct")
		}
		return []Content{&DeletedContent{N: n}}, nil
	case refJSON:
		n, err := dec.ReadLen()
		if err != nil {
			return nil, err
		}
		cs := make([]Content, 0, n)
		for range n {
			s, err := dec.ReadString()
			if err != nil {
				return nil, err
			}
			v, err := parseJSONText(s)
			if err != nil {
				return nil, fmt.Errorf("json content: %w", err)
			}
			cs = append(cs, &JSONContent{Value: v})
		}
		return nonEmpty(cs)
	case refBinary:
		p, err := dec.ReadVarBytes()
		if err != nil {
			return nil, err
		}
		return []Content{&BinaryContent{Data: p}}, nil
	case refString:
		s, err := dec.ReadString()
		if err != nil {
			return nil, err
		}
		cs := make([]Content, 0, len(s))
		for _, r := range s {
			cs = append(cs, &StringContent{Rune: r})
		}
		return nonEmpty(cs)
	case refEmbed:
		s, err := dec.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := parseJSONText(s)
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		return []Content{&EmbedContent{Value: v}}, nil
	case refFormat:
		k, err := dec.ReadString()
		if err != nil {
			return nil, err
		}
		s, err := dec.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := parseJSONText(s)
		if err != nil {
			return nil, fmt.Errorf("format content: %w", err)
		}
		return []Content{&FormatContent{Key: k, Value: v}}, nil
	case refType:
		k, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		b := NewBranch(TypeRef(k))
		switch TypeRef(k) {
		case TypeArray, TypeMap, TypeText, TypeXMLFragment, TypeXMLText:
		case TypeXMLElement, TypeXMLHook:
			if b.NodeName, err = dec.ReadString(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown type ref %d", k)
		}
		return []Content{&TypeContent{Branch: b}}, nil
	case refAny:
		n, err := dec.ReadLen()
		if err != nil {
			return nil, err
		}
		cs := make([]Content, 0, n)
		for range n {
			v, err := dec.ReadAny()
			if err != nil {
				return nil, err
			}
			cs = append(cs, &AnyContent{Value: v})
		}
		return nonEmpty(cs)
	case refDoc:
		guid, err := dec.ReadString()
		if err != nil {
			return nil, err
		}
		opts, err := dec.ReadAny()
		if err != nil {
			return nil, err
		}
		return []Content{&DocContent{GUID: guid, Opts: opts}}, nil
	case refMove:
		flags, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		start, err := readID(dec)
		if err != nil {
			return nil, err
		}
		if flags&1 == 0 {
			// ranged moves are reduced to their first element
			if _, err := readID(dec); err != nil {
				return nil, err
			}
		}
		return []Content{&MoveContent{Target: start, Priority: int32(flags >> 6)}}, nil
	}
	return nil, fmt.Errorf("unknown content ref %d", ref)
}

func nonEmpty(cs []Content) ([]Content, error) {
	if len(cs) == 0 {
		return nil, fmt.Errorf("empty content")
	}
	return cs, nil
}

// ApplyUpdate integrates an encoded update. The update is decoded in
// full before the store is touched, so a malformed update leaves the
// store unchanged. Structs whose dependencies are missing wait in the
// pending queue until a later update supplies them.
func (t *Txn) ApplyUpdate(data []byte) error {
	structs, ds, err := decodeUpdate(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedUpdate, err)
	}
	s := t.store
	for c, ps := range structs {
		merged := append(s.pending[c], ps...)
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].id.Clock < merged[j].id.Clock })
		s.pending[c] = merged
	}
	t.drainPending()
	s.pendingDS.Merge(ds)
	t.applyPendingDeletes()
	return nil
}

func (s *Store) depsReady(p *pendingStruct) bool {
	for _, d := range p.deps() {
		if d.Clock >= s.State(d.Client) {
			return false
		}
	}
	return true
}

func (t *Txn) drainPending() {
	s := t.store
	for progress := true; progress; {
		progress = false
		for _, c := range sortedClients(s.pending) {
			ps := s.pending[c]
			for len(ps) > 0 {
				p := ps[0]
				state := s.State(c)
				if p.id.Clock+p.len <= state {
					ps = ps[1:]
					continue
				}
				if p.id.Clock < state && !p.trim(state-p.id.Clock) {
					ps = ps[1:]
					continue
				}
				if p.id.Clock > state || !s.depsReady(p) {
					break
				}
				t.integrateRemote(p)
				ps = ps[1:]
				progress = true
			}
			if len(ps) == 0 {
				delete(s.pending, c)
			} else {
				s.pending[c] = ps
			}
		}
	}
}

func (t *Txn) integrateRemote(p *pendingStruct) {
	s := t.store
	it := &Item{
		ID:          p.id,
		Len:         p.len,
		Origin:      p.origin,
		RightOrigin: p.rightOrigin,
		Key:         p.key,
		Keyed:       p.keyed,
		Content:     p.content,
	}
	if p.gc {
		t.integrateGC(it)
		return
	}
	if p.origin != nil {
		it.Left = s.itemCleanEnd(*p.origin)
	}
	if p.rightOrigin != nil {
		it.Right = s.itemCleanStart(*p.rightOrigin)
	}
	switch {
	case (it.Left != nil && it.Left.isGC()) || (it.Right != nil && it.Right.isGC()):
	case p.hasParentName:
		it.Parent, _ = s.Root(p.parentName, TypeUndefined)
	case p.parentID != nil:
		if pi := s.find(*p.parentID); pi != nil {
			if tc, ok := pi.Content.(*TypeContent); ok {
				it.Parent = tc.Branch
			}
		}
	default:
		if it.Left != nil {
			it.Parent, it.Key, it.Keyed = it.Left.Parent, it.Left.Key, it.Left.Keyed
		}
		if it.Right != nil {
			it.Parent, it.Key, it.Keyed = it.Right.Parent, it.Right.Key, it.Right.Keyed
		}
	}
	if it.Parent == nil {
		t.integrateGC(it)
		return
	}
	t.integrate(it)
}

func (t *Txn) applyPendingDeletes() {
	s := t.store
	rest := DeleteSet{}
	for c, rs := range s.pendingDS {
		state := s.State(c)
		items := s.clients[c]
		for _, r := range rs {
			if r.Clock >= state {
				rest.Add(c, r.Clock, r.Len)
				continue
			}
			end := r.End()
			if end > state {
				rest.Add(c, state, end-state)
				end = state
			}
			for i := findIndex(items, r.Clock); i >= 0 && i < len(items); i++ {
				it := items[i]
				if it.ID.Clock >= end {
					break
				}
				t.deleteItem(it)
			}
		}
	}
	rest.Normalize()
	s.pendingDS = rest
}

// EncodeDiff decodes the state vector sv and encodes what the store
// holds beyond it.
func (s *Store) EncodeDiff(sv []byte) ([]byte, error) {
	v, err := DecodeStateVector(sv)
	if err != nil {
		return nil, err
	}
	return s.EncodeStateAsUpdate(v), nil
}

// MergeUpdates applies updates to an empty store and returns the
// combined update.
func MergeUpdates(updates ...[]byte) ([]byte, error) {
	s := New(0, "")
	t := s.Begin(nil)
	for i, u := range updates {
		if err := t.ApplyUpdate(u); err != nil {
			return nil, fmt.Errorf("update %d: %w", i, err)
		}
	}
	return s.EncodeStateAsUpdate(nil), nil
}
