package session

import (
	"github.com/geldb/gelclient/internal/descriptor"
	"github.com/geldb/gelclient/internal/gelerr"
	"github.com/geldb/gelclient/internal/protocol"
)

// Encode serializes this snapshot against the state descriptor set rooted
// at set.Root, memoizing the result on this snapshot until a different
// descriptor id is seen, spec.md §3.4: "the first encoding against a given
// state-descriptor id is memoized and reused on subsequent queries until
// the descriptor id changes". Grounded on spec.md §4.2.3's description of
// encoding a PoolState against a parsed input-shape descriptor.
func (s State) Encode(set *descriptor.Set, descID [16]byte) (protocol.EncodedState, error) {
	if s.cache != nil {
		if cached := s.cache.Load(); cached != nil && cached.descID == descID {
			return protocol.EncodedState{TypeDescID: descID, Data: cached.data}, nil
		}
	}

	data, err := s.encodeAgainst(set)
	if err != nil {
		return protocol.EncodedState{}, err
	}

	if s.cache != nil {
		s.cache.Store(&encodedState{descID: descID, data: data})
	}
	return protocol.EncodedState{TypeDescID: descID, Data: data}, nil
}

// encodeAgainst builds the wire bytes for one state-descriptor's input
// shape. Sending an empty-id encoded state is legal and means "unchanged
// from protocol default" (spec.md §4.2.3), so a Set with no root element
// encodes to nothing.
func (s State) encodeAgainst(set *descriptor.Set) ([]byte, error) {
	if set == nil || set.Root < 0 {
		return nil, nil
	}

	root := set.Entries[set.Root]
	switch root.Kind {
	case descriptor.KindObjectShape, descriptor.KindInputShape, descriptor.KindSparseObject:
	default:
		return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "state descriptor root is not a shape (kind %d)", root.Kind)
	}

	codec, err := descriptor.BuildCodec(set, set.Root)
	if err != nil {
		return nil, err
	}

	fields := make([]descriptor.Value, len(root.Elements))
	for i, el := range root.Elements {
		v, err := s.fieldValue(el.Name)
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}

	value := descriptor.Value{Kind: descriptor.VObject, Fields: fields}
	w := protocol.NewWriter()
	if err := codec.Encode(value, w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// fieldValue produces the Value for one of the four well-known state
// fields, per spec.md §3.4/§4.2.3. Any other field name present in a
// server-sent descriptor is left null: a future server-side addition to
// the state shape this client does not yet understand should not fail the
// encode, only leave that field at its protocol default.
func (s State) fieldValue(name string) (descriptor.Value, error) {
	switch name {
	case "module":
		if module, ok := s.DefaultModule(); ok {
			return descriptor.Value{Kind: descriptor.VStr, Str: module}, nil
		}
		return descriptor.Value{Kind: descriptor.VNull}, nil

	case "aliases":
		return stringPairArray(s.aliases), nil

	case "config":
		return valuePairArray(s.config), nil

	case "globals":
		return valuePairArray(s.globals), nil

	default:
		return descriptor.Value{Kind: descriptor.VNull}, nil
	}
}

// stringPairArray/valuePairArray build the array<tuple<str, T>> shape the
// real protocol uses for name/value maps, in a deterministic (sorted-key)
// order so the encoded bytes are a stable cache key.
func stringPairArray(m map[string]string) descriptor.Value {
	keys := sortedKeys(m)
	elems := make([]descriptor.Value, len(keys))
	for i, k := range keys {
		elems[i] = descriptor.Value{
			Kind: descriptor.VTuple,
			Elements: []descriptor.Value{
				{Kind: descriptor.VStr, Str: k},
				{Kind: descriptor.VStr, Str: m[k]},
			},
		}
	}
	return descriptor.Value{Kind: descriptor.VArray, Elements: elems}
}

func valuePairArray(m map[string]descriptor.Value) descriptor.Value {
	keys := sortedKeys(m)
	elems := make([]descriptor.Value, len(keys))
	for i, k := range keys {
		elems[i] = descriptor.Value{
			Kind: descriptor.VTuple,
			Elements: []descriptor.Value{
				{Kind: descriptor.VStr, Str: k},
				m[k],
			},
		}
	}
	return descriptor.Value{Kind: descriptor.VArray, Elements: elems}
}
