// Package descriptor implements the type-descriptor engine (spec.md §3.2,
// §4.2 — Component C): parsing the server's TypeDescriptor array into a
// graph, and building both dynamic codec trees and static reflect-based
// decode plans over that graph.
package descriptor

import (
	"github.com/google/uuid"

	"github.com/geldb/gelclient/internal/gelerr"
	"github.com/geldb/gelclient/internal/protocol"
)

// Kind identifies a descriptor's wire payload shape, spec.md §3.2.
type Kind uint8

const (
	KindSet Kind = iota
	KindObjectShape
	KindBaseScalar
	KindScalar
	KindTuple
	KindNamedTuple
	KindArray
	KindRange
	KindMultiRange
	KindEnumeration
	KindSparseObject
	KindInputShape
	KindTypeAnnotation
)

// kindByte is the wire tag for each descriptor kind. Bytes >= 0x7F are
// parsed as TypeAnnotation regardless of this table (spec.md §4.2.1);
// these low values are the ones this implementation actually emits/expects.
var kindByte = map[byte]Kind{
	0x00: KindSet,
	0x01: KindObjectShape,
	0x02: KindBaseScalar,
	0x03: KindScalar,
	0x04: KindTuple,
	0x05: KindNamedTuple,
	0x06: KindArray,
	0x07: KindEnumeration,
	0x08: KindInputShape,
	0x09: KindRange,
	0x0a: KindSparseObject,
	0x0b: KindMultiRange,
}

// ShapeFlag marks properties of one ObjectShape/InputShape element.
type ShapeFlag uint8

const (
	FlagImplicit ShapeFlag = 1 << iota
	FlagLinkProperty
	FlagLink
)

// ShapeElement is one field of an ObjectShape/InputShape/SparseObject
// descriptor, spec.md §3.2.
type ShapeElement struct {
	Flags       ShapeFlag
	Name        string
	TypePos     int
	SourcePos   int // -1 when absent
	Cardinality uint8
}

// Descriptor is one parsed entry of the TypeDescriptor array. Position is
// this entry's index in the array (its "wire position"); other entries
// reference it by that index.
type Descriptor struct {
	Position int
	ID       uuid.UUID
	Kind     Kind

	// KindSet / KindArray / KindRange / KindMultiRange
	ElementPos int

	// KindArray: declared dimension bounds, empty when unbounded.
	Dimensions []int32

	// KindScalar: base-scalar descriptor this is a nominal subtype of.
	BasePos int

	// KindObjectShape / KindInputShape / KindSparseObject
	Elements []ShapeElement

	// KindTuple
	ElementPositions []int

	// KindNamedTuple
	NamedElements []ShapeElement // Name + TypePos populated; rest unused

	// KindEnumeration
	Members []string

	// KindTypeAnnotation
	Annotation     string
	AnnotatedID    uuid.UUID
}

// Set is a parsed descriptor array: the indexed entries plus the position
// of the root element (-1 when the root id was all-zero, meaning "no
// shape", per spec.md §4.2.1).
type Set struct {
	Entries []Descriptor
	Root    int
}

// ByID finds the descriptor with the given id, or false if absent.
func (s *Set) ByID(id uuid.UUID) (Descriptor, bool) {
	for _, d := range s.Entries {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Parse decodes a contiguous TypeDescriptor array followed by a 128-bit
// root id, per spec.md §4.2.1. Forward position references are rejected;
// unknown kind bytes < 0x7F fail with InvalidTypeDescriptor, while bytes
// >= 0x7F parse as TypeAnnotation.
func Parse(buf []byte, rootID uuid.UUID) (*Set, error) {
	r := protocol.NewReader(buf)
	var entries []Descriptor

	for !r.Done() {
		pos := len(entries)
		id, err := r.GetUUID()
		if err != nil {
			return nil, err
		}
		tagByte, err := r.GetUint8()
		if err != nil {
			return nil, err
		}

		var d Descriptor
		d.Position = pos
		d.ID = id

		if tagByte >= 0x7F {
			d.Kind = KindTypeAnnotation
			name, err := r.GetString()
			if err != nil {
				return nil, err
			}
			d.Annotation = name
			entries = append(entries, d)
			continue
		}

		kind, ok := kindByte[tagByte]
		if !ok {
			return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "unknown descriptor kind byte 0x%02x at position %d", tagByte, pos)
		}
		d.Kind = kind

		if err := parseBody(r, &d, pos); err != nil {
			return nil, err
		}
		entries = append(entries, d)
	}

	root := -1
	if rootID != (uuid.UUID{}) {
		for i, d := range entries {
			if d.ID == rootID {
				root = i
				break
			}
		}
		if root == -1 {
			return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "root id %s not found in descriptor array", rootID)
		}
	}

	return &Set{Entries: entries, Root: root}, nil
}

// checkRef validates that a referenced position is strictly less than the
// containing element's own index — "no forward references" (spec.md §3.2).
func checkRef(pos, ref int) error {
	if ref >= pos {
		return gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "descriptor at position %d references non-prior position %d", pos, ref)
	}
	return nil
}

func parseBody(r *protocol.Reader, d *Descriptor, pos int) error {
	switch d.Kind {
	case KindSet:
		ep, err := r.GetUint16()
		if err != nil {
			return err
		}
		d.ElementPos = int(ep)
		return checkRef(pos, d.ElementPos)

	case KindBaseScalar:
		return nil

	case KindScalar:
		bp, err := r.GetUint16()
		if err != nil {
			return err
		}
		d.BasePos = int(bp)
		return checkRef(pos, d.BasePos)

	case KindTuple:
		n, err := r.GetUint16()
		if err != nil {
			return err
		}
		for i := 0; i < int(n); i++ {
			ep, err := r.GetUint16()
			if err != nil {
				return err
			}
			if err := checkRef(pos, int(ep)); err != nil {
				return err
			}
			d.ElementPositions = append(d.ElementPositions, int(ep))
		}
		return nil

	case KindNamedTuple:
		n, err := r.GetUint16()
		if err != nil {
			return err
		}
		for i := 0; i < int(n); i++ {
			name, err := r.GetString()
			if err != nil {
				return err
			}
			ep, err := r.GetUint16()
			if err != nil {
				return err
			}
			if err := checkRef(pos, int(ep)); err != nil {
				return err
			}
			d.NamedElements = append(d.NamedElements, ShapeElement{Name: name, TypePos: int(ep)})
		}
		return nil

	case KindArray:
		ep, err := r.GetUint16()
		if err != nil {
			return err
		}
		if err := checkRef(pos, int(ep)); err != nil {
			return err
		}
		d.ElementPos = int(ep)
		n, err := r.GetUint16()
		if err != nil {
			return err
		}
		for i := 0; i < int(n); i++ {
			dim, err := r.GetInt32()
			if err != nil {
				return err
			}
			d.Dimensions = append(d.Dimensions, dim)
		}
		return nil

	case KindRange, KindMultiRange:
		ep, err := r.GetUint16()
		if err != nil {
			return err
		}
		if err := checkRef(pos, int(ep)); err != nil {
			return err
		}
		d.ElementPos = int(ep)
		return nil

	case KindEnumeration:
		n, err := r.GetUint16()
		if err != nil {
			return err
		}
		for i := 0; i < int(n); i++ {
			m, err := r.GetString()
			if err != nil {
				return err
			}
			d.Members = append(d.Members, m)
		}
		return nil

	case KindObjectShape, KindInputShape, KindSparseObject:
		n, err := r.GetUint16()
		if err != nil {
			return err
		}
		for i := 0; i < int(n); i++ {
			flags, err := r.GetUint8()
			if err != nil {
				return err
			}
			name, err := r.GetString()
			if err != nil {
				return err
			}
			tp, err := r.GetUint16()
			if err != nil {
				return err
			}
			if err := checkRef(pos, int(tp)); err != nil {
				return err
			}
			card, err := r.GetUint8()
			if err != nil {
				return err
			}
			sourcePos := -1
			if d.Kind == KindObjectShape && ShapeFlag(flags)&FlagLinkProperty != 0 {
				sp, err := r.GetUint16()
				if err != nil {
					return err
				}
				if err := checkRef(pos, int(sp)); err != nil {
					return err
				}
				sourcePos = int(sp)
			}
			d.Elements = append(d.Elements, ShapeElement{
				Flags:       ShapeFlag(flags),
				Name:        name,
				TypePos:     int(tp),
				SourcePos:   sourcePos,
				Cardinality: card,
			})
		}
		return nil

	default:
		return gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "unhandled descriptor kind %d at position %d", d.Kind, pos)
	}
}
