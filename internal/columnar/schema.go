package columnar

import (
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// Schema resolution errors. All of them are fatal: the run aborts before any
// batch is read.
var (
	ErrMissingColumn   = errors.New("missing column")
	ErrAmbiguousColumn = errors.New("ambiguous column")
	ErrColumnType      = errors.New("column type mismatch")
)

// ColumnRef locates a resolved column within a record. Field addresses a
// child of a top-level struct column; Field < 0 means the top-level column
// itself.
type ColumnRef struct {
	Index int
	Field int
	Name  string
}

// Nested reports whether the ref points inside a struct column.
func (r ColumnRef) Nested() bool { return r.Field >= 0 }

// Resolved carries the two column refs every record of a run is read through.
type Resolved struct {
	Payload    ColumnRef
	Identifier ColumnRef
}

// Likely column names, matched case-insensitively. Dataset shards in the wild
// either carry flat bytes/path columns or nest both under an "audio" struct.
var (
	payloadNames    = []string{"bytes", "audio", "data", "payload"}
	identifierNames = []string{"path", "filename", "file_name", "name", "id", "key"}
)

type roleSpec struct {
	role   string
	names  []string
	typeOK func(arrow.DataType) bool
}

var (
	payloadSpec    = roleSpec{role: "payload", names: payloadNames, typeOK: isPayloadType}
	identifierSpec = roleSpec{role: "identifier", names: identifierNames, typeOK: isIdentifierType}
)

// isPayloadType accepts the binary families. Lists never qualify.
func isPayloadType(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY:
		return true
	case arrow.DICTIONARY:
		return isPayloadType(dt.(*arrow.DictionaryType).ValueType)
	}
	return false
}

func isIdentifierType(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING:
		return true
	case arrow.DICTIONARY:
		return isIdentifierType(dt.(*arrow.DictionaryType).ValueType)
	}
	return false
}

// Resolve picks the payload and identifier columns out of a schema. It is a
// pure function: no I/O, no allocator, deterministic for a given schema.
//
// Per role the passes are: allow-list name match over top-level columns of
// the right type, then struct columns that namespace the role (the common
// audio: struct<bytes, path> layout), then the single top-level column of
// the right type. More than one candidate at the winning pass is fatal.
func Resolve(sc *arrow.Schema) (Resolved, error) {
	none := ColumnRef{Index: -1, Field: -1}
	pay, err := resolveRole(sc, payloadSpec, none)
	if err != nil {
		return Resolved{}, err
	}
	ident, err := resolveRole(sc, identifierSpec, pay)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Payload: pay, Identifier: ident}, nil
}

// resolveRole resolves one role. peer is the already-resolved payload ref
// when resolving the identifier, so that a struct providing the payload is
// searched first; pass an Index of -1 for no peer.
func resolveRole(sc *arrow.Schema, spec roleSpec, peer ColumnRef) (ColumnRef, error) {
	fields := sc.Fields()

	// Name pass over qualifying top-level columns. A name hit with the wrong
	// type is remembered for the error message.
	var hits []ColumnRef
	mismatch := ""
	for i, f := range fields {
		if !spec.typeOK(f.Type) {
			if nameIn(f.Name, spec.names) && f.Type.ID() != arrow.STRUCT {
				mismatch = fmt.Sprintf("%s is %s", f.Name, f.Type)
			}
			continue
		}
		if nameIn(f.Name, spec.names) {
			hits = append(hits, ColumnRef{Index: i, Field: -1, Name: f.Name})
		}
	}
	if len(hits) == 1 {
		return hits[0], nil
	}
	if len(hits) > 1 {
		return ColumnRef{}, fmt.Errorf("%w: %s name matches %s", ErrAmbiguousColumn, spec.role, refNames(hits))
	}

	// Struct pass. The peer's struct wins outright; otherwise a struct whose
	// own name is allow-listed beats an anonymous single provider.
	if peer.Index >= 0 && peer.Field >= 0 {
		if ref, ok := resolveInStruct(fields[peer.Index], peer.Index, spec); ok {
			return ref, nil
		}
	}
	var inStructs, named []ColumnRef
	for i, f := range fields {
		if f.Type.ID() != arrow.STRUCT {
			continue
		}
		if peer.Index >= 0 && peer.Field >= 0 && i == peer.Index {
			continue
		}
		ref, ok := resolveInStruct(f, i, spec)
		if !ok {
			continue
		}
		inStructs = append(inStructs, ref)
		if nameIn(f.Name, spec.names) {
			named = append(named, ref)
		}
	}
	if len(named) == 1 {
		return named[0], nil
	}
	if len(inStructs) == 1 {
		return inStructs[0], nil
	}
	if len(inStructs) > 1 {
		return ColumnRef{}, fmt.Errorf("%w: %s found in %s", ErrAmbiguousColumn, spec.role, refNames(inStructs))
	}

	// Type fallback: the single qualifying top-level column.
	var typed []ColumnRef
	for i, f := range fields {
		if spec.typeOK(f.Type) {
			typed = append(typed, ColumnRef{Index: i, Field: -1, Name: f.Name})
		}
	}
	switch len(typed) {
	case 1:
		return typed[0], nil
	case 0:
		if mismatch != "" {
			return ColumnRef{}, fmt.Errorf("%w: %s column %s", ErrColumnType, spec.role, mismatch)
		}
		return ColumnRef{}, fmt.Errorf("%w: no %s column in schema", ErrMissingColumn, spec.role)
	default:
		return ColumnRef{}, fmt.Errorf("%w: %s could be any of %s", ErrAmbiguousColumn, spec.role, refNames(typed))
	}
}

// resolveInStruct resolves a role among the children of one struct column:
// a single allow-listed child name wins, else a single child of the right
// type. Anything else means this struct does not provide the role.
func resolveInStruct(f arrow.Field, idx int, spec roleSpec) (ColumnRef, bool) {
	st, ok := f.Type.(*arrow.StructType)
	if !ok {
		return ColumnRef{}, false
	}
	var hits, typed []ColumnRef
	for j, child := range st.Fields() {
		if !spec.typeOK(child.Type) {
			continue
		}
		ref := ColumnRef{Index: idx, Field: j, Name: f.Name + "." + child.Name}
		typed = append(typed, ref)
		if nameIn(child.Name, spec.names) {
			hits = append(hits, ref)
		}
	}
	if len(hits) == 1 {
		return hits[0], true
	}
	if len(hits) == 0 && len(typed) == 1 {
		return typed[0], true
	}
	return ColumnRef{}, false
}

func nameIn(name string, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(name, n) {
			return true
		}
	}
	return false
}

func refNames(refs []ColumnRef) string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Name
	}
	return strings.Join(names, ", ")
}
