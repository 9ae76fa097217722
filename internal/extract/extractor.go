// Package extract turns record batch rows into writable payload units.
package extract

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/audexlabs/audex/internal/columnar"
)

// Row-level outcomes. Both skip the row and leave the run alive; the
// orchestrator counts them.
var (
	ErrNullPayload = errors.New("null payload")
	ErrDecode      = errors.New("row decode")
)

// Unit is one extractable row: an identifier and the payload bytes. Payload
// references the batch's memory and must be consumed before the batch is
// released; units are never retained.
type Unit struct {
	Row        int64 // absolute row index across the whole input
	Identifier string
	Fallback   bool // identifier was synthesized for a null
	Payload    []byte
}

// Extractor reads rows through resolved column refs. Bind once per batch,
// then Row for each row in order.
type Extractor struct {
	cols columnar.Resolved

	payload  arrow.Array
	payStr   *array.Struct // parent struct when the payload ref is nested
	ident    arrow.Array
	identStr *array.Struct
}

func NewExtractor(cols columnar.Resolved) *Extractor {
	return &Extractor{cols: cols}
}

// Bind points the extractor at one record's arrays.
func (e *Extractor) Bind(rec arrow.Record) error {
	var err error
	e.payload, e.payStr, err = locate(rec, e.cols.Payload)
	if err != nil {
		return fmt.Errorf("payload column: %w", err)
	}
	e.ident, e.identStr, err = locate(rec, e.cols.Identifier)
	if err != nil {
		return fmt.Errorf("identifier column: %w", err)
	}
	return nil
}

// Row extracts row i of the bound record; abs is its absolute index in the
// input. A null payload (or null parent struct) is ErrNullPayload; a value
// that does not decode as the resolved type is ErrDecode; a null identifier
// is not an error and yields a fallback identifier.
func (e *Extractor) Row(i int, abs int64) (Unit, error) {
	if e.payStr != nil && e.payStr.IsNull(i) {
		return Unit{}, fmt.Errorf("%w: row %d", ErrNullPayload, abs)
	}
	if e.payload.IsNull(i) {
		return Unit{}, fmt.Errorf("%w: row %d", ErrNullPayload, abs)
	}
	data, ok := bytesAt(e.payload, i)
	if !ok {
		return Unit{}, fmt.Errorf("%w: row %d: %s is not binary", ErrDecode, abs, e.cols.Payload.Name)
	}

	u := Unit{Row: abs, Payload: data}
	if e.ident.IsNull(i) || (e.identStr != nil && e.identStr.IsNull(i)) {
		u.Identifier = FallbackIdentifier(abs)
		u.Fallback = true
		return u, nil
	}
	s, ok := stringAt(e.ident, i)
	if !ok {
		return Unit{}, fmt.Errorf("%w: row %d: %s is not a string", ErrDecode, abs, e.cols.Identifier.Name)
	}
	u.Identifier = s
	return u, nil
}

// FallbackIdentifier names a row whose identifier is null: the zero-padded
// absolute row index, deterministic for a given input regardless of how it
// was batched.
func FallbackIdentifier(abs int64) string {
	return fmt.Sprintf("%08d", abs)
}

// locate walks a ref to its array, returning the parent struct array for
// nested refs so its null mask can be honored.
func locate(rec arrow.Record, ref columnar.ColumnRef) (arrow.Array, *array.Struct, error) {
	if ref.Index < 0 || ref.Index >= int(rec.NumCols()) {
		return nil, nil, fmt.Errorf("index %d out of range (%d columns)", ref.Index, rec.NumCols())
	}
	col := rec.Column(ref.Index)
	if !ref.Nested() {
		return col, nil, nil
	}

	st, ok := col.(*array.Struct)
	if !ok {
		return nil, nil, fmt.Errorf("%s: want struct, got %s", ref.Name, col.DataType())
	}
	stType, ok := col.DataType().(*arrow.StructType)
	if !ok || ref.Field >= len(stType.Fields()) {
		return nil, nil, fmt.Errorf("%s: no struct field %d", ref.Name, ref.Field)
	}
	return st.Field(ref.Field), st, nil
}

// bytesAt reads a binary value, unwrapping dictionary encoding.
func bytesAt(arr arrow.Array, i int) ([]byte, bool) {
	switch a := arr.(type) {
	case *array.Binary:
		return a.Value(i), true
	case *array.LargeBinary:
		return a.Value(i), true
	case *array.FixedSizeBinary:
		return a.Value(i), true
	case *array.Dictionary:
		return bytesAt(a.Dictionary(), a.GetValueIndex(i))
	}
	return nil, false
}

// stringAt reads a string value, unwrapping dictionary encoding.
func stringAt(arr arrow.Array, i int) (string, bool) {
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i), true
	case *array.LargeString:
		return a.Value(i), true
	case *array.Dictionary:
		return stringAt(a.Dictionary(), a.GetValueIndex(i))
	}
	return "", false
}
