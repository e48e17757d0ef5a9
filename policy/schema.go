package policy

import (
	"fmt"
	"strings"

	"audiopolicy/codec"
)

// Values holds decoded fields in schema order: int32 for KindInt32, string for KindCString.
type Values []any

func (v Values) Int32(i int) int32 {
	return v[i].(int32)
}

func (v Values) Str(i int) string {
	return v[i].(string)
}

// encodeFields appends vals to p in the order fields declares them.
// A mismatch between vals and fields is a programming error on the calling side.
func encodeFields(p *codec.Parcel, fields []Field, vals Values) error {
	if len(vals) != len(fields) {
		return fmt.Errorf("schema: %d values for %d fields", len(vals), len(fields))
	}
	for i, f := range fields {
		switch f.Kind {
		case KindInt32:
			v, ok := vals[i].(int32)
			if !ok {
				return fmt.Errorf("schema: field %s wants int32, got %T", f.Name, vals[i])
			}
			p.WriteInt32(v)
		case KindCString:
			v, ok := vals[i].(string)
			if !ok {
				return fmt.Errorf("schema: field %s wants string, got %T", f.Name, vals[i])
			}
			if err := checkCString(v); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
			p.WriteCString(v)
		default:
			return fmt.Errorf("schema: field %s has %v", f.Name, f.Kind)
		}
	}
	return nil
}

// decodeFields reads len(fields) values from p. Running out of bytes yields
// codec.ErrMalformedMessage naming the missing field.
func decodeFields(p *codec.Parcel, fields []Field) (Values, error) {
	vals := make(Values, len(fields))
	for i, f := range fields {
		var err error
		switch f.Kind {
		case KindInt32:
			vals[i], err = p.ReadInt32()
		case KindCString:
			vals[i], err = p.ReadCString()
		default:
			err = fmt.Errorf("schema: field %s has %v", f.Name, f.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return vals, nil
}

// checkCString refuses strings the reading side would reject or cut short.
func checkCString(s string) error {
	if len(s) >= codec.MaxCStringLen {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFieldTooLong, len(s), codec.MaxCStringLen-1)
	}
	if i := strings.IndexByte(s, 0); i >= 0 {
		return fmt.Errorf("%w at byte %d", ErrFieldHasNul, i)
	}
	return nil
}
