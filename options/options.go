// Package options implements the per-dialect option (fuse) byte
// registries: ordered named fields over a mutable MSR buffer, each
// with a decoder, an encoder and an optional cross-field validator.
package options

import (
	"fmt"
	"strconv"
)

// Field is one named, typed option backed by bits of an MSR byte
// buffer.
type Field struct {
	Name string
	// Decode reads the field's current value out of msr.
	Decode func(msr []byte) any
	// Encode validates and writes value into msr, returning an error
	// naming the field if the value is out of range.
	Encode func(msr []byte, value any) error
	// Validate runs before Encode against the full buffer, checking
	// cross-field constraints this field alone can't express (e.g.
	// watchdog_prescale is only meaningful when watchdog_por_enabled is
	// set). Nil means the field has no cross-field constraint.
	Validate func(msr []byte) error
}

// Registry is the ordered set of option fields for one dialect,
// together with the MSR buffer they read and write.
type Registry struct {
	Dialect string
	MSR     []byte
	Fields  []Field
}

// Get returns the named field's current value.
func (r *Registry) Get(name string) (any, error) {
	f := r.find(name)
	if f == nil {
		return nil, fmt.Errorf("unknown option %q for dialect %s", name, r.Dialect)
	}
	return f.Decode(r.MSR), nil
}

// Set validates, then applies, value to the named field. If the field
// carries a Validate predicate, it runs against the buffer's current
// state before Encode touches it, so a field that's only meaningful in
// combination with another (watchdog_prescale needs
// watchdog_por_enabled) is rejected rather than silently encoded.
func (r *Registry) Set(name string, value any) error {
	f := r.find(name)
	if f == nil {
		return fmt.Errorf("unknown option %q for dialect %s", name, r.Dialect)
	}
	if f.Validate != nil {
		if err := f.Validate(r.MSR); err != nil {
			return err
		}
	}
	return f.Encode(r.MSR, value)
}

// Names lists every field name this registry accepts, in declaration
// order, matching the order the device expects to see them printed.
func (r *Registry) Names() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

func (r *Registry) find(name string) *Field {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i]
		}
	}
	return nil
}

// enumField builds a Field over a single bit-masked region of one MSR
// byte, accepting only the values listed in table.
func enumField(name string, byteIndex int, mask byte, shift uint, table map[string]byte) Field {
	reverse := make(map[byte]string, len(table))
	for k, v := range table {
		reverse[v] = k
	}
	return Field{
		Name: name,
		Decode: func(msr []byte) any {
			v := (msr[byteIndex] & mask) >> shift
			if s, ok := reverse[v]; ok {
				return s
			}
			return v
		},
		Encode: func(msr []byte, value any) error {
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("%s: expected one of %v", name, keysOf(table))
			}
			v, ok := table[s]
			if !ok {
				return fmt.Errorf("%s: invalid value %q, expected one of %v", name, s, keysOf(table))
			}
			msr[byteIndex] = (msr[byteIndex] &^ mask) | ((v << shift) & mask)
			return nil
		},
	}
}

func keysOf(m map[string]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// boolField builds a Field over a single bit, optionally inverted so
// the Go-level meaning reads naturally (e.g. "watchdog_enabled" over
// a bit that is clear when the watchdog is on).
func boolField(name string, byteIndex int, bit byte, invert bool) Field {
	return Field{
		Name: name,
		Decode: func(msr []byte) any {
			set := msr[byteIndex]&bit != 0
			if invert {
				set = !set
			}
			return set
		},
		Encode: func(msr []byte, value any) error {
			b, ok := asBool(value)
			if !ok {
				return fmt.Errorf("%s: expected a boolean", name)
			}
			if invert {
				b = !b
			}
			if b {
				msr[byteIndex] |= bit
			} else {
				msr[byteIndex] &^= bit
			}
			return nil
		},
	}
}

// intRangeField builds a Field over a masked, shifted region of one
// MSR byte holding a plain integer bounded to [lo, hi].
func intRangeField(name string, byteIndex int, mask byte, shift uint, lo, hi int) Field {
	return Field{
		Name: name,
		Decode: func(msr []byte) any {
			return int((msr[byteIndex] & mask) >> shift)
		},
		Encode: func(msr []byte, value any) error {
			v, ok := asInt(value)
			if !ok || v < lo || v > hi {
				return fmt.Errorf("%s: expected an integer in [%d, %d]", name, lo, hi)
			}
			msr[byteIndex] = (msr[byteIndex] &^ mask) | ((byte(v) << shift) & mask)
			return nil
		},
	}
}

// invertedIntRangeField builds a Field over a masked, shifted region
// of one MSR byte where the stored value is the complement of the
// displayed one (complement - value), as STC8's low_voltage_threshold
// stores it.
func invertedIntRangeField(name string, byteIndex int, mask byte, shift uint, complement int) Field {
	return Field{
		Name: name,
		Decode: func(msr []byte) any {
			stored := int((msr[byteIndex] & mask) >> shift)
			return complement - stored
		},
		Encode: func(msr []byte, value any) error {
			v, ok := asInt(value)
			if !ok || v < 0 || v > complement {
				return fmt.Errorf("%s: expected an integer in [0, %d]", name, complement)
			}
			stored := byte(complement - v)
			msr[byteIndex] = (msr[byteIndex] &^ mask) | ((stored << shift) & mask)
			return nil
		},
	}
}

// intEnumField builds a Field accepting only the integer keys of
// table (e.g. watchdog prescale values, which must be an exact power
// of two from a fixed set rather than any integer).
func intEnumField(name string, byteIndex int, mask byte, shift uint, table map[int]byte) Field {
	reverse := make(map[byte]int, len(table))
	for k, v := range table {
		reverse[v] = k
	}
	return Field{
		Name: name,
		Decode: func(msr []byte) any {
			v := (msr[byteIndex] & mask) >> shift
			if i, ok := reverse[v]; ok {
				return i
			}
			return int(v)
		},
		Encode: func(msr []byte, value any) error {
			i, ok := asInt(value)
			if !ok {
				return fmt.Errorf("%s: expected an integer", name)
			}
			v, ok := table[i]
			if !ok {
				return fmt.Errorf("%s: %d is not a valid value, expected one of %v", name, i, intKeysOf(table))
			}
			msr[byteIndex] = (msr[byteIndex] &^ mask) | ((v << shift) & mask)
			return nil
		},
	}
}

func intKeysOf(m map[int]byte) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// requireBoolSet builds a Validate predicate that rejects the change
// unless the boolField at byteIndex/bit (with the same invert
// polarity boolField itself would use) currently reads true — the
// watchdog_prescale/watchdog_por_enabled coupling spec.md §4.5 names:
// a prescale is meaningless once the watchdog is left powered off.
func requireBoolSet(fieldName, dependsOn string, byteIndex int, bit byte, invert bool) func(msr []byte) error {
	return func(msr []byte) error {
		set := msr[byteIndex]&bit != 0
		if invert {
			set = !set
		}
		if !set {
			return fmt.Errorf("%s: requires %s to be enabled first", fieldName, dependsOn)
		}
		return nil
	}
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// asBool accepts a native bool or the string forms strconv.ParseBool
// understands, since CLI-supplied option values arrive as strings.
func asBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}
