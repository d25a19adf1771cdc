// Package entry models a NetworkTables entry: a named, typed value slot.
package entry

import (
	"fmt"
	"strconv"
)

// ChangeKind says how a slot reached its current value.
type ChangeKind uint8

const (
	// Added means the slot was created by an entry assignment.
	Added ChangeKind = iota
	// Updated means an existing slot received a new value.
	Updated
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	default:
		return fmt.Sprintf("change(%d)", uint8(k))
	}
}

// Entry is one slot of the source table at a point in time.
type Entry struct {
	Name   string
	Value  Value
	Change ChangeKind

	// Wire bookkeeping from the source.
	ID    uint16
	Seq   uint16
	Flags Flags
}

// Flags are the per-entry flags carried by the source.
type Flags uint8

// FlagPersistent marks an entry the server saves across restarts.
const FlagPersistent Flags = 0x01

// Persistent reports whether the persistent flag is set.
func (f Flags) Persistent() bool { return f&FlagPersistent != 0 }

// Type is the source's value type tag.
type Type uint8

// Type tags as they appear on the wire.
const (
	TypeBoolean       Type = 0x00
	TypeDouble        Type = 0x01
	TypeString        Type = 0x02
	TypeRaw           Type = 0x03
	TypeBooleanArray  Type = 0x10
	TypeDoubleArray   Type = 0x11
	TypeStringArray   Type = 0x12
	TypeRPCDefinition Type = 0x20
)

func (t Type) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeRaw:
		return "raw"
	case TypeBooleanArray:
		return "boolean[]"
	case TypeDoubleArray:
		return "double[]"
	case TypeStringArray:
		return "string[]"
	case TypeRPCDefinition:
		return "rpc"
	default:
		return fmt.Sprintf("type(0x%02x)", uint8(t))
	}
}

// Value is a closed sum over the value arms the bridge understands.
// Only types in this package implement it.
type Value interface {
	Type() Type
	String() string
	isValue()
}

// Boolean is a single boolean value.
type Boolean bool

// Double is a single IEEE-754 double.
type Double float64

// String is a UTF-8 string value.
type String string

// Raw is an opaque byte string.
type Raw []byte

// BooleanArray is an array of booleans.
type BooleanArray []bool

// DoubleArray is an array of doubles.
type DoubleArray []float64

// StringArray is an array of strings.
type StringArray []string

// Unsupported carries any value the bridge does not interpret, such as RPC
// definitions. Data holds the undecoded body.
type Unsupported struct {
	Tag  Type
	Data []byte
}

func (Boolean) Type() Type      { return TypeBoolean }
func (Double) Type() Type       { return TypeDouble }
func (String) Type() Type       { return TypeString }
func (Raw) Type() Type          { return TypeRaw }
func (BooleanArray) Type() Type { return TypeBooleanArray }
func (DoubleArray) Type() Type  { return TypeDoubleArray }
func (StringArray) Type() Type  { return TypeStringArray }
func (u Unsupported) Type() Type {
	return u.Tag
}

func (v Boolean) String() string { return strconv.FormatBool(bool(v)) }
func (v Double) String() string  { return strconv.FormatFloat(float64(v), 'f', -1, 64) }
func (v String) String() string  { return strconv.Quote(string(v)) }
func (v Raw) String() string     { return fmt.Sprintf("raw[%d]", len(v)) }
func (v BooleanArray) String() string {
	return fmt.Sprint([]bool(v))
}
func (v DoubleArray) String() string {
	return fmt.Sprint([]float64(v))
}
func (v StringArray) String() string {
	return fmt.Sprintf("%q", []string(v))
}
func (u Unsupported) String() string {
	return fmt.Sprintf("%s[%d]", u.Tag, len(u.Data))
}

func (Boolean) isValue()      {}
func (Double) isValue()       {}
func (String) isValue()       {}
func (Raw) isValue()          {}
func (BooleanArray) isValue() {}
func (DoubleArray) isValue()  {}
func (StringArray) isValue()  {}
func (Unsupported) isValue()  {}

// String renders the entry for debug logs.
func (e Entry) String() string {
	value := "<nil>"
	if e.Value != nil {
		value = e.Value.String()
	}
	return fmt.Sprintf("%s (%s) = %s [%s]", e.Name, typeName(e.Value), value, e.Change)
}

func typeName(v Value) string {
	if v == nil {
		return "none"
	}
	return v.Type().String()
}
