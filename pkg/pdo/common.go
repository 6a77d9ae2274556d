package pdo

import (
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
)

// ValueType is the representation of a mapped PDO entry inside of the
// process data image
type ValueType uint8

const (
	ValueTypeNone ValueType = iota
	ValueTypePadding
	ValueTypeUnsigned1
	ValueTypeUnsigned8
	ValueTypeUnsigned16
	ValueTypeUnsigned32
	ValueTypeSigned8
	ValueTypeSigned16
	ValueTypeSigned32
	valueTypeCount
)

type valueTypeInfo struct {
	name   string
	bits   uint8
	signed bool
}

var valueTypes = [...]valueTypeInfo{
	ValueTypeNone:       {"NONE", 0, false},
	ValueTypePadding:    {"PADDING", 0, false},
	ValueTypeUnsigned1:  {"UNSIGNED1", 1, false},
	ValueTypeUnsigned8:  {"UNSIGNED8", 8, false},
	ValueTypeUnsigned16: {"UNSIGNED16", 16, false},
	ValueTypeUnsigned32: {"UNSIGNED32", 32, false},
	ValueTypeSigned8:    {"SIGNED8", 8, true},
	ValueTypeSigned16:   {"SIGNED16", 16, true},
	ValueTypeSigned32:   {"SIGNED32", 32, true},
}

// Fails to compile if a value type is missing from the table above
var _ = [1]struct{}{}[len(valueTypes)-int(valueTypeCount)]

func (t ValueType) String() string {
	if t >= valueTypeCount {
		return fmt.Sprintf("INVALID(%d)", uint8(t))
	}
	return valueTypes[t].name
}

// Bits returns the width of the value inside of the image,
// 0 for types that are not exchanged
func (t ValueType) Bits() uint8 {
	if t >= valueTypeCount {
		return 0
	}
	return valueTypes[t].bits
}

// Size returns the number of bytes touched inside of the image
func (t ValueType) Size() int {
	return (int(t.Bits()) + 7) / 8
}

func (t ValueType) Signed() bool {
	if t >= valueTypeCount {
		return false
	}
	return valueTypes[t].signed
}

// Exchanged returns false for entries which are skipped on
// decode & encode
func (t ValueType) Exchanged() bool {
	return t.Bits() > 0
}

// ToSigned returns the signed type of the same width,
// the type is returned unchanged if no such type exists
func (t ValueType) ToSigned() ValueType {
	switch t {
	case ValueTypeUnsigned8:
		return ValueTypeSigned8
	case ValueTypeUnsigned16:
		return ValueTypeSigned16
	case ValueTypeUnsigned32:
		return ValueTypeSigned32
	default:
		return t
	}
}

// TypeFromBitLength returns the value type to use for a mapped entry of the
// given bit length. Unsupported lengths return [ValueTypeNone] and an
// error, the entry is then handled as padding.
func TypeFromBitLength(bitLength uint8) (ValueType, error) {
	if bitLength != 1 && bitLength%2 != 0 {
		return ValueTypeNone, fmt.Errorf("%w : mapping is either padding or wrong, bit length %v", ethercat.ErrMapping, bitLength)
	}
	switch bitLength {
	case 1:
		return ValueTypeUnsigned1, nil
	case 8:
		return ValueTypeUnsigned8, nil
	case 16:
		return ValueTypeUnsigned16, nil
	case 32:
		return ValueTypeUnsigned32, nil
	default:
		return ValueTypeNone, fmt.Errorf("%w : bit size %v not supported", ethercat.ErrMapping, bitLength)
	}
}
