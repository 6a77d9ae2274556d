package ethercat

import "strings"

// CoE data types, as reported by SDO information service
const (
	BOOLEAN        uint16 = 0x01
	INTEGER8       uint16 = 0x02
	INTEGER16      uint16 = 0x03
	INTEGER32      uint16 = 0x04
	UNSIGNED8      uint16 = 0x05
	UNSIGNED16     uint16 = 0x06
	UNSIGNED32     uint16 = 0x07
	REAL32         uint16 = 0x08
	VISIBLE_STRING uint16 = 0x09
	OCTET_STRING   uint16 = 0x0A
	UNICODE_STRING uint16 = 0x0B
	DOMAIN         uint16 = 0x0F
	INTEGER24      uint16 = 0x10
	REAL64         uint16 = 0x11
	INTEGER64      uint16 = 0x15
	UNSIGNED24     uint16 = 0x16
	UNSIGNED64     uint16 = 0x1B
)

// Object codes
const (
	OBJ_DOMAIN uint8 = 2
	OBJ_VAR    uint8 = 7
	OBJ_ARR    uint8 = 8
	OBJ_RECORD uint8 = 9
)

// IsSigned returns true for signed integer data types
func IsSigned(dataType uint16) bool {
	switch dataType {
	case INTEGER8, INTEGER16, INTEGER24, INTEGER32, INTEGER64:
		return true
	}
	return false
}

var dataTypeNames = map[uint16]string{
	BOOLEAN:        "BOOLEAN",
	INTEGER8:       "INTEGER8",
	INTEGER16:      "INTEGER16",
	INTEGER32:      "INTEGER32",
	UNSIGNED8:      "UNSIGNED8",
	UNSIGNED16:     "UNSIGNED16",
	UNSIGNED32:     "UNSIGNED32",
	REAL32:         "REAL32",
	VISIBLE_STRING: "VISIBLE_STRING",
	OCTET_STRING:   "OCTET_STRING",
	UNICODE_STRING: "UNICODE_STRING",
	DOMAIN:         "DOMAIN",
	INTEGER24:      "INTEGER24",
	REAL64:         "REAL64",
	INTEGER64:      "INTEGER64",
	UNSIGNED24:     "UNSIGNED24",
	UNSIGNED64:     "UNSIGNED64",
}

// DataTypeName returns the name of a data type, empty if unknown
func DataTypeName(dataType uint16) string {
	return dataTypeNames[dataType]
}

// DataTypeFromName is the reverse of [DataTypeName], case insensitive
func DataTypeFromName(name string) (uint16, bool) {
	for dataType, dataTypeName := range dataTypeNames {
		if strings.EqualFold(dataTypeName, name) {
			return dataType, true
		}
	}
	return 0, false
}
