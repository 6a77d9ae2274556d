package pdo

import (
	"encoding/binary"
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
)

// Entry is a single mapped value exchanged cyclically with a slave.
// Offset & BitOffset are written once, when the domain is registered.
type Entry struct {
	Index     uint16
	Subindex  uint8
	BitLength uint8
	Type      ValueType
	Offset    uint32
	BitOffset uint8
	Value     int64
}

func (e *Entry) String() string {
	return fmt.Sprintf("x%04x|x%x %v @%v.%v = %v", e.Index, e.Subindex, e.Type, e.Offset, e.BitOffset, e.Value)
}

// check that the entry fits inside of the image.
// Only single bit entries may start inside of a byte.
func (e *Entry) check(image ethercat.ProcessImage) error {
	if image == nil {
		return ethercat.ErrInactive
	}
	if e.Type.Bits() != 1 && e.BitOffset != 0 {
		return fmt.Errorf("%w : %v is not byte aligned", ethercat.ErrOutOfRange, e)
	}
	if e.BitOffset > 7 || int(e.Offset)+e.Type.Size() > image.Size() {
		return fmt.Errorf("%w : %v (image size %v)", ethercat.ErrOutOfRange, e, image.Size())
	}
	return nil
}

// Decode reads the entry value from the image.
// Entries that are not exchanged decode to 0.
func (e *Entry) Decode(image ethercat.ProcessImage) (int64, error) {
	if !e.Type.Exchanged() {
		return 0, nil
	}
	if err := e.check(image); err != nil {
		return 0, err
	}
	var raw [4]byte
	buf := raw[:e.Type.Size()]
	if _, err := image.ReadAt(buf, int64(e.Offset)); err != nil {
		return 0, err
	}
	switch e.Type {
	case ValueTypeUnsigned1:
		return int64((buf[0] >> e.BitOffset) & 1), nil
	case ValueTypeUnsigned8:
		return int64(buf[0]), nil
	case ValueTypeUnsigned16:
		return int64(binary.LittleEndian.Uint16(buf)), nil
	case ValueTypeUnsigned32:
		return int64(binary.LittleEndian.Uint32(buf)), nil
	case ValueTypeSigned8:
		return int64(int8(buf[0])), nil
	case ValueTypeSigned16:
		return int64(int16(binary.LittleEndian.Uint16(buf))), nil
	case ValueTypeSigned32:
		return int64(int32(binary.LittleEndian.Uint32(buf))), nil
	default:
		return 0, nil
	}
}

// Encode writes value into the image at the entry location.
// Values wider than the entry are truncated. Entries that are not
// exchanged leave the image untouched.
func (e *Entry) Encode(image ethercat.ProcessImage, value int64) error {
	if !e.Type.Exchanged() {
		return nil
	}
	if err := e.check(image); err != nil {
		return err
	}
	var raw [4]byte
	buf := raw[:e.Type.Size()]
	switch e.Type {
	case ValueTypeUnsigned1:
		// Other bits of the byte belong to other entries
		if _, err := image.ReadAt(buf, int64(e.Offset)); err != nil {
			return err
		}
		if value != 0 {
			buf[0] |= 1 << e.BitOffset
		} else {
			buf[0] &^= 1 << e.BitOffset
		}
	case ValueTypeUnsigned8, ValueTypeSigned8:
		buf[0] = uint8(value)
	case ValueTypeUnsigned16, ValueTypeSigned16:
		binary.LittleEndian.PutUint16(buf, uint16(value))
	case ValueTypeUnsigned32, ValueTypeSigned32:
		binary.LittleEndian.PutUint32(buf, uint32(value))
	default:
		return nil
	}
	_, err := image.WriteAt(buf, int64(e.Offset))
	return err
}

// Refresh decodes the entry from the image and updates the stored
// value if it changed. Returns true if the value was updated.
func (e *Entry) Refresh(image ethercat.ProcessImage) (bool, error) {
	value, err := e.Decode(image)
	if err != nil {
		return false, err
	}
	if value == e.Value {
		return false, nil
	}
	e.Value = value
	return true, nil
}

// Flush encodes the stored value into the image
func (e *Entry) Flush(image ethercat.ProcessImage) error {
	return e.Encode(image, e.Value)
}
