package virtual

import (
	"encoding/binary"
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
)

// ObjectEntry is a sub-entry of a simulated object dictionary
type ObjectEntry struct {
	Subindex    uint8
	DataType    uint16
	BitLength   uint16
	Description string
	ReadAccess  [ethercat.AccessStateCount]bool
	WriteAccess [ethercat.AccessStateCount]bool
	Value       []byte
	// Entry information cannot be read, used to simulate legacy devices
	Unreadable bool
}

type Object struct {
	Index      uint16
	ObjectCode uint8
	Name       string
	Entries    []*ObjectEntry
}

// MaxIndex returns the highest subindex of the object
func (o *Object) MaxIndex() uint8 {
	maxIndex := uint8(0)
	for _, entry := range o.Entries {
		if entry.Subindex > maxIndex {
			maxIndex = entry.Subindex
		}
	}
	return maxIndex
}

// Device is a simulated slave. Its description is fixed once it
// has been added to a [Master].
type Device struct {
	Info    ethercat.SlaveInfo
	Syncs   []ethercat.SyncInfo
	Objects []*Object
	alState ethercat.AlState
	// Slave side process data, per sync manager
	processData map[uint8][]byte
	aborts      map[objectKey]uint32
}

type objectKey struct {
	index    uint16
	subindex uint8
}

func NewDevice(name string, vendorId uint32, productCode uint32) *Device {
	return &Device{
		Info: ethercat.SlaveInfo{
			Name:        name,
			VendorId:    vendorId,
			ProductCode: productCode,
		},
		Syncs:       make([]ethercat.SyncInfo, 0),
		Objects:     make([]*Object, 0),
		alState:     ethercat.AlPreOp,
		processData: make(map[uint8][]byte),
		aborts:      make(map[objectKey]uint32),
	}
}

// Mapped returns a PDO entry description, index 0 is a gap
func Mapped(index uint16, subindex uint8, bitLength uint8) ethercat.PdoEntryInfo {
	return ethercat.PdoEntryInfo{Index: index, Subindex: subindex, BitLength: bitLength}
}

func Pdo(index uint16, entries ...ethercat.PdoEntryInfo) ethercat.PdoInfo {
	return ethercat.PdoInfo{Index: index, EntryCount: uint8(len(entries)), Entries: entries}
}

// AddSync adds sync manager index. Missing lower sync managers are
// added as mailbox sync managers without PDOs.
func (d *Device) AddSync(index uint8, direction ethercat.Direction, pdos ...ethercat.PdoInfo) *Device {
	for len(d.Syncs) <= int(index) {
		mailbox := ethercat.DirOutput
		if len(d.Syncs)%2 == 1 {
			mailbox = ethercat.DirInput
		}
		d.Syncs = append(d.Syncs, ethercat.SyncInfo{Index: uint8(len(d.Syncs)), Direction: mailbox})
	}
	d.Syncs[index] = ethercat.SyncInfo{
		Index:     index,
		Direction: direction,
		PdoCount:  uint16(len(pdos)),
		Pdos:      pdos,
	}
	return d
}

// Var returns a dictionary entry with the given initial value.
// access is one of ro, wo, rw.
func Var(subindex uint8, dataType uint16, bitLength uint16, access string, value int64, description string) *ObjectEntry {
	entry := &ObjectEntry{
		Subindex:    subindex,
		DataType:    dataType,
		BitLength:   bitLength,
		Description: description,
		Value:       make([]byte, entrySize(bitLength)),
	}
	readable, writable := parseAccess(access)
	for i := 0; i < ethercat.AccessStateCount; i++ {
		entry.ReadAccess[i] = readable
		entry.WriteAccess[i] = writable
	}
	encodeValue(entry.Value, value)
	return entry
}

func (d *Device) AddObject(index uint16, objectCode uint8, name string, entries ...*ObjectEntry) *Device {
	d.Objects = append(d.Objects, &Object{Index: index, ObjectCode: objectCode, Name: name, Entries: entries})
	return d
}

func (d *Device) object(index uint16) *Object {
	for _, object := range d.Objects {
		if object.Index == index {
			return object
		}
	}
	return nil
}

func (d *Device) entry(index uint16, subindex uint8) (*ObjectEntry, uint32) {
	object := d.object(index)
	if object == nil {
		return nil, uint32(ethercat.AbortNotExist)
	}
	for _, entry := range object.Entries {
		if entry.Subindex == subindex {
			return entry, 0
		}
	}
	return nil, uint32(ethercat.AbortSubUnknown)
}

// Index into access rights for the current state
func (d *Device) accessState() int {
	switch {
	case d.alState.Has(ethercat.AlOp):
		return 2
	case d.alState.Has(ethercat.AlSafeOp):
		return 1
	default:
		return 0
	}
}

func (d *Device) upload(index uint16, subindex uint8) ([]byte, uint32) {
	if abort, ok := d.aborts[objectKey{index, subindex}]; ok {
		return nil, abort
	}
	entry, abort := d.entry(index, subindex)
	if abort != 0 {
		return nil, abort
	}
	if !entry.ReadAccess[d.accessState()] {
		return nil, uint32(ethercat.AbortWriteOnly)
	}
	return entry.Value, 0
}

func (d *Device) download(index uint16, subindex uint8, data []byte) uint32 {
	if abort, ok := d.aborts[objectKey{index, subindex}]; ok {
		return abort
	}
	entry, abort := d.entry(index, subindex)
	if abort != 0 {
		return abort
	}
	if !entry.WriteAccess[d.accessState()] {
		return uint32(ethercat.AbortReadOnly)
	}
	if len(data) > len(entry.Value) && entry.DataType != ethercat.VISIBLE_STRING && entry.DataType != ethercat.OCTET_STRING {
		// Extra bytes must be zero
		for _, b := range data[len(entry.Value):] {
			if b != 0 {
				return uint32(ethercat.AbortDataLong)
			}
		}
		data = data[:len(entry.Value)]
	}
	value := make([]byte, len(entry.Value))
	copy(value, data)
	entry.Value = value
	return 0
}

// Locate a mapped entry inside of the sync managers
func locate(syncs []ethercat.SyncInfo, index uint16, subindex uint8) (sm uint8, bitPosition int, bitLength uint8, ok bool) {
	for _, sync := range syncs {
		if sync.Terminator() {
			break
		}
		position := 0
		for _, pdo := range sync.Pdos {
			for _, entry := range pdo.Entries {
				if entry.Index != 0 && entry.Index == index && entry.Subindex == subindex {
					return sync.Index, position, entry.BitLength, true
				}
				position += int(entry.BitLength)
			}
		}
	}
	return 0, 0, 0, false
}

// Size in bytes of the process data of a sync manager
func syncSize(syncs []ethercat.SyncInfo, sm uint8) int {
	for _, sync := range syncs {
		if sync.Index != sm || sync.Terminator() {
			continue
		}
		bits := 0
		for _, pdo := range sync.Pdos {
			for _, entry := range pdo.Entries {
				bits += int(entry.BitLength)
			}
		}
		return (bits + 7) / 8
	}
	return 0
}

func (d *Device) syncData(sm uint8) []byte {
	data, ok := d.processData[sm]
	size := syncSize(d.Syncs, sm)
	if !ok || len(data) != size {
		data = make([]byte, size)
		d.processData[sm] = data
	}
	return data
}

func (d *Device) setProcessValue(index uint16, subindex uint8, value int64) error {
	sm, position, bitLength, ok := locate(d.Syncs, index, subindex)
	if !ok {
		return fmt.Errorf("x%x|x%x is not mapped", index, subindex)
	}
	writeBits(d.syncData(sm), position, int(bitLength), uint64(value))
	return nil
}

func (d *Device) processValue(index uint16, subindex uint8) (uint64, error) {
	sm, position, bitLength, ok := locate(d.Syncs, index, subindex)
	if !ok {
		return 0, fmt.Errorf("x%x|x%x is not mapped", index, subindex)
	}
	return readBits(d.syncData(sm), position, int(bitLength)), nil
}

func readBits(data []byte, position int, length int) uint64 {
	value := uint64(0)
	for i := 0; i < length && i < 64; i++ {
		bit := position + i
		if bit/8 >= len(data) {
			break
		}
		if data[bit/8]&(1<<(bit%8)) != 0 {
			value |= 1 << i
		}
	}
	return value
}

func writeBits(data []byte, position int, length int, value uint64) {
	for i := 0; i < length && i < 64; i++ {
		bit := position + i
		if bit/8 >= len(data) {
			return
		}
		if value&(1<<i) != 0 {
			data[bit/8] |= 1 << (bit % 8)
		} else {
			data[bit/8] &^= 1 << (bit % 8)
		}
	}
}

func entrySize(bitLength uint16) int {
	size := (int(bitLength) + 7) / 8
	if size == 0 {
		size = 1
	}
	return size
}

func encodeValue(data []byte, value int64) {
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], uint64(value))
	copy(data, raw[:])
}

func parseAccess(access string) (readable bool, writable bool) {
	switch access {
	case "rw", "rww", "rwr":
		return true, true
	case "wo":
		return false, true
	default:
		return true, false
	}
}
