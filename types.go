package ethercat

import "fmt"

const (
	// Index of the sync manager description terminating a sync manager list
	EndOfSyncs uint8 = 0xFF
	// Maximum length of names reported by slaves
	MaxStringLength = 64
	// Number of AL states with separate access rights (PreOp, SafeOp, Op)
	AccessStateCount = 3
)

// Direction of a sync manager, as seen from the master
type Direction uint8

const (
	DirInvalid Direction = 0
	DirOutput  Direction = 1
	DirInput   Direction = 2
	DirBoth    Direction = 3
)

func (dir Direction) String() string {
	switch dir {
	case DirOutput:
		return "output"
	case DirInput:
		return "input"
	case DirBoth:
		return "both"
	default:
		return "invalid"
	}
}

// AlState is the application layer state of a slave. The values can be
// or'ed together as reported by [MasterState].
type AlState uint8

const (
	AlUnknown AlState = 0x00
	AlInit    AlState = 0x01
	AlPreOp   AlState = 0x02
	AlBoot    AlState = 0x03
	AlSafeOp  AlState = 0x04
	AlOp      AlState = 0x08
)

var alStateDescription = map[AlState]string{
	AlUnknown: "UNKNOWN",
	AlInit:    "INIT",
	AlPreOp:   "PREOP",
	AlBoot:    "BOOT",
	AlSafeOp:  "SAFEOP",
	AlOp:      "OP",
}

func (state AlState) String() string {
	description, ok := alStateDescription[state]
	if ok {
		return description
	}
	return fmt.Sprintf("x%x", uint8(state))
}

// Has returns true if state is present inside of an or'ed state mask.
// Boot is not a single bit and is compared exactly.
func (state AlState) Has(other AlState) bool {
	if other == AlBoot || other == AlUnknown {
		return state == other
	}
	return state&other != 0
}

// Status of a non blocking request
type RequestState uint8

const (
	RequestUnused  RequestState = 0
	RequestBusy    RequestState = 1
	RequestSuccess RequestState = 2
	RequestError   RequestState = 3
)

func (state RequestState) String() string {
	switch state {
	case RequestUnused:
		return "UNUSED"
	case RequestBusy:
		return "BUSY"
	case RequestSuccess:
		return "SUCCESS"
	case RequestError:
		return "ERROR"
	default:
		return "INVALID"
	}
}

// Working counter interpretation of a domain
type WcState uint8

const (
	WcZero       WcState = 0 // No registered process data was exchanged
	WcIncomplete WcState = 1 // Some of the registered process data was exchanged
	WcComplete   WcState = 2 // All registered process data was exchanged
)

type MasterInfo struct {
	SlaveCount uint16
	LinkUp     bool
	ScanBusy   bool
	AppTime    uint64
}

type SlaveInfo struct {
	Position       uint16
	Alias          uint16
	VendorId       uint32
	ProductCode    uint32
	RevisionNumber uint32
	SerialNumber   uint32
	AlState        AlState
	SyncCount      uint8
	SdoCount       uint16
	Name           string
}

type PdoEntryInfo struct {
	Index     uint16
	Subindex  uint8
	BitLength uint8
}

type PdoInfo struct {
	Index      uint16
	EntryCount uint8
	Entries    []PdoEntryInfo
}

type SyncInfo struct {
	Index     uint8
	Direction Direction
	PdoCount  uint16
	Pdos      []PdoInfo
}

// Terminator returns true for the last element of a sync manager list
func (sm SyncInfo) Terminator() bool {
	return sm.Index == EndOfSyncs
}

type SdoInfo struct {
	Index      uint16
	MaxIndex   uint8
	ObjectCode uint8
	Name       string
}

type SdoEntryInfo struct {
	DataType    uint16
	BitLength   uint16
	ReadAccess  [AccessStateCount]bool
	WriteAccess [AccessStateCount]bool
	Description string
}

// PdoEntryReg binds a mapped PDO entry of a slave to the cells which
// will receive its location inside of the process image
type PdoEntryReg struct {
	Alias       uint16
	Position    uint16
	VendorId    uint32
	ProductCode uint32
	Index       uint16
	Subindex    uint8
	Offset      *uint32
	BitPosition *uint8
}

// Terminator returns true for the last element of a registration list
func (reg PdoEntryReg) Terminator() bool {
	return reg.VendorId == 0
}

type MasterState struct {
	SlavesResponding uint32
	AlStates         AlState
	LinkUp           bool
}

// Operational returns true if at least one slave reports operational state,
// in which case the master is exchanging process data cyclically.
func (state MasterState) Operational() bool {
	return state.AlStates.Has(AlOp)
}

type DomainState struct {
	WorkingCounter uint32
	WcState        WcState
}

type SlaveConfigState struct {
	Online      bool
	Operational bool
	AlState     AlState
}
