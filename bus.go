package ethercat

import (
	"context"
	"time"
)

// Bus is the handle on an EtherCAT master as provided by the
// underlying master driver. Everything the runtime layer needs from
// the fieldbus goes through this interface.
type Bus interface {
	// Master information, slave count & scan state
	Info() (MasterInfo, error)
	// Identity of slave at bus position
	SlaveInfo(position uint16) (SlaveInfo, error)
	// Sync manager description, PDOs are not filled in
	SyncManager(position uint16, sm uint8) (SyncInfo, error)
	// PDO assigned to a sync manager, entries are not filled in
	Pdo(position uint16, sm uint8, pdo uint16) (PdoInfo, error)
	PdoEntry(position uint16, sm uint8, pdo uint16, entry uint8) (PdoEntryInfo, error)
	// Object dictionary object, object is the position inside of the object list
	SdoInfo(position uint16, object uint16) (SdoInfo, error)
	SdoEntryInfo(position uint16, index uint16, subindex uint8) (SdoEntryInfo, error)

	SlaveConfig(alias uint16, position uint16, vendorId uint32, productCode uint32) (SlaveConfig, error)
	CreateDomain() (Domain, error)
	Activate() error
	Deactivate() error
	RequestSlaveState(position uint16, state AlState) error

	// Per-cycle primitives, these must never block
	Receive() error
	Send() error
	State() MasterState

	// Blocking transfers, only safe while no cyclic exchange is running
	SdoUpload(ctx context.Context, position uint16, index uint16, subindex uint8, data []byte) (n int, abort uint32, err error)
	SdoDownload(ctx context.Context, position uint16, index uint16, subindex uint8, data []byte) (abort uint32, err error)

	Release() error
}

// SlaveConfig is the master-side configuration of one slave
type SlaveConfig interface {
	// Configure the PDO assignment. syncs must be terminated by an entry
	// with index [EndOfSyncs].
	ConfigurePdos(syncs []SyncInfo) error
	State() SlaveConfigState
	CreateSdoRequest(index uint16, subindex uint8, size int) (SdoRequest, error)
}

// Domain groups all the PDO entries exchanged together every cycle
type Domain interface {
	// Register the PDO entries. regs must be terminated by an entry
	// with a zero vendor id. Offsets are written back into each
	// registration's Offset & BitPosition cells.
	RegisterPdoEntryList(regs []PdoEntryReg) error
	// Process data image, nil if master is not activated
	Data() ProcessImage
	Process() error
	Queue() error
	State() DomainState
}

// SdoRequest is a non blocking SDO transfer handled by the master
// during cyclic operation. Submission and state inspection are atomic
// with regards to each other.
type SdoRequest interface {
	SetTimeout(timeout time.Duration)
	State() RequestState
	Read()
	Write()
	Data() []byte
}
