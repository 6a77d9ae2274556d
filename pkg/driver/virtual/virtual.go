// Package virtual is an in-memory EtherCAT master primarily used for testing.
//
// Slaves are simulated [Device] values with their own PDO mapping, process
// data and object dictionary. Scheduled SDO requests complete on the
// [Master.Receive] following their submission, the way a real master
// completes them over the next bus cycles.
package virtual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/driver"
	log "github.com/sirupsen/logrus"
)

func init() {
	driver.RegisterInterface("virtual", NewVirtualBus)
}

var (
	ErrNoDevice   = errors.New("no slave at position")
	ErrActive     = errors.New("not allowed while master is activated")
	ErrIdentity   = errors.New("vendor id or product code does not match")
	ErrTerminator = errors.New("list is not terminated")
)

var _ ethercat.Bus = (*Master)(nil)

type Master struct {
	mu         sync.Mutex
	logger     *log.Entry
	index      int
	devices    []*Device
	linkUp     bool
	scanCycles int
	active     bool
	configs    map[uint16]*slaveConfig
	domains    []*domain
	requests   []*request
	wrap       func(ethercat.ProcessImage) ethercat.ProcessImage
	infoErrors map[uint16]error
	receives   int
	sends      int
}

// NewVirtualBus creates a virtual master from a topology file.
// The embedded default topology is used if channel is empty.
func NewVirtualBus(index int, channel string) (ethercat.Bus, error) {
	var source any = channel
	if channel == "" {
		source = defaultTopology
	}
	devices, err := ParseTopology(source)
	if err != nil {
		return nil, err
	}
	master := NewMaster(devices...)
	master.index = index
	return master, nil
}

// NewMaster creates a virtual master with the given devices,
// device position is its position inside of the list
func NewMaster(devices ...*Device) *Master {
	for i, device := range devices {
		device.Info.Position = uint16(i)
	}
	return &Master{
		logger:     log.WithField("service", "[VIRTUAL]"),
		devices:    devices,
		linkUp:     true,
		configs:    make(map[uint16]*slaveConfig),
		infoErrors: make(map[uint16]error),
	}
}

func (m *Master) SetLogger(logger *log.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger.WithField("service", "[VIRTUAL]")
}

func (m *Master) device(position uint16) (*Device, error) {
	if int(position) >= len(m.devices) {
		return nil, fmt.Errorf("%w %v", ErrNoDevice, position)
	}
	return m.devices[position], nil
}

func (m *Master) Info() (ethercat.MasterInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := ethercat.MasterInfo{LinkUp: m.linkUp, ScanBusy: m.scanCycles > 0}
	if m.scanCycles > 0 {
		m.scanCycles--
	}
	if m.linkUp {
		info.SlaveCount = uint16(len(m.devices))
	}
	info.AppTime = uint64(time.Now().UnixNano())
	return info, nil
}

func (m *Master) SlaveInfo(position uint16) (ethercat.SlaveInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.infoErrors[position]; ok {
		return ethercat.SlaveInfo{}, err
	}
	device, err := m.device(position)
	if err != nil {
		return ethercat.SlaveInfo{}, err
	}
	info := device.Info
	info.AlState = device.alState
	info.SyncCount = uint8(len(device.Syncs))
	info.SdoCount = uint16(len(device.Objects))
	return info, nil
}

func (m *Master) SyncManager(position uint16, sm uint8) (ethercat.SyncInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(position)
	if err != nil {
		return ethercat.SyncInfo{}, err
	}
	if int(sm) >= len(device.Syncs) {
		return ethercat.SyncInfo{}, fmt.Errorf("no sync manager %v", sm)
	}
	info := device.Syncs[sm]
	info.Pdos = nil
	return info, nil
}

func (m *Master) Pdo(position uint16, sm uint8, pdo uint16) (ethercat.PdoInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(position)
	if err != nil {
		return ethercat.PdoInfo{}, err
	}
	if int(sm) >= len(device.Syncs) || int(pdo) >= len(device.Syncs[sm].Pdos) {
		return ethercat.PdoInfo{}, fmt.Errorf("no pdo %v in sync manager %v", pdo, sm)
	}
	info := device.Syncs[sm].Pdos[pdo]
	info.Entries = nil
	return info, nil
}

func (m *Master) PdoEntry(position uint16, sm uint8, pdo uint16, entry uint8) (ethercat.PdoEntryInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(position)
	if err != nil {
		return ethercat.PdoEntryInfo{}, err
	}
	if int(sm) >= len(device.Syncs) || int(pdo) >= len(device.Syncs[sm].Pdos) {
		return ethercat.PdoEntryInfo{}, fmt.Errorf("no pdo %v in sync manager %v", pdo, sm)
	}
	entries := device.Syncs[sm].Pdos[pdo].Entries
	if int(entry) >= len(entries) {
		return ethercat.PdoEntryInfo{}, fmt.Errorf("no entry %v in pdo %v", entry, pdo)
	}
	return entries[entry], nil
}

func (m *Master) SdoInfo(position uint16, object uint16) (ethercat.SdoInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(position)
	if err != nil {
		return ethercat.SdoInfo{}, err
	}
	if int(object) >= len(device.Objects) {
		return ethercat.SdoInfo{}, fmt.Errorf("no object %v", object)
	}
	o := device.Objects[object]
	return ethercat.SdoInfo{Index: o.Index, MaxIndex: o.MaxIndex(), ObjectCode: o.ObjectCode, Name: o.Name}, nil
}

func (m *Master) SdoEntryInfo(position uint16, index uint16, subindex uint8) (ethercat.SdoEntryInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(position)
	if err != nil {
		return ethercat.SdoEntryInfo{}, err
	}
	entry, abort := device.entry(index, subindex)
	if abort != 0 {
		return ethercat.SdoEntryInfo{}, ethercat.AbortCode(abort)
	}
	if entry.Unreadable {
		return ethercat.SdoEntryInfo{}, fmt.Errorf("entry x%x|x%x information not available", index, subindex)
	}
	return ethercat.SdoEntryInfo{
		DataType:    entry.DataType,
		BitLength:   entry.BitLength,
		ReadAccess:  entry.ReadAccess,
		WriteAccess: entry.WriteAccess,
		Description: entry.Description,
	}, nil
}

func (m *Master) SlaveConfig(alias uint16, position uint16, vendorId uint32, productCode uint32) (ethercat.SlaveConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return nil, ErrActive
	}
	device, err := m.device(position)
	if err != nil {
		return nil, err
	}
	if device.Info.Alias != alias || device.Info.VendorId != vendorId || device.Info.ProductCode != productCode {
		return nil, fmt.Errorf("%w : position %v", ErrIdentity, position)
	}
	config, ok := m.configs[position]
	if !ok {
		config = &slaveConfig{master: m, position: position}
		m.configs[position] = config
	}
	return config, nil
}

func (m *Master) CreateDomain() (ethercat.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return nil, ErrActive
	}
	d := &domain{master: m, regions: make([]*region, 0)}
	m.domains = append(m.domains, d)
	return d, nil
}

// Activate allocates the process data images and brings the configured slaves to OP
func (m *Master) Activate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return ErrActive
	}
	if !m.linkUp {
		return ethercat.ErrLinkDown
	}
	for _, d := range m.domains {
		d.image = make(ethercat.Buffer, d.size)
	}
	for position := range m.configs {
		m.devices[position].alState = ethercat.AlOp
	}
	m.active = true
	m.logger.Infof("[x%x] activated, %v domains, %v slaves configured", m.index, len(m.domains), len(m.configs))
	return nil
}

// Deactivate removes the bus configuration, everything created by
// the application is invalid afterwards
func (m *Master) Deactivate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivate()
	return nil
}

func (m *Master) deactivate() {
	for _, d := range m.domains {
		d.image = nil
	}
	for _, r := range m.requests {
		r.valid = false
	}
	m.domains = nil
	m.requests = nil
	m.configs = make(map[uint16]*slaveConfig)
	for _, device := range m.devices {
		if device.alState.Has(ethercat.AlSafeOp) || device.alState.Has(ethercat.AlOp) {
			device.alState = ethercat.AlPreOp
		}
	}
	if m.active {
		m.logger.Infof("[x%x] deactivated", m.index)
	}
	m.active = false
}

func (m *Master) RequestSlaveState(position uint16, state ethercat.AlState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(position)
	if err != nil {
		return err
	}
	switch state {
	case ethercat.AlInit, ethercat.AlPreOp, ethercat.AlBoot, ethercat.AlSafeOp:
	case ethercat.AlOp:
		if !m.active {
			return fmt.Errorf("%w : slave %v cannot enter OP", ethercat.ErrInactive, position)
		}
	default:
		return fmt.Errorf("%w : state %v", ethercat.ErrIllegalArgument, state)
	}
	device.alState = state
	return nil
}

// Receive completes the scheduled requests submitted since the last cycle
func (m *Master) Receive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receives++
	for _, r := range m.requests {
		if r.state == ethercat.RequestBusy {
			r.complete()
		}
	}
	return nil
}

func (m *Master) Send() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++
	return nil
}

func (m *Master) State() ethercat.MasterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := ethercat.MasterState{LinkUp: m.linkUp}
	if !m.linkUp {
		return state
	}
	state.SlavesResponding = uint32(len(m.devices))
	for _, device := range m.devices {
		state.AlStates |= device.alState
	}
	return state
}

func (m *Master) SdoUpload(ctx context.Context, position uint16, index uint16, subindex uint8, data []byte) (int, uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.linkUp {
		return 0, 0, ethercat.ErrLinkDown
	}
	device, err := m.device(position)
	if err != nil {
		return 0, 0, err
	}
	value, abort := device.upload(index, subindex)
	if abort != 0 {
		return 0, abort, nil
	}
	if len(data) < len(value) {
		return 0, 0, fmt.Errorf("%w : buffer of %v bytes, value of %v bytes", ethercat.ErrIllegalArgument, len(data), len(value))
	}
	return copy(data, value), 0, nil
}

func (m *Master) SdoDownload(ctx context.Context, position uint16, index uint16, subindex uint8, data []byte) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.linkUp {
		return 0, ethercat.ErrLinkDown
	}
	device, err := m.device(position)
	if err != nil {
		return 0, err
	}
	return device.download(index, subindex, data), nil
}

func (m *Master) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivate()
	return nil
}

// SetLinkUp simulates a cable being (dis)connected
func (m *Master) SetLinkUp(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkUp = up
}

// SetScanCycles makes the next n calls to Info report a busy scan
func (m *Master) SetScanCycles(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCycles = n
}

// SetAlState forces the state of a slave
func (m *Master) SetAlState(position uint16, state ethercat.AlState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(position)
	if err != nil {
		return err
	}
	device.alState = state
	return nil
}

// SetSlaveInfoError makes SlaveInfo fail for the given position
func (m *Master) SetSlaveInfoError(position uint16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoErrors[position] = err
}

// SetAbort makes every transfer on index|subindex fail with abort code
func (m *Master) SetAbort(position uint16, index uint16, subindex uint8, abort ethercat.AbortCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(position)
	if err != nil {
		return err
	}
	device.aborts[objectKey{index, subindex}] = uint32(abort)
	return nil
}

// WrapImage wraps the process data image returned by domains,
// e.g. for recording accesses
func (m *Master) WrapImage(wrap func(ethercat.ProcessImage) ethercat.ProcessImage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wrap = wrap
}

// SetInput sets the value a slave will send for a mapped input entry
func (m *Master) SetInput(position uint16, index uint16, subindex uint8, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(position)
	if err != nil {
		return err
	}
	return device.setProcessValue(index, subindex, value)
}

// Output returns the raw value last received by a slave for a mapped output entry
func (m *Master) Output(position uint16, index uint16, subindex uint8) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(position)
	if err != nil {
		return 0, err
	}
	return device.processValue(index, subindex)
}

// ObjectValue returns the raw value of a dictionary entry of a slave
func (m *Master) ObjectValue(position uint16, index uint16, subindex uint8) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(position)
	if err != nil {
		return nil, err
	}
	entry, abort := device.entry(index, subindex)
	if abort != 0 {
		return nil, ethercat.AbortCode(abort)
	}
	value := make([]byte, len(entry.Value))
	copy(value, entry.Value)
	return value, nil
}

// Cycles returns the number of receive & send calls
func (m *Master) Cycles() (receives int, sends int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receives, m.sends
}

func (m *Master) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
