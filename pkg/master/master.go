// Package master is the entry point for controlling an EtherCAT bus.
//
// A [Master] discovers the slaves of a bus, lays out their PDO entries
// inside of one domain and exchanges process data every time
// [Master.CyclicFunction] is called. Slave parameters are accessed through
// [Master.ReadSdo] and [Master.WriteSdo] at any time.
package master

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/domain"
	"github.com/samsamfire/goethercat/pkg/driver"
	"github.com/samsamfire/goethercat/pkg/sdo"
	"github.com/samsamfire/goethercat/pkg/slave"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultScanRetries  = 1000
	DefaultScanInterval = 1 * time.Millisecond
)

type Config struct {
	// Number of times the scan state is polled before giving up
	ScanRetries  int
	ScanInterval time.Duration
	// Timeout of direct transfers and scheduled SDO requests
	SdoTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ScanRetries:  DefaultScanRetries,
		ScanInterval: DefaultScanInterval,
		SdoTimeout:   sdo.DefaultTimeout,
	}
}

type Master struct {
	mu          sync.Mutex
	bus         ethercat.Bus
	logger      *log.Entry
	config      Config
	info        ethercat.MasterInfo
	slaves      []*slave.Slave
	regs        []ethercat.PdoEntryReg
	domain      ethercat.Domain
	image       ethercat.ProcessImage
	masterState ethercat.MasterState
	domainState ethercat.DomainState
	active      bool
	// Identifies one activation, renewed on every start
	session uuid.UUID
}

// RequestMaster requests master index from the given driver and
// initializes it, see [NewMaster]
func RequestMaster(driverName string, index int, channel string, logger *log.Logger, config *Config) (*Master, error) {
	bus, err := driver.NewBus(driverName, index, channel)
	if err != nil {
		return nil, err
	}
	m, err := NewMaster(bus, logger, config)
	if err != nil {
		_ = bus.Release()
		return nil, err
	}
	return m, nil
}

// NewMaster waits for the bus scan to finish, discovers every slave
// and computes the domain registrations. Any slave that cannot be
// discovered aborts initialization.
func NewMaster(bus ethercat.Bus, logger *log.Logger, config *Config) (*Master, error) {
	if bus == nil {
		return nil, ethercat.ErrMasterUnavailable
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	m := &Master{
		bus:    bus,
		logger: logger.WithField("service", "[MASTER]"),
		config: DefaultConfig(),
	}
	if config != nil {
		if config.ScanRetries > 0 {
			m.config.ScanRetries = config.ScanRetries
		}
		if config.ScanInterval > 0 {
			m.config.ScanInterval = config.ScanInterval
		}
		if config.SdoTimeout > 0 {
			m.config.SdoTimeout = config.SdoTimeout
		}
	}
	if err := m.scan(); err != nil {
		return nil, err
	}
	m.slaves = make([]*slave.Slave, 0, m.info.SlaveCount)
	for position := uint16(0); position < m.info.SlaveCount; position++ {
		s, err := slave.Discover(bus, position, m.config.SdoTimeout, logger.WithField("service", "[SLAVE]"))
		if err != nil {
			m.logger.Errorf("initialization aborted : %v", err)
			return nil, err
		}
		m.slaves = append(m.slaves, s)
	}
	m.regs = domain.Build(m.slaves, logger.WithField("service", "[DOMAIN]"))
	m.updateMasterState()
	m.updateSlaveStates()
	m.logger.Infof("initialized with %v slaves, %v pdo entries registered", len(m.slaves), domain.Count(m.regs))
	return m, nil
}

// Poll master information until the bus scan is finished
func (m *Master) scan() error {
	for retry := 0; retry < m.config.ScanRetries; retry++ {
		info, err := m.bus.Info()
		if err != nil {
			return fmt.Errorf("%w : %v", ethercat.ErrMasterUnavailable, err)
		}
		m.info = info
		if !info.ScanBusy {
			return nil
		}
		time.Sleep(m.config.ScanInterval)
	}
	m.logger.Errorf("scan still busy after %v retries", m.config.ScanRetries)
	return ethercat.ErrScanTimeout
}

// Start configures the slaves, registers the domain and activates the master.
// Process data is exchanged from the next call to [Master.CyclicFunction] on.
func (m *Master) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return fmt.Errorf("%w : already active", ethercat.ErrActivate)
	}
	// Bus configuration is lost on deactivation, acquire it again
	for _, s := range m.slaves {
		if err := s.Configure(m.bus); err != nil {
			m.rollback()
			return err
		}
		if err := s.SetupRequests(); err != nil {
			m.logger.Errorf("[x%x] could not setup sdo requests : %v", s.Id(), err)
			m.rollback()
			return err
		}
	}
	d, err := m.bus.CreateDomain()
	if err != nil || d == nil {
		m.rollback()
		return fmt.Errorf("%w : %v", ethercat.ErrDomain, err)
	}
	if err := d.RegisterPdoEntryList(m.regs); err != nil {
		m.logger.Errorf("cannot register pdo domain : %v", err)
		m.rollback()
		return fmt.Errorf("%w : %v", ethercat.ErrDomain, err)
	}
	if err := m.bus.Activate(); err != nil {
		m.logger.Errorf("could not activate master : %v", err)
		m.rollback()
		return fmt.Errorf("%w : %v", ethercat.ErrActivate, err)
	}
	image := d.Data()
	if image == nil {
		m.logger.Error("unable to get process data, deactivating")
		m.rollback()
		return ethercat.ErrNoProcessData
	}
	m.domain = d
	m.image = image
	m.active = true
	m.session = uuid.New()
	m.updateDomainState()
	m.logger.Infof("started session %v, process data image of %v bytes", m.session, image.Size())
	return nil
}

func (m *Master) releaseRequests() {
	for _, s := range m.slaves {
		s.ReleaseRequests()
	}
}

// Undo a partial start, the collaborator drops the slave configurations
// & domains created since the last activation
func (m *Master) rollback() {
	m.releaseRequests()
	if err := m.bus.Deactivate(); err != nil {
		m.logger.Warnf("rollback failed : %v", err)
	}
}

// Stop deactivates the master, the process data image and every
// scheduled request become invalid
func (m *Master) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	m.active = false
	m.domain = nil
	m.image = nil
	m.releaseRequests()
	err := m.bus.Deactivate()
	m.logger.Info("stopped")
	return err
}

// Release stops the master and releases it, the master must not be used afterwards
func (m *Master) Release() error {
	err := m.Stop()
	return errors.Join(err, m.bus.Release())
}

// CyclicFunction must be called once per cycle while the master is active.
// Inputs are decoded before states are refreshed, scheduled SDO requests
// are reconciled and outputs are encoded. It never blocks on the bus.
func (m *Master) CyclicFunction() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return ethercat.ErrInactive
	}
	err := m.receivePdo()
	m.updateDomainState()
	m.updateMasterState()
	m.updateSlaveStates()
	m.pollRequests()
	return errors.Join(err, m.sendPdo())
}

// PdoExchange receives then sends process data without refreshing states
func (m *Master) PdoExchange() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return ethercat.ErrInactive
	}
	err := m.receivePdo()
	return errors.Join(err, m.sendPdo())
}

// ReceivePdo receives process data and decodes the inputs of all slaves
func (m *Master) ReceivePdo() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return ethercat.ErrInactive
	}
	return m.receivePdo()
}

// SendPdo encodes the outputs of all slaves and sends process data
func (m *Master) SendPdo() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return ethercat.ErrInactive
	}
	return m.sendPdo()
}

func (m *Master) receivePdo() error {
	if err := m.bus.Receive(); err != nil {
		m.logger.Warnf("receive failed : %v", err)
	}
	if err := m.domain.Process(); err != nil {
		m.logger.Warnf("domain process failed : %v", err)
	}
	m.image = m.domain.Data()
	if m.image == nil {
		return ethercat.ErrNoProcessData
	}
	for _, s := range m.slaves {
		if err := s.Refresh(m.image); err != nil {
			m.logger.Warnf("[x%x] inputs : %v", s.Id(), err)
		}
	}
	return nil
}

func (m *Master) sendPdo() error {
	if m.image != nil {
		for _, s := range m.slaves {
			if err := s.Flush(m.image); err != nil {
				m.logger.Warnf("[x%x] outputs : %v", s.Id(), err)
			}
		}
	}
	if err := m.domain.Queue(); err != nil {
		m.logger.Warnf("domain queue failed : %v", err)
	}
	return m.bus.Send()
}

func (m *Master) updateDomainState() {
	state := m.domain.State()
	if state.WcState != m.domainState.WcState {
		m.logger.Debugf("working counter state changed to %v (%v)", state.WcState, state.WorkingCounter)
	}
	m.domainState = state
}

func (m *Master) updateMasterState() {
	state := m.bus.State()
	if state.SlavesResponding != uint32(len(m.slaves)) && state.SlavesResponding != m.masterState.SlavesResponding {
		m.logger.Warnf("slaves responding : %v, expected : %v", state.SlavesResponding, len(m.slaves))
	}
	if state.LinkUp != m.masterState.LinkUp {
		m.logger.Infof("link up : %v", state.LinkUp)
	}
	m.masterState = state
}

func (m *Master) updateSlaveStates() {
	for _, s := range m.slaves {
		s.UpdateState()
	}
}

func (m *Master) pollRequests() {
	for _, s := range m.slaves {
		s.PollRequests()
	}
}

func (m *Master) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Session returns the identifier of the current activation,
// [uuid.Nil] if the master was never started
func (m *Master) Session() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Info returns master information read at initialization
func (m *Master) Info() ethercat.MasterInfo {
	return m.info
}

// MasterState returns the state snapshot of the last cycle
func (m *Master) MasterState() ethercat.MasterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.masterState
}

// DomainState returns the state snapshot of the last cycle
func (m *Master) DomainState() ethercat.DomainState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domainState
}

func (m *Master) SlaveCount() int {
	return len(m.slaves)
}

func (m *Master) SlavesResponding() uint32 {
	return m.MasterState().SlavesResponding
}

func (m *Master) Slaves() []*slave.Slave {
	return m.slaves
}

// Slave returns the slave at bus position id
func (m *Master) Slave(id int) (*slave.Slave, error) {
	if id < 0 || id >= len(m.slaves) {
		return nil, fmt.Errorf("%w : slave %v", ethercat.ErrNotFound, id)
	}
	return m.slaves[id], nil
}

// Registrations returns the domain registrations, terminator included
func (m *Master) Registrations() []ethercat.PdoEntryReg {
	return m.regs
}

// SetSlaveState requests an application layer state change of a slave
func (m *Master) SetSlaveState(id int, state ethercat.AlState) error {
	s, err := m.Slave(id)
	if err != nil {
		return err
	}
	switch state {
	case ethercat.AlInit, ethercat.AlPreOp, ethercat.AlBoot, ethercat.AlSafeOp, ethercat.AlOp:
	default:
		return fmt.Errorf("%w : state %v", ethercat.ErrIllegalArgument, state)
	}
	m.logger.Infof("[x%x] requesting state %v", s.Id(), state)
	return m.bus.RequestSlaveState(s.Id(), state)
}

// ReadSdo reads index|subindex of slave id
func (m *Master) ReadSdo(id int, index uint16, subindex uint8) (int64, error) {
	s, err := m.Slave(id)
	if err != nil {
		return 0, err
	}
	return s.ReadSdo(index, subindex)
}

// WriteSdo writes value to index|subindex of slave id
func (m *Master) WriteSdo(id int, index uint16, subindex uint8, value int64) error {
	s, err := m.Slave(id)
	if err != nil {
		return err
	}
	return s.WriteSdo(index, subindex, value)
}
