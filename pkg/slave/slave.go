package slave

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/pdo"
	"github.com/samsamfire/goethercat/pkg/sdo"
	log "github.com/sirupsen/logrus"
)

// A Slave is the master side representation of a device discovered on the bus.
// Its structure is fixed once discovered, only values & states change afterwards.
type Slave struct {
	mu         sync.Mutex
	logger     *log.Entry
	info       ethercat.SlaveInfo
	deviceType DeviceType
	inputs     []*pdo.Entry
	outputs    []*pdo.Entry
	syncs      []ethercat.SyncInfo // Terminated by an [ethercat.EndOfSyncs] entry
	dict       *sdo.Dictionary
	router     *sdo.Router
	config     ethercat.SlaveConfig
	state      ethercat.SlaveConfigState
	warnings   []error
}

// Id returns the bus position of the slave
func (s *Slave) Id() uint16 {
	return s.info.Position
}

func (s *Slave) Info() ethercat.SlaveInfo {
	return s.info
}

func (s *Slave) Type() DeviceType {
	return s.deviceType
}

// Syncs returns the sync manager descriptions, including the terminating entry
func (s *Slave) Syncs() []ethercat.SyncInfo {
	return s.syncs
}

func (s *Slave) Inputs() []*pdo.Entry {
	return s.inputs
}

func (s *Slave) Outputs() []*pdo.Entry {
	return s.outputs
}

func (s *Slave) Dictionary() *sdo.Dictionary {
	return s.dict
}

func (s *Slave) Router() *sdo.Router {
	return s.router
}

func (s *Slave) Config() ethercat.SlaveConfig {
	return s.config
}

// Warnings returns the non fatal errors encountered during discovery
func (s *Slave) Warnings() []error {
	return s.warnings
}

func (s *Slave) String() string {
	return fmt.Sprintf("%v (x%x) [%v] x%x:x%x", s.info.Name, s.info.Position, s.deviceType, s.info.VendorId, s.info.ProductCode)
}

func (s *Slave) warn(err error) {
	s.logger.Warn(err)
	s.warnings = append(s.warnings, err)
}

// Discover reads identity, PDO assignment and object dictionary
// of the slave at the given bus position, then configures its PDOs.
func Discover(bus ethercat.Bus, position uint16, sdoTimeout time.Duration, logger *log.Entry) (*Slave, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	info, err := bus.SlaveInfo(position)
	if err != nil {
		logger.Errorf("[x%x] could not read slave information : %v", position, err)
		return nil, fmt.Errorf("%w : position %v : %v", ethercat.ErrSlaveInfo, position, err)
	}
	if len(info.Name) > ethercat.MaxStringLength {
		info.Name = info.Name[:ethercat.MaxStringLength]
	}
	s := &Slave{
		logger:     logger.WithField("slave", fmt.Sprintf("x%x", position)),
		info:       info,
		deviceType: LookupDeviceType(info.VendorId, info.ProductCode),
		inputs:     make([]*pdo.Entry, 0),
		outputs:    make([]*pdo.Entry, 0),
		dict:       sdo.NewDictionary(),
	}
	s.discoverSyncs(bus)
	if err := s.Configure(bus); err != nil {
		return nil, err
	}
	s.discoverDictionary(bus)
	s.router = sdo.NewRouter(bus, position, s.dict, sdoTimeout, logger)
	s.logger.Infof("discovered %v, %v inputs, %v outputs, %v dictionary entries",
		s, len(s.inputs), len(s.outputs), s.dict.Len())
	return s, nil
}

func (s *Slave) discoverSyncs(bus ethercat.Bus) {
	position := s.info.Position
	s.syncs = make([]ethercat.SyncInfo, 0, s.info.SyncCount+1)

	for j := uint8(0); j < s.info.SyncCount; j++ {
		sm, err := bus.SyncManager(position, j)
		if err != nil {
			s.warn(fmt.Errorf("sync manager %v : %w", j, err))
			continue
		}
		// No PDO, sync manager is used for mailbox
		if sm.PdoCount == 0 {
			sm.Pdos = nil
			s.syncs = append(s.syncs, sm)
			continue
		}
		var values *[]*pdo.Entry
		switch sm.Direction {
		case ethercat.DirOutput:
			values = &s.outputs
		case ethercat.DirInput:
			values = &s.inputs
		default:
			s.warn(fmt.Errorf("%w : sync manager %v, %v", ethercat.ErrDirection, j, sm.Direction))
			continue
		}
		sm.Pdos = make([]ethercat.PdoInfo, 0, sm.PdoCount)
		for k := uint16(0); k < sm.PdoCount; k++ {
			pdoInfo, err := bus.Pdo(position, j, k)
			if err != nil {
				s.warn(fmt.Errorf("sync manager %v pdo %v : %w", j, k, err))
				continue
			}
			pdoInfo.Entries = make([]ethercat.PdoEntryInfo, 0, pdoInfo.EntryCount)
			for l := uint8(0); l < pdoInfo.EntryCount; l++ {
				entryInfo, err := bus.PdoEntry(position, j, k, l)
				if err != nil {
					s.warn(fmt.Errorf("pdo x%x entry %v : %w", pdoInfo.Index, l, err))
					continue
				}
				pdoInfo.Entries = append(pdoInfo.Entries, entryInfo)
				*values = append(*values, &pdo.Entry{
					Index:     entryInfo.Index,
					Subindex:  entryInfo.Subindex,
					BitLength: entryInfo.BitLength,
				})
			}
			pdoInfo.EntryCount = uint8(len(pdoInfo.Entries))
			sm.Pdos = append(sm.Pdos, pdoInfo)
		}
		sm.PdoCount = uint16(len(sm.Pdos))
		s.syncs = append(s.syncs, sm)
	}
	s.syncs = append(s.syncs, ethercat.SyncInfo{Index: ethercat.EndOfSyncs})
}

func (s *Slave) discoverDictionary(bus ethercat.Bus) {
	position := s.info.Position
	for i := uint16(0); i < s.info.SdoCount; i++ {
		object, err := bus.SdoInfo(position, i)
		if err != nil {
			s.warn(fmt.Errorf("dictionary object %v : %w", i, err))
			continue
		}
		for j := 0; j <= int(object.MaxIndex); j++ {
			entryInfo, err := bus.SdoEntryInfo(position, object.Index, uint8(j))
			if err != nil {
				s.warn(fmt.Errorf("dictionary entry x%04x|x%x : %w", object.Index, j, err))
				continue
			}
			name := entryInfo.Description
			if len(name) > ethercat.MaxStringLength {
				name = name[:ethercat.MaxStringLength]
			}
			err = s.dict.Add(&sdo.Entry{
				Index:       object.Index,
				Subindex:    uint8(j),
				ObjectType:  object.ObjectCode,
				DataType:    entryInfo.DataType,
				BitLength:   entryInfo.BitLength,
				Name:        name,
				ReadAccess:  entryInfo.ReadAccess,
				WriteAccess: entryInfo.WriteAccess,
			})
			if err != nil {
				s.warn(err)
			}
		}
	}
}

// Configure acquires the master side configuration of the slave and
// configures its PDO assignment. The configuration is lost when the
// master is deactivated and must be acquired again before activation.
func (s *Slave) Configure(bus ethercat.Bus) error {
	info := s.info
	config, err := bus.SlaveConfig(info.Alias, info.Position, info.VendorId, info.ProductCode)
	if err != nil || config == nil {
		s.logger.Errorf("failed to acquire slave configuration : %v", err)
		return fmt.Errorf("%w : position %v : %v", ethercat.ErrSlaveConfig, info.Position, err)
	}
	if err := config.ConfigurePdos(s.syncs); err != nil {
		s.logger.Errorf("failed to configure PDOs : %v", err)
		return fmt.Errorf("%w : position %v : %v", ethercat.ErrPdoConfig, info.Position, err)
	}
	s.mu.Lock()
	s.config = config
	s.mu.Unlock()
	return nil
}

// SetupRequests creates the scheduled SDO requests used in cyclic operation
func (s *Slave) SetupRequests() error {
	if s.config == nil {
		return ethercat.ErrSlaveConfig
	}
	return s.dict.SetupRequests(s.config, s.router.Timeout())
}

func (s *Slave) ReleaseRequests() {
	s.dict.ReleaseRequests()
}

// Refresh decodes all input values from the image. A failing entry
// does not prevent the others from being decoded.
func (s *Slave) Refresh(image ethercat.ProcessImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, entry := range s.inputs {
		if _, err := entry.Refresh(image); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush encodes all output values into the image. A failing entry
// does not prevent the others from being encoded.
func (s *Slave) Flush(image ethercat.ProcessImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, entry := range s.outputs {
		if err := entry.Flush(image); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UpdateState takes a snapshot of the slave configuration state
func (s *Slave) UpdateState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return
	}
	s.state = s.config.State()
}

// CurrentState returns the last state snapshot
func (s *Slave) CurrentState() ethercat.SlaveConfigState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PollRequests reconciles the scheduled SDO requests, called every cycle
func (s *Slave) PollRequests() {
	s.dict.Poll()
}

func (s *Slave) InCount() int {
	return len(s.inputs)
}

func (s *Slave) OutCount() int {
	return len(s.outputs)
}

// InPdo returns a copy of input entry i
func (s *Slave) InPdo(i int) (pdo.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.inputs) {
		return pdo.Entry{}, fmt.Errorf("%w : input %v", ethercat.ErrNotFound, i)
	}
	return *s.inputs[i], nil
}

// OutPdo returns a copy of output entry i
func (s *Slave) OutPdo(i int) (pdo.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.outputs) {
		return pdo.Entry{}, fmt.Errorf("%w : output %v", ethercat.ErrNotFound, i)
	}
	return *s.outputs[i], nil
}

// InValue returns the last decoded value of input entry i
func (s *Slave) InValue(i int) (int64, error) {
	entry, err := s.InPdo(i)
	return entry.Value, err
}

// OutValue returns the value that will be sent for output entry i
func (s *Slave) OutValue(i int) (int64, error) {
	entry, err := s.OutPdo(i)
	return entry.Value, err
}

// SetOutValue sets the value sent for output entry i from the next cycle on
func (s *Slave) SetOutValue(i int, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.outputs) {
		return fmt.Errorf("%w : output %v", ethercat.ErrNotFound, i)
	}
	s.outputs[i].Value = value
	return nil
}

func (s *Slave) SdoCount() int {
	return s.dict.Len()
}

// SdoAt returns dictionary entry i, in discovery order
func (s *Slave) SdoAt(i int) (*sdo.Entry, error) {
	return s.dict.At(i)
}

// ReadSdo reads a dictionary value, see [sdo.Router]
func (s *Slave) ReadSdo(index uint16, subindex uint8) (int64, error) {
	return s.router.Read(index, subindex)
}

// WriteSdo writes a dictionary value, see [sdo.Router]
func (s *Slave) WriteSdo(index uint16, subindex uint8, value int64) error {
	return s.router.Write(index, subindex, value)
}
