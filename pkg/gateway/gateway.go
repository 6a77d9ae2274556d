package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/slave"
	log "github.com/sirupsen/logrus"
)

// BaseGateway implements the gateway features independent of the
// transport used, i.e. slave & master information, SDO access, PDO values
// and slave state requests. Each gateway maps its own parsing logic to
// this base gateway.
type BaseGateway struct {
	mu           sync.Mutex
	master       *master.Master
	logger       *log.Entry
	masterIndex  int
	defaultSlave int
}

func NewBaseGateway(m *master.Master, masterIndex int, defaultSlave int, logger *log.Entry) *BaseGateway {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &BaseGateway{
		master:       m,
		logger:       logger,
		masterIndex:  masterIndex,
		defaultSlave: defaultSlave,
	}
}

type GatewayVersion struct {
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocol_version"`
	SlaveCount      int    `json:"slave_count"`
}

type SlaveDescription struct {
	Position    uint16 `json:"position"`
	Alias       uint16 `json:"alias"`
	Name        string `json:"name"`
	VendorId    string `json:"vendor_id"`
	ProductCode string `json:"product_code"`
	Revision    string `json:"revision"`
	Serial      string `json:"serial"`
	Type        string `json:"type"`
	State       string `json:"state"`
	Online      bool   `json:"online"`
	Operational bool   `json:"operational"`
	Inputs      int    `json:"inputs"`
	Outputs     int    `json:"outputs"`
	Sdos        int    `json:"sdos"`
}

type MasterDescription struct {
	Index            int    `json:"index"`
	Session          string `json:"session"`
	Active           bool   `json:"active"`
	LinkUp           bool   `json:"link_up"`
	SlaveCount       int    `json:"slave_count"`
	SlavesResponding uint32 `json:"slaves_responding"`
	States           string `json:"states"`
	WorkingCounter   uint32 `json:"working_counter"`
	WcState          uint8  `json:"wc_state"`
}

// Get the master index served by this gateway
func (gw *BaseGateway) MasterIndex() int {
	return gw.masterIndex
}

// Set default slave position to use
func (gw *BaseGateway) SetDefaultSlave(id int) error {
	if _, err := gw.master.Slave(id); err != nil {
		return err
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.defaultSlave = id
	gw.logger.Debugf("changing default slave to %v", id)
	return nil
}

// Get default slave position
func (gw *BaseGateway) DefaultSlave() int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.defaultSlave
}

func (gw *BaseGateway) SlaveCount() int {
	return gw.master.SlaveCount()
}

// Get gateway version information
func (gw *BaseGateway) GetVersion(protocolVersion string) GatewayVersion {
	return GatewayVersion{
		Version:         ethercat.Version,
		ProtocolVersion: protocolVersion,
		SlaveCount:      gw.master.SlaveCount(),
	}
}

func (gw *BaseGateway) SlaveInfo(id int) (SlaveDescription, error) {
	s, err := gw.master.Slave(id)
	if err != nil {
		return SlaveDescription{}, err
	}
	return describeSlave(s), nil
}

func describeSlave(s *slave.Slave) SlaveDescription {
	info := s.Info()
	state := s.CurrentState()
	alState := state.AlState
	if alState == ethercat.AlUnknown {
		alState = info.AlState
	}
	return SlaveDescription{
		Position:    info.Position,
		Alias:       info.Alias,
		Name:        info.Name,
		VendorId:    fmt.Sprintf("0x%x", info.VendorId),
		ProductCode: fmt.Sprintf("0x%x", info.ProductCode),
		Revision:    fmt.Sprintf("0x%x", info.RevisionNumber),
		Serial:      fmt.Sprintf("0x%x", info.SerialNumber),
		Type:        s.Type().String(),
		State:       alState.String(),
		Online:      state.Online,
		Operational: state.Operational,
		Inputs:      s.InCount(),
		Outputs:     s.OutCount(),
		Sdos:        s.SdoCount(),
	}
}

func (gw *BaseGateway) MasterInfo() MasterDescription {
	state := gw.master.MasterState()
	domain := gw.master.DomainState()
	states := make([]string, 0)
	for _, s := range []ethercat.AlState{ethercat.AlInit, ethercat.AlPreOp, ethercat.AlSafeOp, ethercat.AlOp} {
		if state.AlStates.Has(s) {
			states = append(states, s.String())
		}
	}
	return MasterDescription{
		Index:            gw.masterIndex,
		Session:          gw.master.Session().String(),
		Active:           gw.master.Active(),
		LinkUp:           state.LinkUp,
		SlaveCount:       gw.master.SlaveCount(),
		SlavesResponding: state.SlavesResponding,
		States:           strings.Join(states, "|"),
		WorkingCounter:   domain.WorkingCounter,
		WcState:          uint8(domain.WcState),
	}
}

// Process data values of one slave, in PDO entry order
type SlaveValues struct {
	Position uint16  `json:"position"`
	State    string  `json:"state"`
	Inputs   []int64 `json:"inputs"`
	Outputs  []int64 `json:"outputs"`
}

// Snapshot of the process data, as last exchanged with the bus
type ProcessDataSnapshot struct {
	Session        string        `json:"session"`
	Timestamp      time.Time     `json:"timestamp"`
	WorkingCounter uint32        `json:"working_counter"`
	WcState        uint8         `json:"wc_state"`
	Slaves         []SlaveValues `json:"slaves"`
}

// Snapshot returns the process data of slave id, or of all slaves
// if id is negative
func (gw *BaseGateway) Snapshot(id int) (ProcessDataSnapshot, error) {
	domain := gw.master.DomainState()
	snapshot := ProcessDataSnapshot{
		Session:        gw.master.Session().String(),
		Timestamp:      time.Now(),
		WorkingCounter: domain.WorkingCounter,
		WcState:        uint8(domain.WcState),
		Slaves:         make([]SlaveValues, 0),
	}
	slaves := gw.master.Slaves()
	if id >= 0 {
		s, err := gw.master.Slave(id)
		if err != nil {
			return snapshot, err
		}
		slaves = []*slave.Slave{s}
	}
	for _, s := range slaves {
		values := SlaveValues{
			Position: s.Id(),
			State:    s.CurrentState().AlState.String(),
			Inputs:   make([]int64, s.InCount()),
			Outputs:  make([]int64, s.OutCount()),
		}
		for i := range values.Inputs {
			values.Inputs[i], _ = s.InValue(i)
		}
		for i := range values.Outputs {
			values.Outputs[i], _ = s.OutValue(i)
		}
		snapshot.Slaves = append(snapshot.Slaves, values)
	}
	return snapshot, nil
}

// Request a state change of one slave, or all slaves if id is negative
func (gw *BaseGateway) SetSlaveState(id int, state ethercat.AlState) error {
	gw.logger.Debugf("requesting state %v for slave %v", state, id)
	if id >= 0 {
		return gw.master.SetSlaveState(id, state)
	}
	for i := 0; i < gw.master.SlaveCount(); i++ {
		if err := gw.master.SetSlaveState(i, state); err != nil {
			return err
		}
	}
	return nil
}

// Read SDO, returns the value and its size in bytes.
// Returns [ethercat.ErrTryLater] while a scheduled request is pending.
func (gw *BaseGateway) ReadSDO(id int, index uint16, subindex uint8) (value int64, size int, err error) {
	s, err := gw.master.Slave(id)
	if err != nil {
		return 0, 0, err
	}
	entry, err := s.Dictionary().Lookup(index, subindex)
	if err != nil {
		return 0, 0, err
	}
	value, err = s.Router().ReadEntry(entry)
	return value, entry.Size(), err
}

// Write SDO, value is a decimal or 0x prefixed hexadecimal integer
func (gw *BaseGateway) WriteSDO(id int, index uint16, subindex uint8, value string) error {
	v, err := parseValue(value)
	if err != nil {
		return fmt.Errorf("%w : %v", ethercat.ErrIllegalArgument, err)
	}
	return gw.master.WriteSdo(id, index, subindex, v)
}

// Read PDO entry i of the inputs or the outputs of a slave
func (gw *BaseGateway) ReadPDO(id int, output bool, i int) (int64, error) {
	s, err := gw.master.Slave(id)
	if err != nil {
		return 0, err
	}
	if output {
		return s.OutValue(i)
	}
	return s.InValue(i)
}

// Set the value of output PDO entry i of a slave
func (gw *BaseGateway) WritePDO(id int, i int, value string) error {
	s, err := gw.master.Slave(id)
	if err != nil {
		return err
	}
	v, err := parseValue(value)
	if err != nil {
		return fmt.Errorf("%w : %v", ethercat.ErrIllegalArgument, err)
	}
	return s.SetOutValue(i, v)
}

func parseValue(value string) (int64, error) {
	value = strings.TrimSpace(value)
	v, err := strconv.ParseInt(value, 0, 64)
	if err == nil {
		return v, nil
	}
	// Allow full range unsigned 64 bit hexadecimal values
	u, uerr := strconv.ParseUint(value, 0, 64)
	if uerr != nil {
		return 0, err
	}
	return int64(u), nil
}
