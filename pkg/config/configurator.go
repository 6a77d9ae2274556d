package config

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// CiA 402 objects handled by [SlaveConfigurator]
const (
	EntryDeviceType       uint16 = 0x1000
	EntryControlword      uint16 = 0x6040
	EntryStatusword       uint16 = 0x6041
	EntryModesOfOperation uint16 = 0x6060
	EntryModesDisplay     uint16 = 0x6061
)

// SdoAccessor reads & writes slave dictionary entries, e.g. a [master.Master]
type SdoAccessor interface {
	ReadSdo(id int, index uint16, subindex uint8) (int64, error)
	WriteSdo(id int, index uint16, subindex uint8, value int64) error
}

// SlaveConfigurator provides helper methods for reading / updating
// the dictionary of one slave, going through the SDO access router of
// the master. Objects must be part of the slave dictionary.
type SlaveConfigurator struct {
	accessor SdoAccessor
	id       int
	logger   *log.Entry
}

// Create a new [SlaveConfigurator] for slave id
func NewSlaveConfigurator(id int, accessor SdoAccessor, logger *log.Entry) *SlaveConfigurator {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &SlaveConfigurator{accessor: accessor, id: id, logger: logger.WithField("service", "[CONFIG]")}
}

// Read device type object (0x1000)
func (config *SlaveConfigurator) ReadDeviceType() (uint32, error) {
	value, err := config.accessor.ReadSdo(config.id, EntryDeviceType, 0)
	return uint32(value), err
}

// Read the device profile number, lower 16 bits of the device type
func (config *SlaveConfigurator) ReadProfile() (uint16, error) {
	deviceType, err := config.ReadDeviceType()
	return uint16(deviceType), err
}

func (config *SlaveConfigurator) ReadStatusword() (uint16, error) {
	value, err := config.accessor.ReadSdo(config.id, EntryStatusword, 0)
	return uint16(value), err
}

func (config *SlaveConfigurator) WriteControlword(controlword uint16) error {
	return config.accessor.WriteSdo(config.id, EntryControlword, 0, int64(controlword))
}

func (config *SlaveConfigurator) ReadModeOfOperation() (int8, error) {
	value, err := config.accessor.ReadSdo(config.id, EntryModesOfOperation, 0)
	return int8(value), err
}

func (config *SlaveConfigurator) ReadModeOfOperationDisplay() (int8, error) {
	value, err := config.accessor.ReadSdo(config.id, EntryModesDisplay, 0)
	return int8(value), err
}

func (config *SlaveConfigurator) WriteModeOfOperation(mode int8) error {
	return config.accessor.WriteSdo(config.id, EntryModesOfOperation, 0, int64(mode))
}

// Apply writes the parameters in order. Every parameter is tried,
// failures are returned together.
func (config *SlaveConfigurator) Apply(parameters []Parameter) error {
	var errs []error
	for _, p := range parameters {
		err := config.accessor.WriteSdo(config.id, p.Index, p.Subindex, p.Value)
		if err != nil {
			config.logger.Warnf("[x%x] failed to write %v : %v", config.id, p, err)
			errs = append(errs, fmt.Errorf("x%x|x%x : %w", p.Index, p.Subindex, err))
			continue
		}
		config.logger.Debugf("[x%x] wrote %v", config.id, p)
	}
	return errors.Join(errs...)
}

// ApplyParameters applies the startup parameters of every configured slave
func (c *Config) ApplyParameters(accessor SdoAccessor, logger *log.Entry) error {
	var errs []error
	for _, position := range c.Positions() {
		configurator := NewSlaveConfigurator(position, accessor, logger)
		if err := configurator.Apply(c.Parameters[position]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
