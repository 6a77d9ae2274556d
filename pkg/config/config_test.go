package config

import (
	"testing"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/driver/virtual"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/slave"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

const testConfig = `
[master]
driver = virtual
index = 1
channel = topology.ini
cycle_period_us = 2000
scan_retries = 50
scan_interval_ms = 2
sdo_timeout_ms = 100

[log]
level = debug

[gateway]
enabled = true
address = 0.0.0.0:9000

[devices]
0x1234:0x1 = cia402
0x1234:2 = Digital I/O

[slave.0.parameters]
0x6060:0 = -1
0x2010:2 = 4

[slave.1.parameters]
0x1000:0 = 1
`

func TestDefault(t *testing.T) {
	config, err := Load([]byte(""))
	assert.Nil(t, err)
	assert.Equal(t, DefaultDriver, config.Master.Driver)
	assert.Equal(t, 0, config.Master.Index)
	assert.Equal(t, "", config.Master.Channel)
	assert.Equal(t, master.DefaultCyclePeriod, config.Master.CyclePeriod)
	assert.Equal(t, master.DefaultConfig(), config.Master.Config)
	assert.Equal(t, log.InfoLevel, config.LogLevel)
	assert.False(t, config.Gateway.Enabled)
	assert.Equal(t, DefaultGatewayAddress, config.Gateway.Address)
	assert.Empty(t, config.Devices)
	assert.Empty(t, config.Positions())
}

func TestLoad(t *testing.T) {
	config, err := Load([]byte(testConfig))
	assert.Nil(t, err)
	assert.Equal(t, "virtual", config.Master.Driver)
	assert.Equal(t, 1, config.Master.Index)
	assert.Equal(t, "topology.ini", config.Master.Channel)
	assert.Equal(t, 2*time.Millisecond, config.Master.CyclePeriod)
	assert.Equal(t, 50, config.Master.ScanRetries)
	assert.Equal(t, 2*time.Millisecond, config.Master.ScanInterval)
	assert.Equal(t, 100*time.Millisecond, config.Master.SdoTimeout)
	assert.Equal(t, log.DebugLevel, config.LogLevel)
	assert.True(t, config.Gateway.Enabled)
	assert.Equal(t, "0.0.0.0:9000", config.Gateway.Address)
	assert.Equal(t, map[DeviceIdentity]slave.DeviceType{
		{0x1234, 1}: slave.DeviceCiA402Drive,
		{0x1234, 2}: slave.DeviceDigitalIO,
	}, config.Devices)
	assert.Equal(t, []int{0, 1}, config.Positions())
	assert.Equal(t, []Parameter{{0x6060, 0, -1}, {0x2010, 2, 4}}, config.Parameters[0])

	config.RegisterDevices()
	assert.Equal(t, slave.DeviceCiA402Drive, slave.LookupDeviceType(0x1234, 1))
	assert.Equal(t, slave.DeviceDigitalIO, slave.LookupDeviceType(0x1234, 2))
}

func TestLoadErrors(t *testing.T) {
	invalid := []string{
		"[master]\nindex = -1",
		"[master]\nscan_retries = 0",
		"[master]\ncycle_period_us = fast",
		"[master]\nsdo_timeout_ms = 0",
		"[log]\nlevel = loud",
		"[devices]\n0x1234 = cia402",
		"[devices]\n0x1234:1 = servo",
		"[slave.0.parameters]\n0x6060 = 1",
		"[slave.0.parameters]\n0x6060:0 = one",
		"[slave.0.parameters]\n0x6060:0x100 = 1",
	}
	for _, content := range invalid {
		_, err := Load([]byte(content))
		assert.NotNil(t, err, content)
	}
	_, err := Load("does_not_exist.ini")
	assert.NotNil(t, err)
}

func newTestMaster(t *testing.T) (*master.Master, *virtual.Master) {
	devices, err := virtual.ParseTopology(virtual.DefaultTopology())
	assert.Nil(t, err)
	bus := virtual.NewMaster(devices...)
	m, err := master.NewMaster(bus, nil, nil)
	assert.Nil(t, err)
	return m, bus
}

func TestApplyParameters(t *testing.T) {
	m, bus := newTestMaster(t)
	config, err := Load([]byte(testConfig))
	assert.Nil(t, err)

	// 0x1000 of slave 1 is read only
	err = config.ApplyParameters(m, nil)
	assert.ErrorIs(t, err, ethercat.AbortReadOnly)

	raw, err := bus.ObjectValue(0, 0x6060, 0)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0xff}, raw)
	raw, err = bus.ObjectValue(0, 0x2010, 2)
	assert.Nil(t, err)
	assert.Equal(t, []byte{4}, raw)

	delete(config.Parameters, 1)
	assert.Nil(t, config.ApplyParameters(m, nil))
}

func TestConfigurator(t *testing.T) {
	m, _ := newTestMaster(t)
	drive := NewSlaveConfigurator(0, m, nil)

	profile, err := drive.ReadProfile()
	assert.Nil(t, err)
	assert.EqualValues(t, 402, profile)
	statusword, err := drive.ReadStatusword()
	assert.Nil(t, err)
	assert.EqualValues(t, 0x0250, statusword)

	assert.Nil(t, drive.WriteModeOfOperation(-1))
	mode, err := drive.ReadModeOfOperation()
	assert.Nil(t, err)
	assert.EqualValues(t, -1, mode)
	mode, err = drive.ReadModeOfOperationDisplay()
	assert.Nil(t, err)
	assert.EqualValues(t, 8, mode)

	assert.Nil(t, drive.WriteControlword(0x0f))
	value, err := m.ReadSdo(0, EntryControlword, 0)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x0f, value)

	// Not part of the digital I/O dictionary
	io := NewSlaveConfigurator(1, m, nil)
	_, err = io.ReadStatusword()
	assert.ErrorIs(t, err, ethercat.ErrNotFound)
	profile, err = io.ReadProfile()
	assert.Nil(t, err)
	assert.EqualValues(t, 401, profile)
}
