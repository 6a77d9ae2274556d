// Package config loads the configuration of an EtherCAT master process
// from an INI file and applies startup parameters to slaves.
package config

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/slave"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

const (
	DefaultDriver         = "virtual"
	DefaultGatewayAddress = "localhost:8090"
)

var (
	matchParameters = regexp.MustCompile(`^slave\.(\d+)\.parameters$`)
	matchObject     = regexp.MustCompile(`^(0[xX][0-9A-Fa-f]+):(\d+|0[xX][0-9A-Fa-f]+)$`)
	matchIdentity   = regexp.MustCompile(`^(0[xX][0-9A-Fa-f]+|\d+):(0[xX][0-9A-Fa-f]+|\d+)$`)
)

type MasterConfig struct {
	Driver string
	Index  int
	// Driver specific, for the virtual driver this is the topology file
	Channel     string
	CyclePeriod time.Duration
	master.Config
}

type GatewayConfig struct {
	Enabled bool
	Address string
}

// DeviceIdentity is a vendor id & product code pair
type DeviceIdentity struct {
	VendorId    uint32
	ProductCode uint32
}

// Parameter is a dictionary value written to a slave before the master is started
type Parameter struct {
	Index    uint16
	Subindex uint8
	Value    int64
}

func (p Parameter) String() string {
	return fmt.Sprintf("x%x|x%x = %v", p.Index, p.Subindex, p.Value)
}

type Config struct {
	Master   MasterConfig
	LogLevel log.Level
	Gateway  GatewayConfig
	Devices  map[DeviceIdentity]slave.DeviceType
	// Startup parameters by slave position
	Parameters map[int][]Parameter
}

// Default returns the configuration used for everything missing from a file
func Default() *Config {
	return &Config{
		Master: MasterConfig{
			Driver:      DefaultDriver,
			CyclePeriod: master.DefaultCyclePeriod,
			Config:      master.DefaultConfig(),
		},
		LogLevel:   log.InfoLevel,
		Gateway:    GatewayConfig{Address: DefaultGatewayAddress},
		Devices:    make(map[DeviceIdentity]slave.DeviceType),
		Parameters: make(map[int][]Parameter),
	}
}

// Load parses a configuration file.
// file can be either a path or an *os.File or []byte
//
//	[master]               driver, index, channel, cycle_period_us, scan_retries,
//	                       scan_interval_ms, sdo_timeout_ms
//	[log]                  level
//	[gateway]              enabled, address
//	[devices]              0xVENDOR:0xPRODUCT = cia402 | digital_io | endeffector_io
//	[slave.N.parameters]   0xIIII:S = value
func Load(file any) (*Config, error) {
	// Device identities & objects contain ':'
	f, err := ini.LoadSources(ini.LoadOptions{KeyValueDelimiters: "="}, file)
	if err != nil {
		return nil, err
	}
	config := Default()
	if err := config.parseMaster(f.Section("master")); err != nil {
		return nil, fmt.Errorf("[master] %w", err)
	}
	if f.HasSection("log") {
		level, err := log.ParseLevel(f.Section("log").Key("level").MustString("info"))
		if err != nil {
			return nil, fmt.Errorf("[log] %w", err)
		}
		config.LogLevel = level
	}
	gateway := f.Section("gateway")
	config.Gateway.Enabled = gateway.Key("enabled").MustBool(false)
	config.Gateway.Address = gateway.Key("address").MustString(DefaultGatewayAddress)

	for _, key := range f.Section("devices").Keys() {
		identity, err := parseIdentity(key.Name())
		if err != nil {
			return nil, fmt.Errorf("[devices] %w", err)
		}
		deviceType, err := slave.ParseDeviceType(key.Value())
		if err != nil {
			return nil, fmt.Errorf("[devices] %w", err)
		}
		config.Devices[identity] = deviceType
	}

	for _, section := range f.Sections() {
		match := matchParameters.FindStringSubmatch(section.Name())
		if match == nil {
			continue
		}
		position, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("[%v] %w", section.Name(), err)
		}
		for _, key := range section.Keys() {
			parameter, err := parseParameter(key.Name(), key.Value())
			if err != nil {
				return nil, fmt.Errorf("[%v] %w", section.Name(), err)
			}
			config.Parameters[position] = append(config.Parameters[position], parameter)
		}
	}
	return config, nil
}

func (c *Config) parseMaster(section *ini.Section) error {
	mc := &c.Master
	if section.HasKey("driver") {
		mc.Driver = section.Key("driver").String()
	}
	if section.HasKey("channel") {
		mc.Channel = section.Key("channel").String()
	}
	if section.HasKey("index") {
		index, err := section.Key("index").Int()
		if err != nil || index < 0 {
			return fmt.Errorf("invalid index : %q", section.Key("index").Value())
		}
		mc.Index = index
	}
	durations := []struct {
		key  string
		unit time.Duration
		dest *time.Duration
	}{
		{"cycle_period_us", time.Microsecond, &mc.CyclePeriod},
		{"scan_interval_ms", time.Millisecond, &mc.ScanInterval},
		{"sdo_timeout_ms", time.Millisecond, &mc.SdoTimeout},
	}
	for _, d := range durations {
		if !section.HasKey(d.key) {
			continue
		}
		value, err := strconv.ParseUint(section.Key(d.key).Value(), 0, 32)
		if err != nil || value == 0 {
			return fmt.Errorf("invalid %v : %q", d.key, section.Key(d.key).Value())
		}
		*d.dest = time.Duration(value) * d.unit
	}
	if section.HasKey("scan_retries") {
		retries, err := section.Key("scan_retries").Int()
		if err != nil || retries <= 0 {
			return fmt.Errorf("invalid scan_retries : %q", section.Key("scan_retries").Value())
		}
		mc.ScanRetries = retries
	}
	return nil
}

func parseIdentity(name string) (DeviceIdentity, error) {
	match := matchIdentity.FindStringSubmatch(strings.TrimSpace(name))
	if match == nil {
		return DeviceIdentity{}, fmt.Errorf("invalid device identity %q, expecting vendor:product", name)
	}
	vendorId, err := strconv.ParseUint(match[1], 0, 32)
	if err != nil {
		return DeviceIdentity{}, err
	}
	productCode, err := strconv.ParseUint(match[2], 0, 32)
	if err != nil {
		return DeviceIdentity{}, err
	}
	return DeviceIdentity{VendorId: uint32(vendorId), ProductCode: uint32(productCode)}, nil
}

func parseParameter(name string, value string) (Parameter, error) {
	match := matchObject.FindStringSubmatch(strings.TrimSpace(name))
	if match == nil {
		return Parameter{}, fmt.Errorf("invalid object %q, expecting index:subindex", name)
	}
	index, err := strconv.ParseUint(match[1], 0, 16)
	if err != nil {
		return Parameter{}, err
	}
	subindex, err := strconv.ParseUint(match[2], 0, 8)
	if err != nil {
		return Parameter{}, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(value), 0, 64)
	if err != nil {
		return Parameter{}, fmt.Errorf("invalid value for %v : %w", name, err)
	}
	return Parameter{Index: uint16(index), Subindex: uint8(subindex), Value: v}, nil
}

// RegisterDevices adds the configured devices to the device type table
func (c *Config) RegisterDevices() {
	for identity, deviceType := range c.Devices {
		slave.RegisterDeviceType(identity.VendorId, identity.ProductCode, deviceType)
	}
}

// Positions returns the slave positions having startup parameters, sorted
func (c *Config) Positions() []int {
	positions := make([]int, 0, len(c.Parameters))
	for position := range c.Parameters {
		positions = append(positions, position)
	}
	sort.Ints(positions)
	return positions
}
