package virtual

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	ethercat "github.com/samsamfire/goethercat"
	"gopkg.in/ini.v1"
)

//go:embed default.ini
var defaultTopology []byte

// DefaultTopology returns the embedded topology used when none is given
func DefaultTopology() []byte {
	return defaultTopology
}

var (
	matchSlave = regexp.MustCompile(`^slave\.(\d+)$`)
	matchSync  = regexp.MustCompile(`^slave\.(\d+)\.sm\.(\d+)$`)
	matchPdo   = regexp.MustCompile(`^slave\.(\d+)\.pdo\.(0[xX][0-9A-Fa-f]+)$`)
	matchSdo   = regexp.MustCompile(`^slave\.(\d+)\.sdo\.(0[xX][0-9A-Fa-f]+)$`)
	matchSub   = regexp.MustCompile(`^sub(\d+)$`)
)

// ParseTopology parses a topology file.
// file can be either a path or an *os.File or []byte
//
//	[slave.N]              name, alias, vendor_id, product_code, revision, serial
//	[slave.N.sm.M]         direction (input|output), pdos (comma separated indexes)
//	[slave.N.pdo.0xIIII]   entries (index:subindex:bitlength, comma separated)
//	[slave.N.sdo.0xIIII]   name, object_code, subK = datatype, bitlength, access, value, description
//
// Slaves are placed on the bus in the order of N.
func ParseTopology(file any) ([]*Device, error) {
	topology, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	devices := make(map[uint64]*Device)
	pdos := make(map[uint64]map[uint16]ethercat.PdoInfo)

	// Devices and PDOs first, sync managers & objects refer to them
	for _, section := range topology.Sections() {
		name := section.Name()
		if match := matchSlave.FindStringSubmatch(name); match != nil {
			number, _ := strconv.ParseUint(match[1], 10, 16)
			device, err := parseDevice(section)
			if err != nil {
				return nil, fmt.Errorf("[%v] %w", name, err)
			}
			devices[number] = device
		} else if match := matchPdo.FindStringSubmatch(name); match != nil {
			number, _ := strconv.ParseUint(match[1], 10, 16)
			index, err := strconv.ParseUint(match[2], 0, 16)
			if err != nil {
				return nil, fmt.Errorf("[%v] %w", name, err)
			}
			pdo, err := parsePdo(uint16(index), section)
			if err != nil {
				return nil, fmt.Errorf("[%v] %w", name, err)
			}
			if pdos[number] == nil {
				pdos[number] = make(map[uint16]ethercat.PdoInfo)
			}
			pdos[number][uint16(index)] = pdo
		}
	}

	for _, section := range topology.Sections() {
		name := section.Name()
		if match := matchSync.FindStringSubmatch(name); match != nil {
			number, _ := strconv.ParseUint(match[1], 10, 16)
			sm, err := strconv.ParseUint(match[2], 10, 8)
			if err != nil {
				return nil, fmt.Errorf("[%v] %w", name, err)
			}
			device, ok := devices[number]
			if !ok {
				return nil, fmt.Errorf("[%v] slave %v is not declared", name, number)
			}
			if err := parseSync(device, uint8(sm), section, pdos[number]); err != nil {
				return nil, fmt.Errorf("[%v] %w", name, err)
			}
		} else if match := matchSdo.FindStringSubmatch(name); match != nil {
			number, _ := strconv.ParseUint(match[1], 10, 16)
			index, err := strconv.ParseUint(match[2], 0, 16)
			if err != nil {
				return nil, fmt.Errorf("[%v] %w", name, err)
			}
			device, ok := devices[number]
			if !ok {
				return nil, fmt.Errorf("[%v] slave %v is not declared", name, number)
			}
			if err := parseObject(device, uint16(index), section); err != nil {
				return nil, fmt.Errorf("[%v] %w", name, err)
			}
		}
	}

	numbers := make([]uint64, 0, len(devices))
	for number := range devices {
		numbers = append(numbers, number)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	ordered := make([]*Device, 0, len(numbers))
	for _, number := range numbers {
		ordered = append(ordered, devices[number])
	}
	return ordered, nil
}

func parseDevice(section *ini.Section) (*Device, error) {
	vendorId, err := strconv.ParseUint(section.Key("vendor_id").Value(), 0, 32)
	if err != nil {
		return nil, fmt.Errorf("vendor_id : %w", err)
	}
	productCode, err := strconv.ParseUint(section.Key("product_code").Value(), 0, 32)
	if err != nil {
		return nil, fmt.Errorf("product_code : %w", err)
	}
	device := NewDevice(section.Key("name").String(), uint32(vendorId), uint32(productCode))
	if alias, err := strconv.ParseUint(section.Key("alias").MustString("0"), 0, 16); err == nil {
		device.Info.Alias = uint16(alias)
	}
	if revision, err := strconv.ParseUint(section.Key("revision").MustString("0"), 0, 32); err == nil {
		device.Info.RevisionNumber = uint32(revision)
	}
	if serial, err := strconv.ParseUint(section.Key("serial").MustString("0"), 0, 32); err == nil {
		device.Info.SerialNumber = uint32(serial)
	}
	return device, nil
}

func parsePdo(index uint16, section *ini.Section) (ethercat.PdoInfo, error) {
	entries := make([]ethercat.PdoEntryInfo, 0)
	for _, mapped := range section.Key("entries").Strings(",") {
		fields := strings.Split(mapped, ":")
		if len(fields) != 3 {
			return ethercat.PdoInfo{}, fmt.Errorf("invalid entry %q, expecting index:subindex:bitlength", mapped)
		}
		entryIndex, err := strconv.ParseUint(fields[0], 0, 16)
		if err != nil {
			return ethercat.PdoInfo{}, err
		}
		subindex, err := strconv.ParseUint(fields[1], 0, 8)
		if err != nil {
			return ethercat.PdoInfo{}, err
		}
		bitLength, err := strconv.ParseUint(fields[2], 0, 8)
		if err != nil {
			return ethercat.PdoInfo{}, err
		}
		entries = append(entries, Mapped(uint16(entryIndex), uint8(subindex), uint8(bitLength)))
	}
	return Pdo(index, entries...), nil
}

func parseSync(device *Device, sm uint8, section *ini.Section, pdos map[uint16]ethercat.PdoInfo) error {
	var direction ethercat.Direction
	switch strings.ToLower(section.Key("direction").String()) {
	case "output":
		direction = ethercat.DirOutput
	case "input":
		direction = ethercat.DirInput
	case "both":
		direction = ethercat.DirBoth
	default:
		direction = ethercat.DirInvalid
	}
	assigned := make([]ethercat.PdoInfo, 0)
	for _, pdoIndex := range section.Key("pdos").Strings(",") {
		index, err := strconv.ParseUint(pdoIndex, 0, 16)
		if err != nil {
			return err
		}
		pdo, ok := pdos[uint16(index)]
		if !ok {
			return fmt.Errorf("pdo x%x is not declared", index)
		}
		assigned = append(assigned, pdo)
	}
	device.AddSync(sm, direction, assigned...)
	return nil
}

func parseObject(device *Device, index uint16, section *ini.Section) error {
	objectCode, err := strconv.ParseUint(section.Key("object_code").MustString("7"), 0, 8)
	if err != nil {
		return fmt.Errorf("object_code : %w", err)
	}
	entries := make([]*ObjectEntry, 0)
	for _, key := range section.Keys() {
		match := matchSub.FindStringSubmatch(key.Name())
		if match == nil {
			continue
		}
		subindex, err := strconv.ParseUint(match[1], 10, 8)
		if err != nil {
			return err
		}
		entry, err := parseObjectEntry(uint8(subindex), key.Value())
		if err != nil {
			return fmt.Errorf("%v : %w", key.Name(), err)
		}
		entries = append(entries, entry)
	}
	device.AddObject(index, uint8(objectCode), section.Key("name").String(), entries...)
	return nil
}

// datatype, bitlength, access, value, description
func parseObjectEntry(subindex uint8, value string) (*ObjectEntry, error) {
	fields := strings.SplitN(value, ",", 5)
	if len(fields) < 4 {
		return nil, fmt.Errorf("invalid entry %q", value)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	dataType, ok := ethercat.DataTypeFromName(fields[0])
	if !ok {
		parsed, err := strconv.ParseUint(fields[0], 0, 16)
		if err != nil {
			return nil, fmt.Errorf("unknown data type %q", fields[0])
		}
		dataType = uint16(parsed)
	}
	bitLength, err := strconv.ParseUint(fields[1], 0, 16)
	if err != nil {
		return nil, err
	}
	defaultValue, err := strconv.ParseInt(fields[3], 0, 64)
	if err != nil {
		return nil, err
	}
	description := ""
	if len(fields) == 5 {
		description = fields[4]
	}
	return Var(subindex, dataType, uint16(bitLength), strings.ToLower(fields[2]), defaultValue, description), nil
}
