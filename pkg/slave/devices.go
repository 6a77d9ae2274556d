package slave

import (
	"fmt"
	"strings"
	"sync"
)

// DeviceType is the kind of device, resolved from vendor id & product code
type DeviceType uint8

const (
	DeviceUnknown DeviceType = iota
	DeviceCiA402Drive
	DeviceDigitalIO
	DeviceEndEffectorIO
)

var deviceTypeDescription = map[DeviceType]string{
	DeviceUnknown:       "Unknown",
	DeviceCiA402Drive:   "CiA402 Drive",
	DeviceDigitalIO:     "Digital I/O",
	DeviceEndEffectorIO: "End-Effector I/O",
}

var deviceTypeNames = map[string]DeviceType{
	"unknown":        DeviceUnknown,
	"cia402":         DeviceCiA402Drive,
	"digital_io":     DeviceDigitalIO,
	"endeffector_io": DeviceEndEffectorIO,
}

func (t DeviceType) String() string {
	description, ok := deviceTypeDescription[t]
	if !ok {
		return deviceTypeDescription[DeviceUnknown]
	}
	return description
}

// ParseDeviceType accepts either a short name (cia402, digital_io, endeffector_io)
// or the description returned by [DeviceType.String]
func ParseDeviceType(name string) (DeviceType, error) {
	name = strings.TrimSpace(name)
	if t, ok := deviceTypeNames[strings.ToLower(name)]; ok {
		return t, nil
	}
	for t, description := range deviceTypeDescription {
		if strings.EqualFold(description, name) {
			return t, nil
		}
	}
	return DeviceUnknown, fmt.Errorf("unknown device type %q", name)
}

type deviceKey struct {
	vendorId    uint32
	productCode uint32
}

var (
	devicesMu   sync.RWMutex
	deviceTable = map[deviceKey]DeviceType{
		{0x22d2, 0x201}: DeviceCiA402Drive,
		{0x22d2, 0x202}: DeviceDigitalIO,
		{0x22d2, 0x203}: DeviceEndEffectorIO,
	}
)

// RegisterDeviceType adds or replaces an entry of the device table
func RegisterDeviceType(vendorId uint32, productCode uint32, t DeviceType) {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	deviceTable[deviceKey{vendorId, productCode}] = t
}

// LookupDeviceType returns [DeviceUnknown] for devices that are not in the table
func LookupDeviceType(vendorId uint32, productCode uint32) DeviceType {
	devicesMu.RLock()
	defer devicesMu.RUnlock()
	t, ok := deviceTable[deviceKey{vendorId, productCode}]
	if !ok {
		return DeviceUnknown
	}
	return t
}
