// Package driver holds the registry of master drivers.
// A driver provides the [ethercat.Bus] used by the master.
package driver

import (
	"fmt"
	"sort"
	"sync"

	ethercat "github.com/samsamfire/goethercat"
)

// NewInterfaceFunc requests master index from the driver.
// channel is driver specific, e.g. a topology file for the virtual driver.
type NewInterfaceFunc func(index int, channel string) (ethercat.Bus, error)

var (
	registryMu        sync.RWMutex
	interfaceRegistry = make(map[string]NewInterfaceFunc)
)

// Register a new master driver
// This should be called inside an init() function of the driver
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	interfaceRegistry[interfaceType] = newInterface
}

// AvailableInterfaces returns the registered driver names, sorted
func AvailableInterfaces() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(interfaceRegistry))
	for name := range interfaceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBus requests master index from the given driver
func NewBus(interfaceType string, index int, channel string) (ethercat.Bus, error) {
	registryMu.RLock()
	createInterface, ok := interfaceRegistry[interfaceType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w : unsupported driver %v", ethercat.ErrMasterUnavailable, interfaceType)
	}
	bus, err := createInterface(index, channel)
	if err != nil {
		return nil, fmt.Errorf("%w : %v", ethercat.ErrMasterUnavailable, err)
	}
	if bus == nil {
		return nil, fmt.Errorf("%w : driver %v returned no master", ethercat.ErrMasterUnavailable, interfaceType)
	}
	return bus, nil
}
