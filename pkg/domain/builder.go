// Package domain computes the PDO entry registrations of a domain.
//
// Registrations are built once from the sync manager descriptions of all
// slaves. Each registration points to the offset cells of the matching
// [pdo.Entry] which are filled in by the master when the list is registered.
package domain

import (
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/pdo"
	"github.com/samsamfire/goethercat/pkg/slave"
	log "github.com/sirupsen/logrus"
)

// Build walks slaves, sync managers, PDOs and entries in order, resolves the
// value type of every mapped entry and returns the registration list,
// terminated by an entry with a zero vendor id.
// Padding entries (index 0) are typed but not registered.
func Build(slaves []*slave.Slave, logger *log.Entry) []ethercat.PdoEntryReg {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	regs := make([]ethercat.PdoEntryReg, 0)
	for _, s := range slaves {
		regs = append(regs, buildSlave(s, logger)...)
	}
	regs = append(regs, ethercat.PdoEntryReg{})
	logger.Debugf("%v registrations for %v slaves", len(regs)-1, len(slaves))
	return regs
}

func buildSlave(s *slave.Slave, logger *log.Entry) []ethercat.PdoEntryReg {
	info := s.Info()
	regs := make([]ethercat.PdoEntryReg, 0, len(s.Inputs())+len(s.Outputs()))
	nbInputs, nbOutputs := 0, 0

	for _, sm := range s.Syncs() {
		if sm.Terminator() {
			break
		}
		if sm.PdoCount == 0 {
			continue
		}
		var values []*pdo.Entry
		var counter *int
		switch sm.Direction {
		case ethercat.DirOutput:
			values, counter = s.Outputs(), &nbOutputs
		case ethercat.DirInput:
			values, counter = s.Inputs(), &nbInputs
		default:
			logger.Warnf("[x%x] %v : sync manager %v", info.Position, ethercat.ErrDirection, sm.Index)
			continue
		}
		for _, pdoInfo := range sm.Pdos {
			for _, entryInfo := range pdoInfo.Entries {
				if *counter >= len(values) {
					logger.Warnf("[x%x] pdo x%x has more entries than discovered", info.Position, pdoInfo.Index)
					continue
				}
				entry := values[*counter]
				*counter++
				entry.Type = resolveType(s, entryInfo, logger)
				if entryInfo.Index == 0 {
					continue
				}
				regs = append(regs, ethercat.PdoEntryReg{
					Alias:       info.Alias,
					Position:    info.Position,
					VendorId:    info.VendorId,
					ProductCode: info.ProductCode,
					Index:       entryInfo.Index,
					Subindex:    entryInfo.Subindex,
					Offset:      &entry.Offset,
					BitPosition: &entry.BitOffset,
				})
			}
		}
	}
	return regs
}

// Value type from the bit length, made signed if the mapped object
// is a signed integer inside of the slave dictionary
func resolveType(s *slave.Slave, entryInfo ethercat.PdoEntryInfo, logger *log.Entry) pdo.ValueType {
	if entryInfo.Index == 0 {
		return pdo.ValueTypePadding
	}
	t, err := pdo.TypeFromBitLength(entryInfo.BitLength)
	if err != nil {
		logger.Warnf("[x%x] x%04x|x%x %v", s.Id(), entryInfo.Index, entryInfo.Subindex, err)
		return pdo.ValueTypeNone
	}
	object, err := s.Dictionary().Lookup(entryInfo.Index, entryInfo.Subindex)
	if err == nil && ethercat.IsSigned(object.DataType) {
		t = t.ToSigned()
	}
	return t
}

// Count returns the number of registrations, excluding the terminator
func Count(regs []ethercat.PdoEntryReg) int {
	for i, reg := range regs {
		if reg.Terminator() {
			return i
		}
	}
	return len(regs)
}

// Describe returns a human readable line for a registration
func Describe(reg ethercat.PdoEntryReg) string {
	if reg.Terminator() {
		return "end"
	}
	offset, bit := uint32(0), uint8(0)
	if reg.Offset != nil {
		offset = *reg.Offset
	}
	if reg.BitPosition != nil {
		bit = *reg.BitPosition
	}
	return fmt.Sprintf("[%v:%v] x%x:x%x x%04x|x%x @%v.%v",
		reg.Alias, reg.Position, reg.VendorId, reg.ProductCode, reg.Index, reg.Subindex, offset, bit)
}
