package virtual

import (
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
)

// Part of the image exchanged with one sync manager of a slave
type region struct {
	position  uint16
	sm        uint8
	direction ethercat.Direction
	offset    int
	size      int
}

type domain struct {
	master  *Master
	regions []*region
	size    int
	image   ethercat.Buffer
	state   ethercat.DomainState
}

func (d *domain) region(device *Device, syncs []ethercat.SyncInfo, sm uint8) *region {
	for _, r := range d.regions {
		if r.position == device.Info.Position && r.sm == sm {
			return r
		}
	}
	direction := ethercat.DirInvalid
	for _, sync := range syncs {
		if sync.Index == sm && !sync.Terminator() {
			direction = sync.Direction
		}
	}
	r := &region{
		position:  device.Info.Position,
		sm:        sm,
		direction: direction,
		offset:    d.size,
		size:      syncSize(syncs, sm),
	}
	d.regions = append(d.regions, r)
	d.size += r.size
	return r
}

// RegisterPdoEntryList places every registered entry inside of the image.
// The whole sync manager of a registered entry is exchanged.
func (d *domain) RegisterPdoEntryList(regs []ethercat.PdoEntryReg) error {
	m := d.master
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return ErrActive
	}
	terminated := false
	for _, reg := range regs {
		if reg.Terminator() {
			terminated = true
			break
		}
	}
	if !terminated {
		return ErrTerminator
	}
	for _, reg := range regs {
		if reg.Terminator() {
			break
		}
		device, err := m.device(reg.Position)
		if err != nil {
			return err
		}
		if device.Info.Alias != reg.Alias || device.Info.VendorId != reg.VendorId || device.Info.ProductCode != reg.ProductCode {
			return fmt.Errorf("%w : position %v", ErrIdentity, reg.Position)
		}
		syncs := device.Syncs
		if config, ok := m.configs[reg.Position]; ok && config.syncs != nil {
			syncs = config.syncs
		}
		sm, position, _, ok := locate(syncs, reg.Index, reg.Subindex)
		if !ok {
			return fmt.Errorf("x%x|x%x is not mapped by slave %v", reg.Index, reg.Subindex, reg.Position)
		}
		r := d.region(device, syncs, sm)
		bit := r.offset*8 + position
		if reg.BitPosition == nil && bit%8 != 0 {
			return fmt.Errorf("x%x|x%x is not byte aligned", reg.Index, reg.Subindex)
		}
		if reg.Offset != nil {
			*reg.Offset = uint32(bit / 8)
		}
		if reg.BitPosition != nil {
			*reg.BitPosition = uint8(bit % 8)
		}
	}
	return nil
}

func (d *domain) Data() ethercat.ProcessImage {
	m := d.master
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.image == nil {
		return nil
	}
	if m.wrap != nil {
		return m.wrap(d.image)
	}
	return d.image
}

// Process copies the inputs of the slaves into the image and
// evaluates the working counter
func (d *domain) Process() error {
	m := d.master
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.image == nil {
		return ethercat.ErrInactive
	}
	wc := uint32(0)
	for _, r := range d.regions {
		device := m.devices[r.position]
		if !m.linkUp || !(device.alState.Has(ethercat.AlSafeOp) || device.alState.Has(ethercat.AlOp)) {
			continue
		}
		if r.direction == ethercat.DirInput {
			copy(d.image[r.offset:r.offset+r.size], device.syncData(r.sm))
		}
		wc++
	}
	d.state.WorkingCounter = wc
	switch {
	case wc == 0:
		d.state.WcState = ethercat.WcZero
	case int(wc) < len(d.regions):
		d.state.WcState = ethercat.WcIncomplete
	default:
		d.state.WcState = ethercat.WcComplete
	}
	return nil
}

// Queue hands the outputs of the image over to the slaves in OP
func (d *domain) Queue() error {
	m := d.master
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.image == nil {
		return ethercat.ErrInactive
	}
	if !m.linkUp {
		return nil
	}
	for _, r := range d.regions {
		device := m.devices[r.position]
		if r.direction != ethercat.DirOutput || !device.alState.Has(ethercat.AlOp) {
			continue
		}
		copy(device.syncData(r.sm), d.image[r.offset:r.offset+r.size])
	}
	return nil
}

func (d *domain) State() ethercat.DomainState {
	m := d.master
	m.mu.Lock()
	defer m.mu.Unlock()
	return d.state
}
