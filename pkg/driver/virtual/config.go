package virtual

import (
	"fmt"
	"time"

	ethercat "github.com/samsamfire/goethercat"
)

type slaveConfig struct {
	master   *Master
	position uint16
	syncs    []ethercat.SyncInfo
}

// ConfigurePdos checks and stores the PDO assignment
func (c *slaveConfig) ConfigurePdos(syncs []ethercat.SyncInfo) error {
	m := c.master
	m.mu.Lock()
	defer m.mu.Unlock()
	device, err := m.device(c.position)
	if err != nil {
		return err
	}
	if len(syncs) == 0 || !syncs[len(syncs)-1].Terminator() {
		return ErrTerminator
	}
	for _, sync := range syncs[:len(syncs)-1] {
		if sync.Terminator() {
			break
		}
		if int(sync.Index) >= len(device.Syncs) {
			return fmt.Errorf("slave %v has no sync manager %v", c.position, sync.Index)
		}
		if len(sync.Pdos) > 0 && sync.Direction != device.Syncs[sync.Index].Direction {
			return fmt.Errorf("%w : sync manager %v", ethercat.ErrDirection, sync.Index)
		}
	}
	c.syncs = append([]ethercat.SyncInfo{}, syncs...)
	return nil
}

func (c *slaveConfig) State() ethercat.SlaveConfigState {
	m := c.master
	m.mu.Lock()
	defer m.mu.Unlock()
	device := m.devices[c.position]
	return ethercat.SlaveConfigState{
		Online:      m.linkUp,
		Operational: m.active && m.linkUp && device.alState.Has(ethercat.AlOp),
		AlState:     device.alState,
	}
}

func (c *slaveConfig) CreateSdoRequest(index uint16, subindex uint8, size int) (ethercat.SdoRequest, error) {
	m := c.master
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return nil, ErrActive
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w : request size %v", ethercat.ErrIllegalArgument, size)
	}
	r := &request{
		master:   m,
		position: c.position,
		index:    index,
		subindex: subindex,
		data:     make([]byte, size),
		timeout:  time.Second,
		valid:    true,
	}
	m.requests = append(m.requests, r)
	return r, nil
}

type request struct {
	master   *Master
	position uint16
	index    uint16
	subindex uint8
	data     []byte
	timeout  time.Duration
	state    ethercat.RequestState
	write    bool
	valid    bool
	abort    uint32
}

func (r *request) SetTimeout(timeout time.Duration) {
	r.master.mu.Lock()
	defer r.master.mu.Unlock()
	r.timeout = timeout
}

func (r *request) State() ethercat.RequestState {
	r.master.mu.Lock()
	defer r.master.mu.Unlock()
	return r.state
}

func (r *request) Read() {
	r.submit(false)
}

func (r *request) Write() {
	r.submit(true)
}

func (r *request) submit(write bool) {
	r.master.mu.Lock()
	defer r.master.mu.Unlock()
	if !r.valid {
		r.state = ethercat.RequestError
		return
	}
	r.write = write
	r.abort = 0
	r.state = ethercat.RequestBusy
}

func (r *request) Data() []byte {
	return r.data
}

// complete the request, master lock must be held
func (r *request) complete() {
	m := r.master
	if !m.linkUp || !r.valid {
		r.state = ethercat.RequestError
		return
	}
	device := m.devices[r.position]
	if r.write {
		r.abort = device.download(r.index, r.subindex, r.data)
	} else {
		var value []byte
		value, r.abort = device.upload(r.index, r.subindex)
		if r.abort == 0 {
			clear(r.data)
			copy(r.data, value)
		}
	}
	if r.abort != 0 {
		m.logger.Debugf("[x%x] request x%x|x%x aborted : %v", r.position, r.index, r.subindex, ethercat.AbortCode(r.abort))
		r.state = ethercat.RequestError
		return
	}
	r.state = ethercat.RequestSuccess
}
