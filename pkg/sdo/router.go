package sdo

import (
	"context"
	"fmt"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	log "github.com/sirupsen/logrus"
)

const DefaultTimeout = 500 * time.Millisecond

// Transport is the part of [ethercat.Bus] needed for SDO access
type Transport interface {
	State() ethercat.MasterState
	SdoUpload(ctx context.Context, position uint16, index uint16, subindex uint8, data []byte) (n int, abort uint32, err error)
	SdoDownload(ctx context.Context, position uint16, index uint16, subindex uint8, data []byte) (abort uint32, err error)
}

// Router gives access to the object dictionary of one slave.
// While the bus is not operational, accesses are blocking transfers.
// While the bus is operational, accesses go through the scheduled request
// of the entry and complete over several cycles : callers receive
// [ethercat.ErrTryLater] until the result is available. A failed request
// is reported once as [ethercat.ErrRequestFailed], by whichever of Read
// or Write comes next. That call does not submit a new request.
type Router struct {
	bus      Transport
	position uint16
	dict     *Dictionary
	timeout  time.Duration
	logger   *log.Entry
}

func NewRouter(bus Transport, position uint16, dict *Dictionary, timeout time.Duration, logger *log.Entry) *Router {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Router{
		bus:      bus,
		position: position,
		dict:     dict,
		timeout:  timeout,
		logger:   logger.WithField("service", "[SDO]"),
	}
}

// Timeout used for blocking transfers & scheduled requests
func (r *Router) Timeout() time.Duration {
	return r.timeout
}

// Read the value of index|subindex
func (r *Router) Read(index uint16, subindex uint8) (int64, error) {
	entry, err := r.dict.Lookup(index, subindex)
	if err != nil {
		return 0, err
	}
	return r.ReadEntry(entry)
}

// Write value to index|subindex
func (r *Router) Write(index uint16, subindex uint8, value int64) error {
	entry, err := r.dict.Lookup(index, subindex)
	if err != nil {
		return err
	}
	return r.WriteEntry(entry, value)
}

func (r *Router) ReadEntry(entry *Entry) (int64, error) {
	state := r.bus.State()
	if !state.LinkUp {
		return 0, ethercat.ErrLinkDown
	}
	if state.Operational() {
		return r.readScheduled(entry)
	}
	return r.readDirect(entry)
}

func (r *Router) WriteEntry(entry *Entry, value int64) error {
	state := r.bus.State()
	if !state.LinkUp {
		return ethercat.ErrLinkDown
	}
	if state.Operational() {
		return r.writeScheduled(entry, value)
	}
	return r.writeDirect(entry, value)
}

func (r *Router) readDirect(entry *Entry) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	buffer := make([]byte, entry.Size())
	n, abort, err := r.bus.SdoUpload(ctx, r.position, entry.Index, entry.Subindex, buffer)
	if err != nil {
		r.logger.Warnf("[x%x] upload %v failed : %v", r.position, entry, err)
		return 0, err
	}
	if abort != 0 {
		r.logger.Debugf("[x%x] upload %v aborted : %v", r.position, entry, ethercat.AbortCode(abort))
		return 0, ethercat.AbortCode(abort)
	}
	if n > len(buffer) {
		n = len(buffer)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.value = entry.decode(buffer[:n])
	r.logger.Debugf("[x%x] upload %v : %v", r.position, entry, entry.value)
	return entry.value, nil
}

func (r *Router) writeDirect(entry *Entry, value int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	size := entry.Size()
	if size > maxValueSize {
		size = maxValueSize
	}
	buffer := make([]byte, size)
	entry.encode(buffer, value)
	abort, err := r.bus.SdoDownload(ctx, r.position, entry.Index, entry.Subindex, buffer)
	if err != nil {
		r.logger.Warnf("[x%x] download %v failed : %v", r.position, entry, err)
		return err
	}
	if abort != 0 {
		r.logger.Debugf("[x%x] download %v aborted : %v", r.position, entry, ethercat.AbortCode(abort))
		return ethercat.AbortCode(abort)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.value = value
	r.logger.Debugf("[x%x] download %v : %v", r.position, entry, value)
	return nil
}

func (r *Router) readScheduled(entry *Entry) (int64, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.request == nil {
		return 0, ethercat.ErrNoRequest
	}
	entry.state = entry.request.State()
	switch entry.state {
	case ethercat.RequestBusy:
		return entry.value, ethercat.ErrTryLater
	case ethercat.RequestSuccess:
		if entry.pendingRead {
			entry.commit()
		}
		if !entry.delivered {
			entry.delivered = true
			return entry.value, nil
		}
	case ethercat.RequestError:
		entry.pendingRead = false
		if !entry.delivered {
			entry.delivered = true
			return entry.value, fmt.Errorf("%w : %v", ethercat.ErrRequestFailed, entry)
		}
	}
	// Nothing outstanding, schedule a new read
	entry.request.Read()
	entry.pendingRead = true
	entry.delivered = false
	entry.state = entry.request.State()
	r.logger.Debugf("[x%x] scheduled read %v", r.position, entry)
	return entry.value, ethercat.ErrTryLater
}

func (r *Router) writeScheduled(entry *Entry, value int64) error {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.request == nil {
		return ethercat.ErrNoRequest
	}
	entry.state = entry.request.State()
	if entry.state == ethercat.RequestBusy {
		return ethercat.ErrTryLater
	}
	if entry.state == ethercat.RequestError && !entry.delivered {
		entry.delivered = true
		entry.pendingRead = false
		return fmt.Errorf("%w : %v", ethercat.ErrRequestFailed, entry)
	}
	entry.value = value
	entry.encode(entry.request.Data(), value)
	entry.request.Write()
	entry.pendingRead = false
	entry.delivered = false
	entry.state = entry.request.State()
	r.logger.Debugf("[x%x] scheduled write %v : %v", r.position, entry, value)
	return nil
}
