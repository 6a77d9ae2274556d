package sdo

import (
	"encoding/binary"
	"fmt"
	"sync"

	ethercat "github.com/samsamfire/goethercat"
)

const maxValueSize = 8

// Entry is a sub-entry of a slave's object dictionary together with its
// last known value and, during cyclic operation, the scheduled request
// used to access it.
type Entry struct {
	mu          sync.Mutex
	Index       uint16
	Subindex    uint8
	ObjectType  uint8
	DataType    uint16
	BitLength   uint16
	Name        string
	ReadAccess  [ethercat.AccessStateCount]bool
	WriteAccess [ethercat.AccessStateCount]bool
	value       int64
	request     ethercat.SdoRequest
	state       ethercat.RequestState
	// A read was scheduled and its result must be committed into value
	pendingRead bool
	// The outcome of the last scheduled request was returned to a caller
	delivered bool
}

func (e *Entry) String() string {
	return fmt.Sprintf("x%04x|x%x %q", e.Index, e.Subindex, e.Name)
}

// Value returns the cached value
func (e *Entry) Value() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// RequestState returns the state of the scheduled request as seen during
// the last poll. ok is false if no request exists.
func (e *Entry) RequestState() (state ethercat.RequestState, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.request != nil
}

// PendingRead returns true if a scheduled read has not been committed yet
func (e *Entry) PendingRead() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingRead
}

// Size in bytes used for transfers
func (e *Entry) Size() int {
	size := (int(e.BitLength) + 7) / 8
	if size == 0 {
		size = 1
	}
	return size
}

// Attach a scheduled request to this entry
func (e *Entry) setRequest(request ethercat.SdoRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.request = request
	e.pendingRead = false
	e.delivered = true
	if request != nil {
		e.state = request.State()
	} else {
		e.state = ethercat.RequestUnused
	}
}

// Decode a little endian value, sign extended for signed data types
func (e *Entry) decode(data []byte) int64 {
	n := e.Size()
	if n > maxValueSize {
		n = maxValueSize
	}
	if n > len(data) {
		n = len(data)
	}
	if n == 0 {
		return 0
	}
	var raw [maxValueSize]byte
	copy(raw[:], data[:n])
	value := binary.LittleEndian.Uint64(raw[:])
	if ethercat.IsSigned(e.DataType) && n < maxValueSize {
		shift := uint(64 - 8*n)
		return int64(value<<shift) >> shift
	}
	return int64(value)
}

// Encode value as little endian into data, truncated to entry size
func (e *Entry) encode(data []byte, value int64) {
	var raw [maxValueSize]byte
	binary.LittleEndian.PutUint64(raw[:], uint64(value))
	n := e.Size()
	if n > maxValueSize {
		n = maxValueSize
	}
	copy(data, raw[:n])
}

// commit the result of a finished scheduled read
func (e *Entry) commit() {
	e.value = e.decode(e.request.Data())
	e.pendingRead = false
}

// Poll refreshes the state of the scheduled request and commits
// the value of a read that just finished. This is called every cycle.
func (e *Entry) Poll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.request == nil {
		return
	}
	e.state = e.request.State()
	if !e.pendingRead {
		return
	}
	switch e.state {
	case ethercat.RequestSuccess:
		e.commit()
	case ethercat.RequestError:
		e.pendingRead = false
	}
}
