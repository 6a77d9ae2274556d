package sdo

import (
	"context"
	"errors"
	"testing"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/stretchr/testify/assert"
)

type key struct {
	index    uint16
	subindex uint8
}

type fakeTransport struct {
	state     ethercat.MasterState
	objects   map[key][]byte
	aborts    map[key]uint32
	transfers int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:   ethercat.MasterState{LinkUp: true, AlStates: ethercat.AlPreOp, SlavesResponding: 1},
		objects: map[key][]byte{},
		aborts:  map[key]uint32{},
	}
}

func (f *fakeTransport) State() ethercat.MasterState {
	return f.state
}

func (f *fakeTransport) SdoUpload(ctx context.Context, position uint16, index uint16, subindex uint8, data []byte) (int, uint32, error) {
	f.transfers++
	k := key{index, subindex}
	if abort, ok := f.aborts[k]; ok {
		return 0, abort, nil
	}
	return copy(data, f.objects[k]), 0, nil
}

func (f *fakeTransport) SdoDownload(ctx context.Context, position uint16, index uint16, subindex uint8, data []byte) (uint32, error) {
	f.transfers++
	k := key{index, subindex}
	if abort, ok := f.aborts[k]; ok {
		return abort, nil
	}
	f.objects[k] = append([]byte{}, data...)
	return 0, nil
}

type fakeRequest struct {
	state   ethercat.RequestState
	data    []byte
	timeout time.Duration
	reads   int
	writes  int
}

func (r *fakeRequest) SetTimeout(timeout time.Duration) { r.timeout = timeout }
func (r *fakeRequest) State() ethercat.RequestState     { return r.state }
func (r *fakeRequest) Read()                            { r.reads++; r.state = ethercat.RequestBusy }
func (r *fakeRequest) Write()                           { r.writes++; r.state = ethercat.RequestBusy }
func (r *fakeRequest) Data() []byte                     { return r.data }

type fakeConfig struct {
	requests map[key]*fakeRequest
	fail     bool
}

func (c *fakeConfig) ConfigurePdos(syncs []ethercat.SyncInfo) error { return nil }
func (c *fakeConfig) State() ethercat.SlaveConfigState              { return ethercat.SlaveConfigState{} }
func (c *fakeConfig) CreateSdoRequest(index uint16, subindex uint8, size int) (ethercat.SdoRequest, error) {
	if c.fail {
		return nil, errors.New("no memory")
	}
	request := &fakeRequest{data: make([]byte, size)}
	c.requests[key{index, subindex}] = request
	return request, nil
}

func newTestDictionary(t *testing.T) *Dictionary {
	dict := NewDictionary()
	assert.Nil(t, dict.Add(&Entry{Index: 0x6040, Subindex: 0, DataType: ethercat.UNSIGNED16, BitLength: 16, Name: "controlword"}))
	assert.Nil(t, dict.Add(&Entry{Index: 0x607A, Subindex: 0, DataType: ethercat.INTEGER32, BitLength: 32, Name: "target position"}))
	assert.Nil(t, dict.Add(&Entry{Index: 0x6060, Subindex: 0, DataType: ethercat.INTEGER8, BitLength: 8, Name: "modes of operation"}))
	return dict
}

func TestDictionary(t *testing.T) {
	dict := newTestDictionary(t)
	assert.Equal(t, 3, dict.Len())
	entry, err := dict.Lookup(0x607A, 0)
	assert.Nil(t, err)
	assert.Equal(t, "target position", entry.Name)
	_, err = dict.Lookup(0x607A, 1)
	assert.ErrorIs(t, err, ethercat.ErrNotFound)
	err = dict.Add(&Entry{Index: 0x6040})
	assert.ErrorIs(t, err, ethercat.ErrIllegalArgument)
	entry, err = dict.At(2)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x6060, entry.Index)
	_, err = dict.At(3)
	assert.ErrorIs(t, err, ethercat.ErrNotFound)
}

func TestDirect(t *testing.T) {
	bus := newFakeTransport()
	router := NewRouter(bus, 0, newTestDictionary(t), 0, nil)
	assert.Equal(t, DefaultTimeout, router.Timeout())

	t.Run("write then read", func(t *testing.T) {
		assert.Nil(t, router.Write(0x6040, 0, 5))
		value, err := router.Read(0x6040, 0)
		assert.Nil(t, err)
		assert.EqualValues(t, 5, value)
		assert.Equal(t, []byte{5, 0}, bus.objects[key{0x6040, 0}])
	})
	t.Run("signed values are sign extended", func(t *testing.T) {
		assert.Nil(t, router.Write(0x607A, 0, -1000))
		value, err := router.Read(0x607A, 0)
		assert.Nil(t, err)
		assert.EqualValues(t, -1000, value)
		assert.Nil(t, router.Write(0x6060, 0, -3))
		value, err = router.Read(0x6060, 0)
		assert.Nil(t, err)
		assert.EqualValues(t, -3, value)
	})
	t.Run("abort code", func(t *testing.T) {
		bus.aborts[key{0x6040, 0}] = uint32(ethercat.AbortReadOnly)
		err := router.Write(0x6040, 0, 1)
		var abort ethercat.AbortCode
		assert.ErrorAs(t, err, &abort)
		assert.Equal(t, ethercat.AbortReadOnly, abort)
		_, err = router.Read(0x6040, 0)
		assert.Equal(t, ethercat.AbortReadOnly, err)
		delete(bus.aborts, key{0x6040, 0})
	})
	t.Run("not found", func(t *testing.T) {
		_, err := router.Read(0x1000, 0)
		assert.ErrorIs(t, err, ethercat.ErrNotFound)
		assert.ErrorIs(t, router.Write(0x1000, 0, 0), ethercat.ErrNotFound)
	})
}

func TestLinkDown(t *testing.T) {
	bus := newFakeTransport()
	bus.state.LinkUp = false
	router := NewRouter(bus, 0, newTestDictionary(t), 0, nil)
	_, err := router.Read(0x6040, 0)
	assert.Equal(t, ethercat.ErrLinkDown, err)
	assert.Equal(t, ethercat.ErrLinkDown, router.Write(0x6040, 0, 1))
	bus.state.AlStates = ethercat.AlOp
	assert.Equal(t, ethercat.ErrLinkDown, router.Write(0x6040, 0, 1))
	assert.Equal(t, 0, bus.transfers)
}

func TestScheduled(t *testing.T) {
	bus := newFakeTransport()
	dict := newTestDictionary(t)
	config := &fakeConfig{requests: map[key]*fakeRequest{}}
	router := NewRouter(bus, 0, dict, 0, nil)
	bus.state.AlStates = ethercat.AlOp | ethercat.AlSafeOp

	t.Run("no request", func(t *testing.T) {
		_, err := router.Read(0x6040, 0)
		assert.Equal(t, ethercat.ErrNoRequest, err)
		assert.Equal(t, ethercat.ErrNoRequest, router.Write(0x6040, 0, 1))
	})

	assert.Nil(t, dict.SetupRequests(config, router.Timeout()))
	assert.Len(t, config.requests, 3)
	request := config.requests[key{0x6040, 0}]
	assert.Equal(t, DefaultTimeout, request.timeout)
	assert.Len(t, request.data, 2)

	t.Run("write then poll", func(t *testing.T) {
		assert.Nil(t, router.Write(0x6040, 0, 7))
		assert.Equal(t, 1, request.writes)
		assert.Equal(t, []byte{7, 0}, request.data)

		// Still busy
		_, err := router.Read(0x6040, 0)
		assert.Equal(t, ethercat.ErrTryLater, err)
		assert.Equal(t, ethercat.ErrTryLater, router.Write(0x6040, 0, 8))

		request.state = ethercat.RequestSuccess
		value, err := router.Read(0x6040, 0)
		assert.Nil(t, err)
		assert.EqualValues(t, 7, value)
		assert.Equal(t, 0, bus.transfers)
	})

	t.Run("read is collected by poll", func(t *testing.T) {
		_, err := router.Read(0x6040, 0)
		assert.Equal(t, ethercat.ErrTryLater, err)
		assert.Equal(t, 1, request.reads)
		entry, _ := dict.Lookup(0x6040, 0)
		assert.True(t, entry.PendingRead())

		request.data = []byte{0x34, 0x12}
		request.state = ethercat.RequestSuccess
		dict.Poll()
		assert.False(t, entry.PendingRead())
		assert.EqualValues(t, 0x1234, entry.Value())
		state, ok := entry.RequestState()
		assert.True(t, ok)
		assert.Equal(t, ethercat.RequestSuccess, state)

		value, err := router.Read(0x6040, 0)
		assert.Nil(t, err)
		assert.EqualValues(t, 0x1234, value)
	})

	t.Run("failed request", func(t *testing.T) {
		_, err := router.Read(0x607A, 0)
		assert.Equal(t, ethercat.ErrTryLater, err)
		config.requests[key{0x607A, 0}].state = ethercat.RequestError
		dict.Poll()
		_, err = router.Read(0x607A, 0)
		assert.ErrorIs(t, err, ethercat.ErrRequestFailed)
		// Next read schedules a new request
		_, err = router.Read(0x607A, 0)
		assert.Equal(t, ethercat.ErrTryLater, err)
		assert.Equal(t, 2, config.requests[key{0x607A, 0}].reads)
	})

	t.Run("failed write", func(t *testing.T) {
		failed := config.requests[key{0x607A, 0}]
		failed.state = ethercat.RequestSuccess
		assert.Nil(t, router.Write(0x607A, 0, 3))
		writes := failed.writes
		failed.state = ethercat.RequestError
		dict.Poll()
		// Reported by the next write, which is not submitted
		assert.ErrorIs(t, router.Write(0x607A, 0, 4), ethercat.ErrRequestFailed)
		assert.Equal(t, writes, failed.writes)
		// Reported once
		assert.Nil(t, router.Write(0x607A, 0, 4))
		assert.Equal(t, writes+1, failed.writes)
		assert.Equal(t, []byte{4, 0, 0, 0}, failed.data)
	})

	t.Run("release", func(t *testing.T) {
		dict.ReleaseRequests()
		_, ok := dict.entries[0].RequestState()
		assert.False(t, ok)
		_, err := router.Read(0x6040, 0)
		assert.Equal(t, ethercat.ErrNoRequest, err)
	})
}

func TestSetupRequestsFailure(t *testing.T) {
	dict := newTestDictionary(t)
	err := dict.SetupRequests(&fakeConfig{requests: map[key]*fakeRequest{}, fail: true}, DefaultTimeout)
	assert.ErrorIs(t, err, ethercat.ErrSdoRequest)
}
