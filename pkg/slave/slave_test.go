package slave

import (
	"errors"
	"testing"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/driver/virtual"
	"github.com/samsamfire/goethercat/pkg/pdo"
	"github.com/stretchr/testify/assert"
)

func defaultBus(t *testing.T) *virtual.Master {
	devices, err := virtual.ParseTopology(virtual.DefaultTopology())
	assert.Nil(t, err)
	return virtual.NewMaster(devices...)
}

func TestDiscoverDrive(t *testing.T) {
	bus := defaultBus(t)
	s, err := Discover(bus, 0, 0, nil)
	assert.Nil(t, err)
	assert.EqualValues(t, 0, s.Id())
	assert.Equal(t, DeviceCiA402Drive, s.Type())
	assert.Equal(t, "SOMANET Circulo", s.Info().Name)
	assert.Empty(t, s.Warnings())

	assert.Equal(t, 4, s.InCount())
	assert.Equal(t, 4, s.OutCount())
	in, err := s.InPdo(3)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x6064, in.Index)
	assert.EqualValues(t, 32, in.BitLength)
	out, err := s.OutPdo(2)
	assert.Nil(t, err)
	assert.EqualValues(t, 0, out.Index)

	syncs := s.Syncs()
	assert.Len(t, syncs, 5)
	assert.True(t, syncs[len(syncs)-1].Terminator())
	assert.Equal(t, ethercat.DirOutput, syncs[2].Direction)
	assert.Len(t, syncs[2].Pdos[0].Entries, 4)

	assert.Equal(t, 10, s.SdoCount())
	entry, err := s.SdoAt(0)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x1000, entry.Index)
	record, err := s.Dictionary().Lookup(0x2010, 2)
	assert.Nil(t, err)
	assert.Equal(t, "Pole pairs", record.Name)
	assert.EqualValues(t, ethercat.OBJ_RECORD, record.ObjectType)
	assert.True(t, record.WriteAccess[0])
}

func TestDiscoverDigitalIO(t *testing.T) {
	bus := defaultBus(t)
	s, err := Discover(bus, 1, 0, nil)
	assert.Nil(t, err)
	assert.Equal(t, DeviceDigitalIO, s.Type())
	assert.Equal(t, 5, s.InCount())
	assert.Equal(t, 5, s.OutCount())
	assert.Equal(t, 1, s.SdoCount())
}

func TestDiscoverFailure(t *testing.T) {
	bus := defaultBus(t)
	bus.SetSlaveInfoError(0, errors.New("timeout"))
	_, err := Discover(bus, 0, 0, nil)
	assert.ErrorIs(t, err, ethercat.ErrSlaveInfo)
	_, err = Discover(bus, 7, 0, nil)
	assert.ErrorIs(t, err, ethercat.ErrSlaveInfo)
}

func TestDiscoverPartialDevice(t *testing.T) {
	unreadable := virtual.Var(1, ethercat.UNSIGNED8, 8, "rw", 0, "hidden")
	unreadable.Unreadable = true
	device := virtual.NewDevice("legacy", 0x1, 0x2).
		AddSync(2, ethercat.DirBoth, virtual.Pdo(0x1600, virtual.Mapped(0x7000, 1, 8))).
		AddSync(3, ethercat.DirInput, virtual.Pdo(0x1a00, virtual.Mapped(0x6000, 1, 8), virtual.Mapped(0x6000, 2, 7))).
		AddObject(0x7000, ethercat.OBJ_RECORD, "outputs",
			virtual.Var(0, ethercat.UNSIGNED8, 8, "ro", 1, "count"),
			unreadable,
		)
	bus := virtual.NewMaster(device)

	s, err := Discover(bus, 0, 0, nil)
	assert.Nil(t, err)
	assert.Equal(t, DeviceUnknown, s.Type())
	assert.Len(t, s.Warnings(), 2)
	assert.ErrorIs(t, s.Warnings()[0], ethercat.ErrDirection)
	assert.Equal(t, 0, s.OutCount())
	assert.Equal(t, 2, s.InCount())
	assert.Equal(t, 1, s.SdoCount())
	_, err = s.Dictionary().Lookup(0x7000, 1)
	assert.ErrorIs(t, err, ethercat.ErrNotFound)
	// sm0, sm1, sm3 & terminator
	assert.Len(t, s.Syncs(), 4)
}

func TestSyncTerminatorWithoutSyncs(t *testing.T) {
	bus := virtual.NewMaster(virtual.NewDevice("bare", 0x1, 0x3))
	s, err := Discover(bus, 0, 0, nil)
	assert.Nil(t, err)
	assert.Equal(t, []ethercat.SyncInfo{{Index: ethercat.EndOfSyncs}}, s.Syncs())
	assert.Equal(t, 0, s.InCount())
	assert.Equal(t, 0, s.SdoCount())
}

func TestPdoValues(t *testing.T) {
	bus := defaultBus(t)
	s, err := Discover(bus, 0, 0, nil)
	assert.Nil(t, err)

	assert.Nil(t, s.SetOutValue(0, 0x0f))
	value, err := s.OutValue(0)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x0f, value)
	assert.ErrorIs(t, s.SetOutValue(4, 1), ethercat.ErrNotFound)
	_, err = s.InValue(-1)
	assert.ErrorIs(t, err, ethercat.ErrNotFound)

	// Without a domain, values are encoded at their default offsets
	for _, entry := range s.Outputs() {
		entry.Type, _ = pdo.TypeFromBitLength(entry.BitLength)
	}
	image := make(ethercat.Buffer, 16)
	assert.Nil(t, s.Flush(image))
	assert.Nil(t, s.Refresh(nil))
	for _, entry := range s.Inputs() {
		entry.Type = pdo.ValueTypeUnsigned8
	}
	assert.ErrorIs(t, s.Refresh(nil), ethercat.ErrInactive)
}

func TestSdoAccess(t *testing.T) {
	bus := defaultBus(t)
	s, err := Discover(bus, 0, 0, nil)
	assert.Nil(t, err)
	assert.Nil(t, s.WriteSdo(0x6040, 0, 5))
	value, err := s.ReadSdo(0x6040, 0)
	assert.Nil(t, err)
	assert.EqualValues(t, 5, value)
	value, err = s.ReadSdo(0x6041, 0)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x0250, value)
	assert.Equal(t, ethercat.AbortReadOnly, s.WriteSdo(0x6041, 0, 1))

	assert.Nil(t, s.SetupRequests())
	entry, err := s.SdoAt(0)
	assert.Nil(t, err)
	_, hasRequest := entry.RequestState()
	assert.True(t, hasRequest)
	s.ReleaseRequests()
	_, hasRequest = entry.RequestState()
	assert.False(t, hasRequest)
}

func TestDeviceTypes(t *testing.T) {
	assert.Equal(t, DeviceCiA402Drive, LookupDeviceType(0x22d2, 0x201))
	assert.Equal(t, DeviceEndEffectorIO, LookupDeviceType(0x22d2, 0x203))
	assert.Equal(t, DeviceUnknown, LookupDeviceType(0x22d2, 0x999))
	RegisterDeviceType(0x22d2, 0x999, DeviceDigitalIO)
	assert.Equal(t, DeviceDigitalIO, LookupDeviceType(0x22d2, 0x999))

	assert.Equal(t, "CiA402 Drive", DeviceCiA402Drive.String())
	assert.Equal(t, "End-Effector I/O", DeviceEndEffectorIO.String())
	assert.Equal(t, "Unknown", DeviceType(42).String())

	parsed, err := ParseDeviceType("digital_io")
	assert.Nil(t, err)
	assert.Equal(t, DeviceDigitalIO, parsed)
	parsed, err = ParseDeviceType("CiA402 drive")
	assert.Nil(t, err)
	assert.Equal(t, DeviceCiA402Drive, parsed)
	_, err = ParseDeviceType("toaster")
	assert.NotNil(t, err)
}
