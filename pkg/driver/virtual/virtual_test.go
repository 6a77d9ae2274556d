package virtual

import (
	"context"
	"testing"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/driver"
	"github.com/stretchr/testify/assert"
)

func TestDefaultTopology(t *testing.T) {
	devices, err := ParseTopology(DefaultTopology())
	assert.Nil(t, err)
	assert.Len(t, devices, 2)

	drive := devices[0]
	assert.EqualValues(t, 0x22d2, drive.Info.VendorId)
	assert.EqualValues(t, 0x201, drive.Info.ProductCode)
	assert.EqualValues(t, 0x0a000002, drive.Info.RevisionNumber)
	assert.Len(t, drive.Syncs, 4)
	assert.Equal(t, ethercat.DirOutput, drive.Syncs[2].Direction)
	assert.Equal(t, ethercat.DirInput, drive.Syncs[3].Direction)
	assert.EqualValues(t, 0, drive.Syncs[0].PdoCount)
	assert.EqualValues(t, 4, drive.Syncs[2].Pdos[0].EntryCount)
	assert.Equal(t, 8, syncSize(drive.Syncs, 2))

	record := drive.object(0x2010)
	assert.NotNil(t, record)
	assert.EqualValues(t, ethercat.OBJ_RECORD, record.ObjectCode)
	assert.EqualValues(t, 2, record.MaxIndex())

	io := devices[1]
	assert.Equal(t, 1, syncSize(io.Syncs, 2))
}

func TestParseTopologyErrors(t *testing.T) {
	_, err := ParseTopology([]byte("[slave.0]\nvendor_id = abc\nproduct_code = 1\n"))
	assert.NotNil(t, err)
	_, err = ParseTopology([]byte("[slave.0]\nvendor_id = 1\nproduct_code = 1\n[slave.0.sm.2]\ndirection = output\npdos = 0x1600\n"))
	assert.NotNil(t, err)
	_, err = ParseTopology([]byte("[slave.1.sdo.0x1000]\nsub0 = UNSIGNED8, 8, ro, 0\n"))
	assert.NotNil(t, err)
}

func TestRegisteredDriver(t *testing.T) {
	assert.Contains(t, driver.AvailableInterfaces(), "virtual")
	bus, err := driver.NewBus("virtual", 0, "")
	assert.Nil(t, err)
	info, err := bus.Info()
	assert.Nil(t, err)
	assert.EqualValues(t, 2, info.SlaveCount)
	_, err = driver.NewBus("unknown", 0, "")
	assert.ErrorIs(t, err, ethercat.ErrMasterUnavailable)
}

func newTestMaster(t *testing.T) *Master {
	devices, err := ParseTopology(DefaultTopology())
	assert.Nil(t, err)
	return NewMaster(devices...)
}

func TestScanBusy(t *testing.T) {
	m := newTestMaster(t)
	m.SetScanCycles(2)
	for i := 0; i < 2; i++ {
		info, _ := m.Info()
		assert.True(t, info.ScanBusy)
	}
	info, _ := m.Info()
	assert.False(t, info.ScanBusy)
}

func TestRegistration(t *testing.T) {
	m := newTestMaster(t)
	config, err := m.SlaveConfig(0, 1, 0x22d2, 0x202)
	assert.Nil(t, err)
	d, err := m.CreateDomain()
	assert.Nil(t, err)

	_, err = m.SlaveConfig(0, 1, 0x22d2, 0x201)
	assert.ErrorIs(t, err, ErrIdentity)

	var offsets [3]uint32
	var bits [3]uint8
	regs := []ethercat.PdoEntryReg{
		{Position: 1, VendorId: 0x22d2, ProductCode: 0x202, Index: 0x7000, Subindex: 1, Offset: &offsets[0], BitPosition: &bits[0]},
		{Position: 1, VendorId: 0x22d2, ProductCode: 0x202, Index: 0x7000, Subindex: 3, Offset: &offsets[1], BitPosition: &bits[1]},
		{Position: 1, VendorId: 0x22d2, ProductCode: 0x202, Index: 0x6000, Subindex: 2, Offset: &offsets[2], BitPosition: &bits[2]},
	}
	assert.ErrorIs(t, d.RegisterPdoEntryList(regs), ErrTerminator)
	regs = append(regs, ethercat.PdoEntryReg{})
	assert.Nil(t, d.RegisterPdoEntryList(regs))
	assert.Equal(t, [3]uint32{0, 0, 1}, offsets)
	assert.Equal(t, [3]uint8{0, 2, 1}, bits)

	assert.Nil(t, d.Data())
	assert.Nil(t, m.Activate())
	assert.Equal(t, 2, d.Data().Size())
	assert.True(t, config.State().Operational)
	assert.ErrorIs(t, m.Activate(), ErrActive)

	// Inputs are copied on process, outputs on queue
	assert.Nil(t, m.SetInput(1, 0x6000, 2, 1))
	assert.Nil(t, d.Process())
	raw := make([]byte, 2)
	_, _ = d.Data().ReadAt(raw, 0)
	assert.Equal(t, byte(0x02), raw[1])
	assert.Equal(t, ethercat.WcComplete, d.State().WcState)

	_, _ = d.Data().WriteAt([]byte{0x05}, 0)
	assert.Nil(t, d.Queue())
	value, err := m.Output(1, 0x7000, 3)
	assert.Nil(t, err)
	assert.EqualValues(t, 1, value)
	value, _ = m.Output(1, 0x7000, 2)
	assert.EqualValues(t, 0, value)

	assert.Nil(t, m.Deactivate())
	assert.Nil(t, d.Data())
	assert.Equal(t, ethercat.AlPreOp, m.State().AlStates)
}

func TestDirectTransfers(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()

	abort, err := m.SdoDownload(ctx, 0, 0x6040, 0, []byte{0x0f, 0x00})
	assert.Nil(t, err)
	assert.EqualValues(t, 0, abort)
	data := make([]byte, 2)
	n, abort, err := m.SdoUpload(ctx, 0, 0x6040, 0, data)
	assert.Nil(t, err)
	assert.EqualValues(t, 0, abort)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x0f, 0x00}, data)

	abort, _ = m.SdoDownload(ctx, 0, 0x6041, 0, []byte{0, 0})
	assert.EqualValues(t, ethercat.AbortReadOnly, abort)
	_, abort, _ = m.SdoUpload(ctx, 0, 0x1234, 0, data)
	assert.EqualValues(t, ethercat.AbortNotExist, abort)
	_, abort, _ = m.SdoUpload(ctx, 0, 0x2010, 5, data)
	assert.EqualValues(t, ethercat.AbortSubUnknown, abort)

	m.SetLinkUp(false)
	_, _, err = m.SdoUpload(ctx, 0, 0x6040, 0, data)
	assert.ErrorIs(t, err, ethercat.ErrLinkDown)
	assert.False(t, m.State().LinkUp)
}

func TestScheduledRequests(t *testing.T) {
	m := newTestMaster(t)
	config, err := m.SlaveConfig(0, 0, 0x22d2, 0x201)
	assert.Nil(t, err)
	request, err := config.CreateSdoRequest(0x607a, 0, 4)
	assert.Nil(t, err)
	assert.Equal(t, ethercat.RequestUnused, request.State())

	copy(request.Data(), []byte{0xe8, 0x03, 0x00, 0x00})
	request.Write()
	assert.Equal(t, ethercat.RequestBusy, request.State())
	assert.Nil(t, m.Receive())
	assert.Equal(t, ethercat.RequestSuccess, request.State())
	value, err := m.ObjectValue(0, 0x607a, 0)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0xe8, 0x03, 0x00, 0x00}, value)

	readOnly, err := config.CreateSdoRequest(0x6041, 0, 2)
	assert.Nil(t, err)
	readOnly.Write()
	assert.Nil(t, m.Receive())
	assert.Equal(t, ethercat.RequestError, readOnly.State())
	readOnly.Read()
	assert.Nil(t, m.Receive())
	assert.Equal(t, ethercat.RequestSuccess, readOnly.State())
	assert.Equal(t, []byte{0x50, 0x02}, readOnly.Data())

	// Requests are invalid after deactivation
	assert.Nil(t, m.Deactivate())
	request.Read()
	assert.Equal(t, ethercat.RequestError, request.State())
}

func TestSlaveStates(t *testing.T) {
	m := newTestMaster(t)
	assert.NotNil(t, m.RequestSlaveState(0, ethercat.AlOp))
	assert.Nil(t, m.RequestSlaveState(0, ethercat.AlSafeOp))
	assert.Equal(t, ethercat.AlPreOp|ethercat.AlSafeOp, m.State().AlStates)
	assert.ErrorIs(t, m.RequestSlaveState(0, ethercat.AlState(0x10)), ethercat.ErrIllegalArgument)
	_, err := m.SlaveInfo(5)
	assert.ErrorIs(t, err, ErrNoDevice)
}
