package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/driver/virtual"
	"github.com/samsamfire/goethercat/pkg/master"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.SetLevel(log.DebugLevel)
}

type fixture struct {
	client *GatewayClient
	gw     *GatewayServer
	ts     *httptest.Server
	master *master.Master
	bus    *virtual.Master
}

func (f *fixture) Close() {
	f.ts.Close()
	f.master.Release()
}

func createClient(t *testing.T) *fixture {
	devices, err := virtual.ParseTopology(virtual.DefaultTopology())
	assert.Nil(t, err)
	bus := virtual.NewMaster(devices...)
	m, err := master.NewMaster(bus, nil, nil)
	assert.Nil(t, err)
	gw := NewGatewayServer(m, 0, 0, nil)
	ts := httptest.NewServer(gw.Handler())
	client := NewGatewayClient(ts.URL, API_VERSION, 0, nil)
	return &fixture{client: client, gw: gw, ts: ts, master: m, bus: bus}
}

func TestInvalidURIs(t *testing.T) {
	f := createClient(t)
	defer f.Close()
	resp := new(GatewayResponseBase)
	err := f.client.Do(http.MethodGet, "/", nil, resp)
	assert.ErrorIs(t, err, ErrGwSyntaxError)
	err = f.client.Do(http.MethodGet, "/10/strt//", nil, resp)
	assert.ErrorIs(t, err, ErrGwRequestNotSupported)
	err = f.client.Do(http.MethodGet, "/0/r/pdo/xx/1", nil, resp)
	assert.ErrorIs(t, err, ErrGwSyntaxError)

	other := NewGatewayClient(f.ts.URL, API_VERSION, 3, nil)
	_, err = other.GetVersion()
	assert.ErrorIs(t, err, ErrGwUnsupportedMaster)
	other = NewGatewayClient(f.ts.URL, "2.0", 0, nil)
	_, err = other.GetVersion()
	assert.ErrorIs(t, err, ErrGwRequestNotSupported)
}

func TestSDOAccess(t *testing.T) {
	f := createClient(t)
	defer f.Close()

	value, data, err := f.client.ReadSDO(0, 0x6041, 0)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x0250, value)
	assert.Equal(t, "0x0250", data)

	assert.Nil(t, f.client.WriteSDO(0, 0x6060, 0, "-3"))
	value, data, err = f.client.ReadSDO(0, 0x6060, 0)
	assert.Nil(t, err)
	assert.EqualValues(t, -3, value)
	assert.Equal(t, "0xfd", data)

	assert.Nil(t, f.client.WriteSDO(0, 0x2010, 1, "0x1000"))
	value, _, err = f.client.ReadSDO(0, 0x2010, 1)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x1000, value)

	_, _, err = f.client.ReadSDO(0, 0x7000, 0)
	assert.ErrorIs(t, err, NewGatewayError(int(ethercat.AbortNotExist)))
	assert.Equal(t, "ERROR:0x6020000", err.Error())
	err = f.client.WriteSDO(0, 0x6041, 0, "1")
	assert.ErrorIs(t, err, NewGatewayError(int(ethercat.AbortReadOnly)))
	err = f.client.WriteSDO(0, 0x6040, 0, "abc")
	assert.ErrorIs(t, err, ErrGwSyntaxError)
	_, _, err = f.client.ReadSDO(5, 0x6041, 0)
	assert.ErrorIs(t, err, ErrGwUnsupportedSlave)
}

func TestScheduledSDOAccess(t *testing.T) {
	f := createClient(t)
	defer f.Close()
	assert.Nil(t, f.master.Start())
	assert.Nil(t, f.master.CyclicFunction())

	_, _, err := f.client.ReadSDO(0, 0x2010, 2)
	assert.ErrorIs(t, err, ErrGwTryLater)
	assert.Nil(t, f.master.CyclicFunction())
	value, _, err := f.client.ReadSDO(0, 0x2010, 2)
	assert.Nil(t, err)
	assert.EqualValues(t, 7, value)

	f.bus.SetLinkUp(false)
	_, _, err = f.client.ReadSDO(0, 0x2010, 2)
	assert.ErrorIs(t, err, ErrGwLinkNotAvailable)
}

func TestPDOAccess(t *testing.T) {
	f := createClient(t)
	defer f.Close()
	assert.Nil(t, f.master.Start())
	assert.Nil(t, f.bus.SetInput(0, 0x6064, 0, -5))
	assert.Nil(t, f.master.CyclicFunction())

	value, err := f.client.ReadPDO(0, false, 3)
	assert.Nil(t, err)
	assert.EqualValues(t, -5, value)

	assert.Nil(t, f.client.WritePDO(0, 3, "1000"))
	value, err = f.client.ReadPDO(0, true, 3)
	assert.Nil(t, err)
	assert.EqualValues(t, 1000, value)
	assert.Nil(t, f.master.CyclicFunction())
	raw, err := f.bus.Output(0, 0x607a, 0)
	assert.Nil(t, err)
	assert.EqualValues(t, 1000, raw)

	_, err = f.client.ReadPDO(0, false, 20)
	assert.ErrorIs(t, err, ErrGwPDONotExist)
	err = f.client.WritePDO(1, 8, "1")
	assert.ErrorIs(t, err, ErrGwPDONotExist)
	err = f.client.Do(http.MethodPut, "/0/w/pdo/in/0", nil, new(GatewayResponseBase))
	assert.ErrorIs(t, err, ErrGwSyntaxError)
}

func TestSlaveStates(t *testing.T) {
	f := createClient(t)
	defer f.Close()
	assert.Nil(t, f.client.SetState("1", "safeop"))
	info, _ := f.bus.SlaveInfo(1)
	assert.Equal(t, ethercat.AlSafeOp, info.AlState)
	assert.Nil(t, f.client.SetState("all", "init"))
	for i := uint16(0); i < 2; i++ {
		info, _ = f.bus.SlaveInfo(i)
		assert.Equal(t, ethercat.AlInit, info.AlState)
	}
	// OP is refused until the master is started
	assert.ErrorIs(t, f.client.SetState("0", "op"), ErrGwRequestNotProcessed)
	assert.ErrorIs(t, f.client.SetState("4", "preop"), ErrGwUnsupportedSlave)
}

func TestInformation(t *testing.T) {
	f := createClient(t)
	defer f.Close()

	slaves, err := f.client.SlaveInfo("all")
	assert.Nil(t, err)
	assert.Len(t, slaves, 2)
	assert.Equal(t, "CiA402 Drive", slaves[0].Type)
	assert.Equal(t, "0x22d2", slaves[0].VendorId)
	assert.Equal(t, 4, slaves[0].Inputs)
	assert.Equal(t, "PREOP", slaves[0].State)

	slaves, err = f.client.SlaveInfo("1")
	assert.Nil(t, err)
	assert.Len(t, slaves, 1)
	assert.Equal(t, "SOMANET Digital I/O", slaves[0].Name)
	assert.Equal(t, "Digital I/O", slaves[0].Type)

	masterInfo, err := f.client.MasterInfo()
	assert.Nil(t, err)
	assert.Equal(t, 2, masterInfo.SlaveCount)
	assert.True(t, masterInfo.LinkUp)
	assert.False(t, masterInfo.Active)

	version, err := f.client.GetVersion()
	assert.Nil(t, err)
	assert.Equal(t, ethercat.Version, version.Version)
	assert.Equal(t, API_VERSION, version.ProtocolVersion)
}

func TestDefaultSlave(t *testing.T) {
	f := createClient(t)
	defer f.Close()
	assert.Nil(t, f.client.SetDefaultSlave(1))
	assert.Equal(t, 1, f.gw.DefaultSlave())
	slaves, err := f.client.SlaveInfo("default")
	assert.Nil(t, err)
	assert.Len(t, slaves, 1)
	assert.EqualValues(t, 1, slaves[0].Position)
	assert.ErrorIs(t, f.client.SetDefaultSlave(9), ErrGwUnsupportedSlave)
}
