package http

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/gateway"
	"github.com/stretchr/testify/assert"
)

func (f *fixture) streamURL(query string) string {
	return "ws" + strings.TrimPrefix(f.ts.URL, "http") + STREAM_URI + query
}

func TestStream(t *testing.T) {
	f := createClient(t)
	defer f.Close()
	defer f.gw.closeStreams()
	assert.Nil(t, f.master.Start())
	assert.Nil(t, f.bus.SetInput(0, 0x6064, 0, -1234))
	assert.Nil(t, f.master.CyclicFunction())

	conn, _, err := websocket.DefaultDialer.Dial(f.streamURL("?period_ms=10&slave=0"), nil)
	assert.Nil(t, err)
	defer conn.Close()
	var snapshot gateway.ProcessDataSnapshot
	assert.Nil(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, f.master.Session().String(), snapshot.Session)
	assert.EqualValues(t, ethercat.WcComplete, snapshot.WcState)
	assert.Len(t, snapshot.Slaves, 1)
	assert.EqualValues(t, 0, snapshot.Slaves[0].Position)
	assert.EqualValues(t, -1234, snapshot.Slaves[0].Inputs[3])

	all, _, err := websocket.DefaultDialer.Dial(f.streamURL(""), nil)
	assert.Nil(t, err)
	defer all.Close()
	assert.Nil(t, all.ReadJSON(&snapshot))
	assert.Len(t, snapshot.Slaves, 2)
}

func TestStreamInvalidQuery(t *testing.T) {
	f := createClient(t)
	defer f.Close()
	for _, query := range []string{"?period_ms=1", "?period_ms=abc", "?slave=5", "?slave=none"} {
		_, resp, err := websocket.DefaultDialer.Dial(f.streamURL(query), nil)
		assert.ErrorIs(t, err, websocket.ErrBadHandshake, query)
		if assert.NotNil(t, resp, query) {
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
		}
	}
}

func TestStreamStopped(t *testing.T) {
	f := createClient(t)
	defer f.Close()
	conn, _, err := websocket.DefaultDialer.Dial(f.streamURL("?period_ms=10"), nil)
	assert.Nil(t, err)
	defer conn.Close()
	f.gw.closeStreams()
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

func TestClientStream(t *testing.T) {
	f := createClient(t)
	defer f.Close()
	defer f.gw.closeStreams()
	assert.Nil(t, f.master.Start())
	assert.Nil(t, f.master.Slaves()[1].SetOutValue(0, 1))

	stream, err := f.client.Stream("1", 20*time.Millisecond)
	assert.Nil(t, err)
	defer stream.Close()
	snapshot, err := stream.Next()
	assert.Nil(t, err)
	assert.Len(t, snapshot.Slaves, 1)
	assert.EqualValues(t, 1, snapshot.Slaves[0].Position)
	assert.EqualValues(t, 1, snapshot.Slaves[0].Outputs[0])

	_, err = f.client.Stream("7", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrGwUnsupportedSlave)
	_, err = f.client.Stream("all", time.Millisecond)
	assert.ErrorIs(t, err, ErrGwSyntaxError)
}
