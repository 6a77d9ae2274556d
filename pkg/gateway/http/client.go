package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samsamfire/goethercat/pkg/gateway"
	log "github.com/sirupsen/logrus"
)

type GatewayClient struct {
	http.Client
	logger            *log.Entry
	baseURL           string
	apiVersion        string
	currentSequenceNb int
	masterId          int
}

func NewGatewayClient(baseURL string, apiVersion string, masterId int, logger *log.Logger) *GatewayClient {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &GatewayClient{
		logger:     logger.WithField("service", "[HTTP CLIENT]"),
		Client:     http.Client{},
		baseURL:    baseURL,
		masterId:   masterId,
		apiVersion: apiVersion,
	}
}

// HTTP request to gateway endpoint
// Does error checking : http related errors, json decode errors
// or actual gateway errors
func (client *GatewayClient) Do(method string, uri string, body io.Reader, response GatewayResponse) error {
	client.currentSequenceNb += 1
	baseUri := client.baseURL + "/ecat" + fmt.Sprintf("/%s/%d/%d", client.apiVersion, client.currentSequenceNb, client.masterId)
	req, err := http.NewRequest(method, baseUri+uri, body)
	if err != nil {
		client.logger.Errorf("failed to create request : %v", err)
		return err
	}
	httpResp, err := client.Client.Do(req)
	if err != nil {
		client.logger.Errorf("failed request : %v", err)
		return err
	}
	defer httpResp.Body.Close()
	// Decode JSON "generic" response
	err = json.NewDecoder(httpResp.Body).Decode(response)
	if err != nil {
		client.logger.Errorf("failed to decode response : %v", err)
		return err
	}
	// Check for gateway errors
	err = response.GetError()
	if err != nil {
		return err
	}
	sequence := response.GetSequenceNb()
	if client.currentSequenceNb != sequence {
		client.logger.Errorf("wrong sequence number %v, expected %v", sequence, client.currentSequenceNb)
		return fmt.Errorf("error in sequence number")
	}
	return nil
}

func (client *GatewayClient) put(uri string, request any) error {
	encodedReq, err := json.Marshal(request)
	if err != nil {
		return err
	}
	return client.Do(http.MethodPut, uri, bytes.NewBuffer(encodedReq), new(GatewayResponseBase))
}

// Read SDO, returns the value and its hexadecimal representation
func (client *GatewayClient) ReadSDO(slave uint16, index uint16, subindex uint8) (value int64, data string, err error) {
	resp := new(SDOReadResponse)
	err = client.Do(http.MethodGet, fmt.Sprintf("/%d/r/%d/%d", slave, index, subindex), nil, resp)
	if err != nil {
		return
	}
	return resp.Value, resp.Data, nil
}

// Write SDO, value is a decimal or 0x prefixed hexadecimal integer
func (client *GatewayClient) WriteSDO(slave uint16, index uint16, subindex uint8, value string) error {
	return client.put(fmt.Sprintf("/%d/w/%d/%d", slave, index, subindex), ValueRequest{Value: value})
}

// Read the value of PDO entry i of the inputs or the outputs of a slave
func (client *GatewayClient) ReadPDO(slave uint16, output bool, i int) (int64, error) {
	direction := "in"
	if output {
		direction = "out"
	}
	resp := new(PDOReadResponse)
	err := client.Do(http.MethodGet, fmt.Sprintf("/%d/r/pdo/%s/%d", slave, direction, i), nil, resp)
	return resp.Value, err
}

// Set the value of output PDO entry i of a slave
func (client *GatewayClient) WritePDO(slave uint16, i int, value string) error {
	return client.put(fmt.Sprintf("/%d/w/pdo/out/%d", slave, i), ValueRequest{Value: value})
}

// Request AL state command (init, preop, boot, safeop, op) for a slave
// or "all" slaves
func (client *GatewayClient) SetState(slave string, command string) error {
	return client.Do(http.MethodPut, fmt.Sprintf("/%s/%s", slave, command), nil, new(GatewayResponseBase))
}

func (client *GatewayClient) SetDefaultSlave(slave uint16) error {
	return client.put("/none/set/slave", ValueRequest{Value: fmt.Sprint(slave)})
}

// Read slave information of one slave or "all" slaves
func (client *GatewayClient) SlaveInfo(slave string) ([]gateway.SlaveDescription, error) {
	resp := new(SlaveInfoResponse)
	err := client.Do(http.MethodGet, fmt.Sprintf("/%s/info/slave", slave), nil, resp)
	return resp.Slaves, err
}

func (client *GatewayClient) MasterInfo() (*gateway.MasterDescription, error) {
	resp := new(MasterInfoResponse)
	err := client.Do(http.MethodGet, "/none/info/master", nil, resp)
	return resp.MasterDescription, err
}

// Read gateway version
func (client *GatewayClient) GetVersion() (*gateway.GatewayVersion, error) {
	versionInfo := new(VersionInfo)
	err := client.Do(http.MethodGet, "/none/info/version", nil, versionInfo)
	return versionInfo.GatewayVersion, err
}

// ProcessDataStream receives process data snapshots pushed by the gateway
type ProcessDataStream struct {
	conn *websocket.Conn
}

// Subscribe to process data snapshots of slave ("all" for every slave),
// sent every period
func (client *GatewayClient) Stream(slave string, period time.Duration) (*ProcessDataStream, error) {
	query := url.Values{}
	query.Set("slave", slave)
	query.Set("period_ms", strconv.FormatInt(period.Milliseconds(), 10))
	uri := "ws" + strings.TrimPrefix(client.baseURL, "http") + STREAM_URI + "?" + query.Encode()
	conn, resp, err := websocket.DefaultDialer.Dial(uri, nil)
	if err != nil {
		if resp != nil {
			// Gateway answers with a regular error response before upgrading
			response := new(GatewayResponseBase)
			if json.NewDecoder(resp.Body).Decode(response) == nil && response.GetError() != nil {
				err = response.GetError()
			}
			resp.Body.Close()
		}
		client.logger.Errorf("failed to open stream : %v", err)
		return nil, err
	}
	return &ProcessDataStream{conn: conn}, nil
}

// Next blocks until the next snapshot is received
func (stream *ProcessDataStream) Next() (gateway.ProcessDataSnapshot, error) {
	var snapshot gateway.ProcessDataSnapshot
	err := stream.conn.ReadJSON(&snapshot)
	return snapshot, err
}

func (stream *ProcessDataStream) Close() error {
	return stream.conn.Close()
}
