package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/gateway"
)

// Wrapper around [http.ResponseWriter] but keeps track of any writes already done
// This allows us to perform default behaviour if handler has not already sent a response
type doneWriter struct {
	http.ResponseWriter
	done bool
}

// Handle a [GatewayRequest]
type GatewayRequestHandler func(w *doneWriter, req *GatewayRequest) error

func (w *doneWriter) WriteHeader(status int) {
	w.done = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *doneWriter) Write(b []byte) (int, error) {
	w.done = true
	return w.ResponseWriter.Write(b)
}

// Create a new sanitized api request object from raw http request
// This function also checks that values are within bounds etc.
func (g *GatewayServer) newRequestFromRaw(r *http.Request) (*GatewayRequest, error) {
	match := regURI.FindStringSubmatch(r.URL.Path)
	if len(match) != 6 {
		g.logger.Errorf("request %v does not match a known API pattern", r.URL.Path)
		return nil, ErrGwSyntaxError
	}
	apiVersion := match[1]
	if apiVersion != API_VERSION {
		g.logger.Errorf("api version %v is not supported", apiVersion)
		return nil, ErrGwRequestNotSupported
	}
	sequence, err := strconv.Atoi(match[2])
	if err != nil || sequence > MAX_SEQUENCE_NB {
		g.logger.Errorf("error processing sequence number %v", match[2])
		return nil, ErrGwSyntaxError
	}
	masterId, err := parseMasterOrSlaveParam(match[3])
	if err != nil || (masterId >= 0 && masterId != g.MasterIndex()) {
		g.logger.Errorf("error processing master param %v", match[3])
		return nil, ErrGwUnsupportedMaster
	}
	slaveId, err := parseMasterOrSlaveParam(match[4])
	if err != nil {
		g.logger.Errorf("error processing slave param %v", match[4])
		return nil, ErrGwUnsupportedSlave
	}

	// Unmarshall request body
	var parameters json.RawMessage
	err = json.NewDecoder(r.Body).Decode(&parameters)
	if err != nil && err != io.EOF {
		g.logger.Warnf("failed to unmarshal request body : %v", err)
		return nil, ErrGwSyntaxError
	}
	return &GatewayRequest{
		slaveId:    slaveId,
		masterId:   masterId,
		command:    match[5], // Contains rest of URL after slave
		sequence:   uint32(sequence),
		parameters: parameters,
	}, nil
}

// Default handler of any HTTP gateway request
// This parses a typical request and forwards it to the correct handler
func (g *GatewayServer) handleRequest(w http.ResponseWriter, raw *http.Request) {
	g.logger.Debugf("handle incoming request %v", raw.URL)
	w.Header().Set("Content-Type", "application/json")
	req, err := g.newRequestFromRaw(raw)
	if err != nil {
		w.Write(NewResponseError(0, err))
		return
	}
	// An api command (URI) is in the form /command/sub-command/... etc...
	// The full command is looked up first then the command up to the first "/".
	// e.g. 'info/slave' exists and is handled straight away,
	// 'read/0x6040/0x0' does not exist, so 'read' is used
	route, ok := g.routes[req.command]
	if !ok {
		firstCommand, _, _ := strings.Cut(req.command, "/")
		route, ok = g.routes[firstCommand]
		if !ok {
			g.logger.Debugf("no handler found for %v", req.command)
			w.Write(NewResponseError(int(req.sequence), ErrGwRequestNotSupported))
			return
		}
	}
	dw := &doneWriter{ResponseWriter: w}
	err = route(dw, req)
	if err != nil {
		g.logger.Debugf("request %v failed : %v", req.command, err)
		w.Write(NewResponseError(int(req.sequence), err))
		return
	}
	if !dw.done {
		// No response specific command has been given, reply with default success
		dw.Write(NewResponseSuccess(int(req.sequence)))
	}
}

// Resolve the slave targeted by a request, "all" is only allowed if
// allowAll is set and returns [TOKEN_ALL]
func (g *GatewayServer) slaveId(req *GatewayRequest, allowAll bool) (int, error) {
	switch req.slaveId {
	case TOKEN_DEFAULT, TOKEN_NONE:
		return g.DefaultSlave(), nil
	case TOKEN_ALL:
		if !allowAll {
			return 0, ErrGwUnsupportedSlave
		}
		return TOKEN_ALL, nil
	}
	if req.slaveId >= g.SlaveCount() {
		return 0, ErrGwUnsupportedSlave
	}
	return req.slaveId, nil
}

func writeJSON(w *doneWriter, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return ErrGwRequestNotProcessed
	}
	_, err = w.Write(raw)
	return err
}

// Create a handler requesting an AL state for one or all slaves
func (g *GatewayServer) createStateHandler(state ethercat.AlState) GatewayRequestHandler {
	return func(w *doneWriter, req *GatewayRequest) error {
		id, err := g.slaveId(req, true)
		if err != nil {
			return err
		}
		if err := g.SetSlaveState(id, state); err != nil {
			if errors.Is(err, ethercat.ErrInactive) {
				return ErrGwRequestNotProcessed
			}
			return err
		}
		return nil
	}
}

// Handle a read
// This includes different type of handlers : SDO, PDO
func (g *GatewayServer) handlerRead(w *doneWriter, req *GatewayRequest) error {
	if match := regPDO.FindStringSubmatch(req.command); match != nil {
		return g.handlerPDORead(w, req, match)
	}
	if match := regSDO.FindStringSubmatch(req.command); match != nil {
		return g.handlerSDORead(w, req, match)
	}
	return ErrGwSyntaxError
}

func (g *GatewayServer) handlerSDORead(w *doneWriter, req *GatewayRequest, commands []string) error {
	index, subindex, err := parseSdoCommand(commands[1:])
	if err != nil {
		return err
	}
	id, err := g.slaveId(req, false)
	if err != nil {
		return err
	}
	value, size, err := g.ReadSDO(id, index, subindex)
	if err != nil {
		return err
	}
	return writeJSON(w, SDOReadResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		Data:                formatHex(value, size),
		Value:               value,
	})
}

func (g *GatewayServer) handlerPDORead(w *doneWriter, req *GatewayRequest, commands []string) error {
	output, i, err := parsePdoCommand(commands[1:])
	if err != nil {
		return err
	}
	id, err := g.slaveId(req, false)
	if err != nil {
		return err
	}
	value, err := g.ReadPDO(id, output, i)
	if errors.Is(err, ethercat.ErrNotFound) {
		return ErrGwPDONotExist
	} else if err != nil {
		return err
	}
	return writeJSON(w, PDOReadResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		Value:               value,
	})
}

// Handle a write
// This includes different type of handlers : SDO, PDO
func (g *GatewayServer) handleWrite(w *doneWriter, req *GatewayRequest) error {
	var write ValueRequest
	if err := json.Unmarshal(req.parameters, &write); err != nil {
		return ErrGwSyntaxError
	}
	id, err := g.slaveId(req, false)
	if err != nil {
		return err
	}
	if match := regPDO.FindStringSubmatch(req.command); match != nil {
		output, i, err := parsePdoCommand(match[1:])
		if err != nil {
			return err
		}
		if !output {
			return ErrGwRequestNotSupported
		}
		err = g.WritePDO(id, i, write.Value)
		if errors.Is(err, ethercat.ErrNotFound) {
			return ErrGwPDONotExist
		}
		return err
	}
	if match := regSDO.FindStringSubmatch(req.command); match != nil {
		index, subindex, err := parseSdoCommand(match[1:])
		if err != nil {
			return err
		}
		return g.WriteSDO(id, index, subindex, write.Value)
	}
	return ErrGwSyntaxError
}

func (g *GatewayServer) handleSetDefaultSlave(w *doneWriter, req *GatewayRequest) error {
	var defaultSlave ValueRequest
	if err := json.Unmarshal(req.parameters, &defaultSlave); err != nil {
		return ErrGwSyntaxError
	}
	id, err := strconv.ParseUint(defaultSlave.Value, 0, 16)
	if err != nil {
		return ErrGwSyntaxError
	}
	if err := g.SetDefaultSlave(int(id)); err != nil {
		return ErrGwUnsupportedSlave
	}
	return nil
}

func (g *GatewayServer) handleGetVersion(w *doneWriter, req *GatewayRequest) error {
	version := g.GetVersion(API_VERSION)
	return writeJSON(w, VersionInfo{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		GatewayVersion:      &version,
	})
}

func (g *GatewayServer) handleSlaveInfo(w *doneWriter, req *GatewayRequest) error {
	id, err := g.slaveId(req, true)
	if err != nil {
		return err
	}
	slaves := make([]gateway.SlaveDescription, 0)
	for i := 0; i < g.SlaveCount(); i++ {
		if id != TOKEN_ALL && i != id {
			continue
		}
		description, err := g.SlaveInfo(i)
		if err != nil {
			return err
		}
		slaves = append(slaves, description)
	}
	return writeJSON(w, SlaveInfoResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		Slaves:              slaves,
	})
}

func (g *GatewayServer) handleMasterInfo(w *doneWriter, req *GatewayRequest) error {
	description := g.MasterInfo()
	return writeJSON(w, MasterInfoResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		MasterDescription:   &description,
	})
}

// Hexadecimal representation of the size lower bytes of value
func formatHex(value int64, size int) string {
	raw := uint64(value)
	if size > 0 && size < 8 {
		raw &= (1 << (8 * size)) - 1
	}
	return fmt.Sprintf("0x%0*x", 2*size, raw)
}
