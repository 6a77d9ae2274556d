package http

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/gateway"
	"github.com/samsamfire/goethercat/pkg/master"
	log "github.com/sirupsen/logrus"
)

const API_VERSION = "1.0"
const MAX_SEQUENCE_NB = 2<<31 - 1
const URI_PATTERN = `/ecat/(\d+\.\d+)/(\d{1,10})/(0x[0-9a-f]{1,4}|\d{1,5}|default)/(0x[0-9a-f]{1,4}|\d{1,5}|default|none|all)/(.*)`
const SDO_COMMAND_URI_PATTERN = `^(r|read|w|write)/(all|0x[0-9a-f]{1,4}|\d{1,5})/?(0x[0-9a-f]{1,2}|\d{1,3})?$`
const PDO_COMMAND_URI_PATTERN = `^(r|read|w|write)/(?:p|pdo)/(in|i|out|o)/(0x[0-9a-f]{1,3}|\d{1,4})$`

var regURI = regexp.MustCompile(URI_PATTERN)
var regSDO = regexp.MustCompile(SDO_COMMAND_URI_PATTERN)
var regPDO = regexp.MustCompile(PDO_COMMAND_URI_PATTERN)

const shutdownTimeout = 2 * time.Second

type GatewayServer struct {
	*gateway.BaseGateway
	logger   *log.Entry
	serveMux *http.ServeMux
	routes   map[string]GatewayRequestHandler
	stop     chan struct{}
	stopOnce sync.Once
}

// Create a new gateway serving master m
func NewGatewayServer(m *master.Master, masterIndex int, defaultSlave int, logger *log.Logger) *GatewayServer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	entry := logger.WithField("service", "[HTTP]")
	base := gateway.NewBaseGateway(m, masterIndex, defaultSlave, entry)
	gw := &GatewayServer{BaseGateway: base, logger: entry, stop: make(chan struct{})}
	gw.serveMux = http.NewServeMux()
	gw.serveMux.HandleFunc("/", gw.handleRequest) // This base route handles all the requests
	gw.serveMux.HandleFunc(STREAM_URI, gw.handleStream)
	gw.routes = make(map[string]GatewayRequestHandler)

	// SDO & PDO access
	gw.addRoute("r", gw.handlerRead)
	gw.addRoute("read", gw.handlerRead)
	gw.addRoute("w", gw.handleWrite)
	gw.addRoute("write", gw.handleWrite)

	// Slave state requests
	gw.addRoute("init", gw.createStateHandler(ethercat.AlInit))
	gw.addRoute("preop", gw.createStateHandler(ethercat.AlPreOp))
	gw.addRoute("preoperational", gw.createStateHandler(ethercat.AlPreOp))
	gw.addRoute("boot", gw.createStateHandler(ethercat.AlBoot))
	gw.addRoute("safeop", gw.createStateHandler(ethercat.AlSafeOp))
	gw.addRoute("op", gw.createStateHandler(ethercat.AlOp))
	gw.addRoute("start", gw.createStateHandler(ethercat.AlOp))

	// Information & defaults
	gw.addRoute("set/slave", gw.handleSetDefaultSlave)
	gw.addRoute("info/version", gw.handleGetVersion)
	gw.addRoute("info/slave", gw.handleSlaveInfo)
	gw.addRoute("info/master", gw.handleMasterInfo)

	return gw
}

// Handler serving the gateway, e.g. for embedding inside of another server
func (g *GatewayServer) Handler() http.Handler {
	return g.serveMux
}

// Process server, blocking
func (g *GatewayServer) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, g.serveMux)
}

// Serve until ctx is cancelled, then shutdown gracefully
func (g *GatewayServer) Serve(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: g.serveMux}
	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()
	g.logger.Infof("listening on %v", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	// Hijacked websocket connections are not tracked by the server
	g.closeStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	if serveErr := <-errc; !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	g.logger.Info("stopped")
	return err
}

// Add a route to the server for handling a specific command
func (g *GatewayServer) addRoute(command string, handler GatewayRequestHandler) {
	g.routes[command] = handler
}
