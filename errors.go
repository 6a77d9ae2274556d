package ethercat

import "errors"

// Startup errors, these abort master initialization or activation
var (
	ErrMasterUnavailable = errors.New("master could not be requested")
	ErrScanTimeout       = errors.New("bus scan did not finish in time")
	ErrSlaveInfo         = errors.New("slave information could not be read")
	ErrSlaveConfig       = errors.New("slave configuration could not be acquired")
	ErrPdoConfig         = errors.New("pdo configuration was refused")
	ErrDomain            = errors.New("domain could not be created or registered")
	ErrActivate          = errors.New("master could not be activated")
	ErrNoProcessData     = errors.New("process data image not available")
	ErrSdoRequest        = errors.New("sdo request could not be created")
)

// Mapping errors, logged and the concerned entry is treated as padding
var (
	ErrMapping   = errors.New("pdo entry bit length is not supported")
	ErrDirection = errors.New("sync manager direction is undefined")
)

// Runtime errors
var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrScanBusy        = errors.New("bus scan is still in progress")
	ErrTryLater        = errors.New("sdo request is still pending, try again later")
	ErrLinkDown        = errors.New("link is down")
	ErrNotFound        = errors.New("object does not exist")
	ErrInactive        = errors.New("master is not activated")
	ErrOutOfRange      = errors.New("access outside of process data image")
	ErrRequestFailed   = errors.New("sdo request failed")
	ErrNoRequest       = errors.New("no sdo request available for cyclic operation")
)
