package http

import (
	"context"
	"errors"
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
)

var ERROR_GATEWAY_DESCRIPTION_MAP = map[int]string{
	100: "Request not supported",
	101: "Syntax error",
	102: "Request not processed due to internal state",
	103: "Time-out (where applicable)",
	104: "No default master set",
	105: "No default slave set",
	106: "Unsupported master",
	107: "Unsupported slave",
	400: "PDO does not exist",
	600: "Running out of memory",
	601: "EtherCAT link currently not available",
	900: "Manufacturer-specific error",
	901: "SDO request pending, try again later",
}

var (
	ErrGwRequestNotSupported       = &GatewayError{Code: 100}
	ErrGwSyntaxError               = &GatewayError{Code: 101}
	ErrGwRequestNotProcessed       = &GatewayError{Code: 102}
	ErrGwTimeout                   = &GatewayError{Code: 103}
	ErrGwNoDefaultMasterSet        = &GatewayError{Code: 104}
	ErrGwNoDefaultSlaveSet         = &GatewayError{Code: 105}
	ErrGwUnsupportedMaster         = &GatewayError{Code: 106}
	ErrGwUnsupportedSlave          = &GatewayError{Code: 107}
	ErrGwPDONotExist               = &GatewayError{Code: 400}
	ErrGwRunningOutOfMemory        = &GatewayError{Code: 600}
	ErrGwLinkNotAvailable          = &GatewayError{Code: 601}
	ErrGwManufacturerSpecificError = &GatewayError{Code: 900}
	ErrGwTryLater                  = &GatewayError{Code: 901}
)

type GatewayError struct {
	Code int // Can be either an sdo abort code or a gateway error code
}

func NewGatewayError(code int) error {
	return &GatewayError{Code: code}
}

func (e *GatewayError) Error() string {
	if e.Code <= 999 {
		return fmt.Sprintf("ERROR:%d", e.Code)
	}
	// Return as a hex value (sdo aborts)
	return fmt.Sprintf("ERROR:0x%x", e.Code)
}

func (e *GatewayError) Is(target error) bool {
	other, ok := target.(*GatewayError)
	return ok && other.Code == e.Code
}

// Description of the error, sdo aborts are described by [ethercat.AbortCode]
func (e *GatewayError) Description() string {
	if e.Code > 999 {
		return ethercat.AbortCode(e.Code).Description()
	}
	return ERROR_GATEWAY_DESCRIPTION_MAP[e.Code]
}

// Translate an error of the master into a gateway error
func toGatewayError(err error) *GatewayError {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	var abort ethercat.AbortCode
	if errors.As(err, &abort) {
		return &GatewayError{Code: int(abort)}
	}
	switch {
	case errors.Is(err, ethercat.ErrTryLater):
		return ErrGwTryLater
	case errors.Is(err, ethercat.ErrLinkDown):
		return ErrGwLinkNotAvailable
	case errors.Is(err, ethercat.ErrNotFound):
		return &GatewayError{Code: int(ethercat.AbortNotExist)}
	case errors.Is(err, ethercat.ErrRequestFailed):
		return &GatewayError{Code: int(ethercat.AbortGeneral)}
	case errors.Is(err, ethercat.ErrIllegalArgument):
		return ErrGwSyntaxError
	case errors.Is(err, context.DeadlineExceeded):
		return ErrGwTimeout
	default:
		return ErrGwRequestNotProcessed
	}
}
