package http

import "strconv"

const TOKEN_NONE = -3
const TOKEN_DEFAULT = -2
const TOKEN_ALL = -1

// Gets SDO command as list of strings and processes it
func parseSdoCommand(command []string) (index uint16, subindex uint8, err error) {
	if len(command) != 3 {
		return 0, 0, ErrGwSyntaxError
	}
	if command[1] == "all" {
		return 0, 0, ErrGwRequestNotSupported
	}
	i, e := strconv.ParseUint(command[1], 0, 16)
	if e != nil {
		return 0, 0, ErrGwSyntaxError
	}
	// Subindex defaults to 0 when omitted
	if command[2] == "" {
		return uint16(i), 0, nil
	}
	s, e := strconv.ParseUint(command[2], 0, 8)
	if e != nil {
		return 0, 0, ErrGwSyntaxError
	}
	return uint16(i), uint8(s), nil
}

// Gets PDO command as list of strings and processes it
func parsePdoCommand(command []string) (output bool, i int, err error) {
	if len(command) != 3 {
		return false, 0, ErrGwSyntaxError
	}
	n, e := strconv.ParseUint(command[2], 0, 16)
	if e != nil {
		return false, 0, ErrGwSyntaxError
	}
	return command[1] == "out" || command[1] == "o", int(n), nil
}

// Parse raw master / slave string param
func parseMasterOrSlaveParam(param string) (int, error) {
	switch param {
	case "default":
		return TOKEN_DEFAULT, nil
	case "none":
		return TOKEN_NONE, nil
	case "all":
		return TOKEN_ALL, nil
	}
	// This automatically treats 0x,0X,... correctly
	paramUint, err := strconv.ParseUint(param, 0, 16)
	if err != nil {
		return 0, err
	}
	return int(paramUint), nil
}
