// Package shell provides an interactive console on top of a running master.
// Commands are executed through a [gateway.BaseGateway], the same way the
// http gateway does.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/gateway"
	log "github.com/sirupsen/logrus"
)

const Prompt = "ecat> "

// ErrExit is returned by [Shell.Execute] when the user asks to leave
var ErrExit = errors.New("exit requested")

var states = map[string]ethercat.AlState{
	"init":   ethercat.AlInit,
	"preop":  ethercat.AlPreOp,
	"boot":   ethercat.AlBoot,
	"safeop": ethercat.AlSafeOp,
	"op":     ethercat.AlOp,
}

const help = `Commands:
  slaves                              list slaves
  info [slave]                        slave details
  master                              master & domain state
  state <slave|all> <init|preop|boot|safeop|op>
  sdo r <slave> <index> [subindex]    read an sdo entry
  sdo w <slave> <index> <subindex> <value>
  pdo r <slave> <in|out> <n>          read process data entry n
  pdo w <slave> <n> <value>           set output entry n
  default <slave>                     change default slave
  help                                this help
  quit                                leave`

type Shell struct {
	gw  *gateway.BaseGateway
	out io.Writer
}

func New(gw *gateway.BaseGateway, out io.Writer) *Shell {
	return &Shell{gw: gw, out: out}
}

// Run reads commands from the terminal until the user quits or ctx is done.
// Logs are redirected above the prompt while running.
func (sh *Shell) Run(ctx context.Context, logger *log.Logger) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          Prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline : %w", err)
	}
	defer rl.Close()
	sh.out = rl.Stdout()
	if logger != nil {
		previous := logger.Out
		logger.SetOutput(rl.Stderr())
		defer logger.SetOutput(previous)
	}
	fmt.Fprintln(sh.out, help)
	for ctx.Err() == nil {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return nil
		}
		err = sh.Execute(line)
		if errors.Is(err, ErrExit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(sh.out, "error : %v\n", err)
		}
	}
	return nil
}

// Execute runs a single command line
func (sh *Shell) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]
	switch strings.ToLower(fields[0]) {
	case "help", "?":
		fmt.Fprintln(sh.out, help)
	case "quit", "exit", "q":
		return ErrExit
	case "slaves", "ls":
		return sh.cmdSlaves()
	case "info", "i":
		return sh.cmdInfo(args)
	case "master", "m":
		return sh.cmdMaster()
	case "state", "s":
		return sh.cmdState(args)
	case "sdo":
		return sh.cmdSdo(args)
	case "pdo":
		return sh.cmdPdo(args)
	case "default":
		return sh.cmdDefault(args)
	default:
		return fmt.Errorf("%w : unknown command %v", ethercat.ErrIllegalArgument, fields[0])
	}
	return nil
}

// Slave argument, either a position or "default"
func (sh *Shell) slave(arg string) (int, error) {
	if arg == "default" {
		return sh.gw.DefaultSlave(), nil
	}
	id, err := strconv.ParseUint(arg, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w : slave %v", ethercat.ErrIllegalArgument, arg)
	}
	return int(id), nil
}

func usage(format string) error {
	return fmt.Errorf("%w : usage %v", ethercat.ErrIllegalArgument, format)
}

func (sh *Shell) cmdSlaves() error {
	for id := 0; id < sh.gw.SlaveCount(); id++ {
		desc, err := sh.gw.SlaveInfo(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%3d  %-8s %-7s %v\n", desc.Position, desc.Type, desc.State, desc.Name)
	}
	return nil
}

func (sh *Shell) cmdInfo(args []string) error {
	id := sh.gw.DefaultSlave()
	if len(args) > 0 {
		var err error
		if id, err = sh.slave(args[0]); err != nil {
			return err
		}
	}
	desc, err := sh.gw.SlaveInfo(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "position %v alias %v : %v\n", desc.Position, desc.Alias, desc.Name)
	fmt.Fprintf(sh.out, "  vendor %v product %v revision %v serial %v\n", desc.VendorId, desc.ProductCode, desc.Revision, desc.Serial)
	fmt.Fprintf(sh.out, "  type %v state %v online %v operational %v\n", desc.Type, desc.State, desc.Online, desc.Operational)
	fmt.Fprintf(sh.out, "  %v inputs, %v outputs, %v sdo entries\n", desc.Inputs, desc.Outputs, desc.Sdos)
	return nil
}

func (sh *Shell) cmdMaster() error {
	desc := sh.gw.MasterInfo()
	fmt.Fprintf(sh.out, "master %v session %v active %v link %v\n", desc.Index, desc.Session, desc.Active, desc.LinkUp)
	fmt.Fprintf(sh.out, "  %v/%v slaves responding, states %v\n", desc.SlavesResponding, desc.SlaveCount, desc.States)
	fmt.Fprintf(sh.out, "  working counter %v, wc state %v\n", desc.WorkingCounter, desc.WcState)
	return nil
}

func (sh *Shell) cmdState(args []string) error {
	if len(args) != 2 {
		return usage("state <slave|all> <state>")
	}
	state, ok := states[strings.ToLower(args[1])]
	if !ok {
		return fmt.Errorf("%w : state %v", ethercat.ErrIllegalArgument, args[1])
	}
	id := -1
	if args[0] != "all" {
		var err error
		if id, err = sh.slave(args[0]); err != nil {
			return err
		}
	}
	return sh.gw.SetSlaveState(id, state)
}

func parseIndex(args []string) (index uint16, subindex uint8, err error) {
	i, err := strconv.ParseUint(args[0], 0, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("%w : index %v", ethercat.ErrIllegalArgument, args[0])
	}
	if len(args) < 2 {
		return uint16(i), 0, nil
	}
	s, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("%w : subindex %v", ethercat.ErrIllegalArgument, args[1])
	}
	return uint16(i), uint8(s), nil
}

func (sh *Shell) cmdSdo(args []string) error {
	if len(args) < 3 {
		return usage("sdo <r|w> <slave> <index> ...")
	}
	id, err := sh.slave(args[1])
	if err != nil {
		return err
	}
	switch args[0] {
	case "r", "read":
		if len(args) > 4 {
			return usage("sdo r <slave> <index> [subindex]")
		}
		index, subindex, err := parseIndex(args[2:])
		if err != nil {
			return err
		}
		value, _, err := sh.gw.ReadSDO(id, index, subindex)
		if errors.Is(err, ethercat.ErrTryLater) {
			fmt.Fprintln(sh.out, "request pending, read again")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "x%x|x%x = %v (0x%x)\n", index, subindex, value, value)
	case "w", "write":
		if len(args) != 5 {
			return usage("sdo w <slave> <index> <subindex> <value>")
		}
		index, subindex, err := parseIndex(args[2:4])
		if err != nil {
			return err
		}
		return sh.gw.WriteSDO(id, index, subindex, args[4])
	default:
		return usage("sdo <r|w> ...")
	}
	return nil
}

func (sh *Shell) cmdPdo(args []string) error {
	if len(args) != 4 {
		return usage("pdo r <slave> <in|out> <n> | pdo w <slave> <n> <value>")
	}
	id, err := sh.slave(args[1])
	if err != nil {
		return err
	}
	switch args[0] {
	case "r", "read":
		n, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("%w : entry %v", ethercat.ErrIllegalArgument, args[3])
		}
		output := false
		switch args[2] {
		case "out", "o":
			output = true
		case "in", "i":
		default:
			return usage("pdo r <slave> <in|out> <n>")
		}
		value, err := sh.gw.ReadPDO(id, output, n)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%v[%v] = %v (0x%x)\n", args[2], n, value, value)
	case "w", "write":
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("%w : entry %v", ethercat.ErrIllegalArgument, args[2])
		}
		return sh.gw.WritePDO(id, n, args[3])
	default:
		return usage("pdo <r|w> ...")
	}
	return nil
}

func (sh *Shell) cmdDefault(args []string) error {
	if len(args) != 1 {
		return usage("default <slave>")
	}
	id, err := sh.slave(args[0])
	if err != nil {
		return err
	}
	return sh.gw.SetDefaultSlave(id)
}
