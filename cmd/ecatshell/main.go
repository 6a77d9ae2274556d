package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/samsamfire/goethercat/pkg/config"
	_ "github.com/samsamfire/goethercat/pkg/driver/virtual"
	"github.com/samsamfire/goethercat/pkg/gateway"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/shell"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("c", "", "configuration file path")
	driverName := flag.String("d", "", "master driver, overrides configuration")
	channel := flag.String("i", "", "driver channel e.g. virtual topology file, overrides configuration")
	debug := flag.Bool("v", false, "debug logs")
	flag.Parse()

	conf := config.Default()
	if *configPath != "" {
		var err error
		conf, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load configuration : %v", err)
		}
	}
	if *driverName != "" {
		conf.Master.Driver = *driverName
	}
	if *channel != "" {
		conf.Master.Channel = *channel
	}
	log.SetLevel(conf.LogLevel)
	if *debug {
		log.SetLevel(log.DebugLevel)
	}
	conf.RegisterDevices()

	m, err := master.RequestMaster(conf.Master.Driver, conf.Master.Index, conf.Master.Channel, log.StandardLogger(), &conf.Master.Config)
	if err != nil {
		log.Fatalf("failed to initialize master %v : %v", conf.Master.Index, err)
	}
	if err := conf.ApplyParameters(m, log.NewEntry(log.StandardLogger())); err != nil {
		log.Warnf("some parameters could not be applied : %v", err)
	}
	if err := m.Start(); err != nil {
		m.Release()
		log.Fatalf("failed to start master : %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	runner := master.NewRunner(m, conf.Master.CyclePeriod)
	runner.Start(ctx)

	gw := gateway.NewBaseGateway(m, conf.Master.Index, 0, log.StandardLogger().WithField("service", "[SHELL]"))
	sh := shell.New(gw, os.Stdout)
	if err := sh.Run(ctx, log.StandardLogger()); err != nil {
		log.Errorf("shell exited : %v", err)
	}
	stop()
	runner.Wait()
	if err := m.Release(); err != nil {
		log.Errorf("failed to release master : %v", err)
		os.Exit(1)
	}
}
