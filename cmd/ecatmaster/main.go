package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/driver"
	_ "github.com/samsamfire/goethercat/pkg/driver/virtual"
	"github.com/samsamfire/goethercat/pkg/gateway/http"
	"github.com/samsamfire/goethercat/pkg/master"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Command line arguments
	configPath := flag.String("c", "", "configuration file path")
	driverName := flag.String("d", "", "master driver, overrides configuration")
	channel := flag.String("i", "", "driver channel e.g. virtual topology file, overrides configuration")
	address := flag.String("http", "", "start http gateway on address e.g. localhost:8090")
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
	if *address != "" {
		conf.Gateway.Enabled = true
		conf.Gateway.Address = *address
	}
	log.SetLevel(conf.LogLevel)
	if *debug {
		log.SetLevel(log.DebugLevel)
	}
	conf.RegisterDevices()
	log.Infof("available drivers : %v", driver.AvailableInterfaces())

	m, err := master.RequestMaster(conf.Master.Driver, conf.Master.Index, conf.Master.Channel, log.StandardLogger(), &conf.Master.Config)
	if err != nil {
		log.Fatalf("failed to initialize master %v : %v", conf.Master.Index, err)
	}
	for _, s := range m.Slaves() {
		log.Infof("slave %v : %v", s.Id(), s)
	}
	// Startup parameters are written before activation, over direct transfers
	if err := conf.ApplyParameters(m, log.NewEntry(log.StandardLogger())); err != nil {
		log.Warnf("some parameters could not be applied : %v", err)
	}
	if err := m.Start(); err != nil {
		m.Release()
		log.Fatalf("failed to start master : %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := master.NewRunner(m, conf.Master.CyclePeriod)
	runner.Start(ctx)

	if conf.Gateway.Enabled {
		gw := http.NewGatewayServer(m, conf.Master.Index, 0, log.StandardLogger())
		go func() {
			if err := gw.Serve(ctx, conf.Gateway.Address); err != nil {
				log.Errorf("gateway exited : %v", err)
				stop()
			}
		}()
	}

	runner.Wait()
	cycles, failed := runner.Stats()
	log.Infof("ran %v cycles, %v failed", cycles, failed)
	if err := m.Release(); err != nil {
		log.Errorf("failed to release master : %v", err)
		os.Exit(1)
	}
}
