// Reads the configured sensor ports and serves their messages over HTTP and
// websocket.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/config"
	"github.com/NotCoffee418/sensor_gateway/pkg/events"
	"github.com/NotCoffee418/sensor_gateway/pkg/gateway"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/NotCoffee418/sensor_gateway/pkg/metrics"
	"github.com/NotCoffee418/sensor_gateway/pkg/modbuspoll"
	"github.com/NotCoffee418/sensor_gateway/pkg/pathing"
	"github.com/NotCoffee418/sensor_gateway/pkg/port_reader"
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
)

const modbusPollInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to gateway.toml (default: config dir)")
	flag.Parse()

	if err := pathing.EnsureDirs(); err != nil {
		log.Fatal("Failed to create directories", "err", err)
	}

	if *configPath != "" {
		cfg, err := config.LoadGatewayConfigFrom(*configPath)
		if err != nil {
			log.Fatal("Failed to load config", "err", err)
		}
		config.ActiveGatewayConfig = cfg
	} else if err := config.LoadGatewayConfig(); err != nil {
		log.Fatal("Failed to load config", "err", err)
	}
	cfg := config.ActiveGatewayConfig

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Unknown log level %q, keeping default", cfg.LogLevel)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := metrics.New(registry).Sink(events.Nop{})

	hub := gateway.NewHub()
	broadcast := func(msg *meas.MeasMsg) {
		log.Debug("Broadcasting message", "station", msg.Station(), "count", msg.Count())
		hub.Broadcast(msg)
	}

	readers := make([]*port_reader.Reader, 0, len(cfg.Ports))
	sources := make([]gateway.Source, 0, len(cfg.Ports))
	for _, portCfg := range cfg.Ports {
		reader := port_reader.NewReader(portCfg, sink)
		reader.StartReading(broadcast, func(err error) {
			log.Error("Port failed", "port", portCfg.Name, "err", err)
		})
		readers = append(readers, reader)
		sources = append(sources, reader)
	}

	pollers := make([]*modbuspoll.Poller, 0, len(cfg.ModbusStations))
	for _, station := range cfg.ModbusStations {
		pollers = append(pollers, modbuspoll.NewPoller(station))
	}

	stop := make(chan struct{})
	go gateway.RunPollers(pollers, modbusPollInterval, stop, broadcast)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("Shutting down")
		close(stop)
		for _, r := range readers {
			r.StopReading()
		}
		os.Exit(0)
	}()

	server := gateway.NewServer(sources, pollers, hub, registry)
	listener := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	log.Infof("Starting server on %s with %d port(s)", listener, len(readers))
	log.Fatal(http.ListenAndServe(listener, server.Handler()))
}
