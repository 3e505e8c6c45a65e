// Responsible for storing the messages published by the sensor gateway.
// Depends on the gateway API being online.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/aggregator"
	"github.com/NotCoffee418/sensor_gateway/pkg/collector"
	"github.com/NotCoffee418/sensor_gateway/pkg/config"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/NotCoffee418/sensor_gateway/pkg/measclient"
	"github.com/NotCoffee418/sensor_gateway/pkg/measdb"
	"github.com/NotCoffee418/sensor_gateway/pkg/pathing"
	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.String("config", "", "path to collector.toml (default: config dir)")
	host := flag.String("host", "", "gateway host:port, overrides gateway_host from the config")
	backfill := flag.Bool("backfill", false, "aggregate every stored hour before listening")
	flag.Parse()

	if err := pathing.EnsureDirs(); err != nil {
		log.Fatal("Failed to create directories", "err", err)
	}

	if *configPath != "" {
		cfg, err := config.LoadCollectorConfigFrom(*configPath)
		if err != nil {
			log.Fatal("Failed to load config", "err", err)
		}
		config.ActiveCollectorConfig = cfg
	} else if err := config.LoadCollectorConfig(); err != nil {
		log.Fatal("Failed to load config", "err", err)
	}
	cfg := config.ActiveCollectorConfig
	if *host != "" {
		cfg.GatewayHost = *host
	}

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	// Initialize database
	measdb.InitializeDatabase()

	now := time.Now()
	if *backfill {
		if err := aggregator.Backfill(now.AddDate(0, 0, -cfg.RetentionDays), now); err != nil {
			log.Error("Backfill failed", "err", err)
		}
	}

	stop := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("Shutting down")
		close(stop)
	}()

	scheduler := aggregator.Scheduler{RetentionDays: cfg.RetentionDays, Delay: 5 * time.Minute}
	go scheduler.Run(stop)

	c := collector.New(cfg.GatewayHost, measdb.InsertMeasMsg)
	handleMeasMsg := func(msg *meas.MeasMsg) {
		if stored, err := c.Handle(msg); err == nil && stored {
			log.Debug("Stored message", "station", msg.Station(), "count", msg.Count())
		}
	}

	// Subscribe to websocket with revive
	measclient.StartListener(measclient.GatewayURL(cfg.GatewayHost, cfg.TLSEnabled), stop, handleMeasMsg)
}
