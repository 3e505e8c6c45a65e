package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/sensor_gateway/pkg/pathing"
)

var (
	ActiveGatewayConfig   *GatewayConfig
	ActiveCollectorConfig *CollectorConfig
)

func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		ListenAddress: "0.0.0.0",
		ListenPort:    9039,
		LogLevel:      "info",
		Ports: []PortConfig{
			{
				Name:              "aws",
				Protocol:          "smsaws",
				Transport:         "serial",
				SerialDevice:      "/dev/ttyUSB0",
				Baudrate:          9600,
				EndChar:           ")",
				IndexOfFirstValue: 3,
			},
		},
	}
}

func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		GatewayHost:   "localhost:9039",
		TLSEnabled:    false,
		RetentionDays: 30,
		LogLevel:      "info",
	}
}

func LoadGatewayConfig() error {
	cfg, err := LoadGatewayConfigFrom(filepath.Join(pathing.GetConfigDir(), "gateway.toml"))
	if err != nil {
		return err
	}
	ActiveGatewayConfig = cfg
	return nil
}

func LoadCollectorConfig() error {
	cfg, err := LoadCollectorConfigFrom(filepath.Join(pathing.GetConfigDir(), "collector.toml"))
	if err != nil {
		return err
	}
	ActiveCollectorConfig = cfg
	return nil
}

// LoadGatewayConfigFrom reads configPath, writing the defaults there first
// when it does not exist.
func LoadGatewayConfigFrom(configPath string) (*GatewayConfig, error) {
	cfg := DefaultGatewayConfig()
	if err := loadOrCreate(configPath, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

func LoadCollectorConfigFrom(configPath string) (*CollectorConfig, error) {
	cfg := DefaultCollectorConfig()
	if err := loadOrCreate(configPath, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadOrCreate(configPath string, cfg any) error {
	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
		defer cfgFile.Close()
		return toml.NewEncoder(cfgFile).Encode(cfg)
	}

	// Load existing config
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return fmt.Errorf("failed to decode %s: %w", configPath, err)
	}
	return nil
}

// Validate checks the port list for values the readers cannot work with.
func (c *GatewayConfig) Validate() error {
	seen := map[string]bool{}
	for i, p := range c.Ports {
		if p.Name == "" {
			return fmt.Errorf("ports[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("ports[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true

		switch p.Protocol {
		case "smsaws", "p1":
		default:
			return fmt.Errorf("port %s: unknown protocol %q", p.Name, p.Protocol)
		}
		switch p.Transport {
		case "serial":
			if p.SerialDevice == "" {
				return fmt.Errorf("port %s: serial_device is required", p.Name)
			}
		case "tcp":
			if p.Address == "" {
				return fmt.Errorf("port %s: address is required", p.Name)
			}
		default:
			return fmt.Errorf("port %s: unknown transport %q", p.Name, p.Transport)
		}
		if len([]rune(p.EndChar)) > 1 {
			return fmt.Errorf("port %s: end_char must be a single character", p.Name)
		}
	}
	for i, s := range c.ModbusStations {
		if s.Name == "" || s.Ip == "" || s.ModbusPort == 0 {
			return fmt.Errorf("modbus_stations[%d]: name, ip and modbus_port are required", i)
		}
		for _, r := range s.Registers {
			if r.Quantity != 1 && r.Quantity != 2 {
				return fmt.Errorf("modbus station %s: register %s quantity must be 1 or 2", s.Name, r.Name)
			}
		}
	}
	return nil
}
