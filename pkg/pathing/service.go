package pathing

import (
	"os"
	"path/filepath"
)

// EnsureDirs creates the data and config directories when missing.
func EnsureDirs() error {
	// Directories that must exist:
	dirs := []string{
		GetDataDir(),
		GetConfigDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func GetMeasDbPath() string {
	return filepath.Join(GetDataDir(), "sensor-meas.db")
}

func GetDataDir() string {
	if dir := os.Getenv("SENSOR_GATEWAY_DATA_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/sensor_gateway"
}

func GetConfigDir() string {
	if dir := os.Getenv("SENSOR_GATEWAY_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/sensor_gateway"
}
