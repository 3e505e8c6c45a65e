package config

type CollectorConfig struct {
	GatewayHost string `toml:"gateway_host"`
	TLSEnabled  bool   `toml:"tls_enabled"`
	// Raw rows older than this are removed once aggregated, 0 keeps everything
	RetentionDays int    `toml:"retention_days"`
	LogLevel      string `toml:"log_level"`
}

type GatewayConfig struct {
	ListenAddress  string                `toml:"listen_address"`
	ListenPort     int                   `toml:"listen_port"`
	LogLevel       string                `toml:"log_level"`
	Ports          []PortConfig          `toml:"ports"`
	ModbusStations []ModbusStationConfig `toml:"modbus_stations"`
}

// PortConfig describes one data source.
type PortConfig struct {
	Name string `toml:"name"`
	// "smsaws" or "p1"
	Protocol string `toml:"protocol"`
	// "serial" or "tcp"
	Transport    string `toml:"transport"`
	SerialDevice string `toml:"serial_device"`
	Baudrate     uint   `toml:"baudrate"`
	// host:port for tcp transport
	Address string `toml:"address"`
	// Message terminator, ")" when empty. P1 ports always frame on "\n".
	EndChar string `toml:"end_char"`
	// Messages carry an 8 hex digit CRC32 after the terminator
	UseCRC32 bool `toml:"use_crc32"`
	// Drop messages whose CRC32 does not match
	VerifyCRC32          bool `toml:"verify_crc32"`
	IndexOfFirstValue    int  `toml:"index_of_first_value"`
	RoundSecondsToMinute bool `toml:"round_seconds_to_minute"`
	// Split frames on ')' and carry the unterminated tail to the next frame
	Multi bool `toml:"multi"`
	// Station name for p1 telegrams without a meter serial
	Station string `toml:"station"`
}

type ModbusStationConfig struct {
	Name       string `toml:"name"`
	Ip         string `toml:"ip"`
	ModbusPort int    `toml:"modbus_port"`
	SlaveId    byte   `toml:"slave_id"`
	// Should be named `preconfigured`
	// Check with `nmcli device status`
	// Leave empty to skip reconnecting
	WlanConnectionId string           `toml:"wlan_connection_id"`
	Registers        []RegisterConfig `toml:"registers"`
}

type RegisterConfig struct {
	Name    string `toml:"name"`
	Address uint16 `toml:"address"`
	// 1 or 2 registers, big endian
	Quantity uint16 `toml:"quantity"`
	Signed   bool   `toml:"signed"`
	// Multiplier applied to the raw value, 0 leaves it unscaled
	Scale float64 `toml:"scale"`
}
