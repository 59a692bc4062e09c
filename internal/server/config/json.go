package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophsafe/internal/flagx"
	"github.com/dmitrijs2005/gophsafe/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// Offsets use timex.Duration, which accepts both strings such as "300s" and
// integer nanoseconds.
type JsonConfig struct {
	EndpointAddrGRPC    string         `json:"endpoint_addr_grpc"`
	Storage             string         `json:"storage"`
	DatabaseDSN         string         `json:"database_dsn"`
	BallparkEarlyOffset timex.Duration `json:"ballpark_early_offset"`
	BallparkLateOffset  timex.Duration `json:"ballpark_late_offset"`
	BootstrapToken      string         `json:"bootstrap_token"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flag into config. Fields absent from the file keep their current
// value. An unreadable file or invalid JSON panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.ConfigFile(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	if c.EndpointAddrGRPC != "" {
		config.EndpointAddrGRPC = c.EndpointAddrGRPC
	}
	if c.Storage != "" {
		config.Storage = c.Storage
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.BallparkEarlyOffset.Duration != 0 {
		config.BallparkEarlyOffset = c.BallparkEarlyOffset.Duration
	}
	if c.BallparkLateOffset.Duration != 0 {
		config.BallparkLateOffset = c.BallparkLateOffset.Duration
	}
	if c.BootstrapToken != "" {
		config.BootstrapToken = c.BootstrapToken
	}
}
