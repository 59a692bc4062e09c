// Package config loads runtime configuration for the gophsafe client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the backend gRPC endpoint
//	-i int      online status check interval (seconds)
//	-d string   data directory (device key file, local databases)
//	-e string   local certificate storage engine: sqlite, badger or memory
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "3s" or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "online_check_interval": "3s",
//	  "data_dir": "/home/alice/.gophsafe",
//	  "storage_engine": "badger"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
