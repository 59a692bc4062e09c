package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-s string   storage, "postgres" or "memory"
//	-d string   PostgreSQL DSN
//	-k string   ballpark offsets "early,late" (e.g., "300s,320s")
//	-o string   organization bootstrap token
//
// Arguments belonging to other components, such as -c, are skipped.
func parseFlags(config *Config) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.Storage, "s", config.Storage, "certificate storage (postgres|memory)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	ballpark := fs.String("k", formatBallpark(config.BallparkEarlyOffset, config.BallparkLateOffset), "ballpark offsets early,late")
	fs.StringVar(&config.BootstrapToken, "o", config.BootstrapToken, "organization bootstrap token")

	if err := flagx.ParseKnown(fs, os.Args[1:]); err != nil {
		panic(err)
	}

	early, late, err := parseBallpark(*ballpark)
	if err != nil {
		panic(err)
	}
	config.BallparkEarlyOffset = early
	config.BallparkLateOffset = late

	if config.Storage != StoragePostgres && config.Storage != StorageMemory {
		panic(fmt.Sprintf("unknown storage %q", config.Storage))
	}
}

func formatBallpark(early, late time.Duration) string {
	return early.String() + "," + late.String()
}

func parseBallpark(s string) (time.Duration, time.Duration, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("ballpark offsets %q: want early,late", s)
	}
	early, err := time.ParseDuration(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("ballpark early offset: %w", err)
	}
	late, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("ballpark late offset: %w", err)
	}
	if early <= 0 || late <= 0 {
		return 0, 0, fmt.Errorf("ballpark offsets %q must be positive", s)
	}
	return early, late, nil
}
