package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	defaults := func() *Config {
		c := &Config{}
		c.LoadDefaults()
		return c
	}

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "all flags", args: []string{"cmd",
			"-a", "127.0.0.1:9090", "-s", "memory", "-d", "db", "-k", "10s,20s", "-o", "token",
		}, expectPanic: false,
			expected: &Config{
				EndpointAddrGRPC:    "127.0.0.1:9090",
				Storage:             StorageMemory,
				DatabaseDSN:         "db",
				BallparkEarlyOffset: 10 * time.Second,
				BallparkLateOffset:  20 * time.Second,
				BootstrapToken:      "token",
			}},
		{name: "no flags keeps defaults", args: []string{"cmd"}, expected: defaults()},
		{name: "unrelated flags are ignored", args: []string{"cmd", "-x", "1", "-a", ":1"},
			expected: func() *Config {
				c := defaults()
				c.EndpointAddrGRPC = ":1"
				return c
			}()},
		{name: "unknown storage", args: []string{"cmd", "-s", "s3"}, expectPanic: true},
		{name: "one offset", args: []string{"cmd", "-k", "10s"}, expectPanic: true},
		{name: "bad duration", args: []string{"cmd", "-k", "10s,soon"}, expectPanic: true},
		{name: "negative offset", args: []string{"cmd", "-k", "-1s,10s"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)

			os.Args = tt.args

			config := defaults()

			if !tt.expectPanic {

				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
