// Package flagx lets several components share one command line: each parses
// only the flags it defines and ignores the rest.
package flagx

import (
	"flag"
	"strings"
)

// Known returns the arguments of args that name flags defined in fs,
// together with their values.
//
// Accepted forms are -f value, --f value, -f=value and --f=value. Boolean
// flags never take the following argument as their value. A value is taken
// even when it starts with a dash unless it names another flag of fs, so
// "-k -1s" works. Scanning stops at "--".
func Known(fs *flag.FlagSet, args []string) []string {
	known := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}

		name, hasValue := flagName(arg)
		if name == "" {
			continue
		}
		f := fs.Lookup(name)
		if f == nil {
			continue
		}

		known = append(known, arg)
		if hasValue || isBool(f) {
			continue
		}
		if i+1 < len(args) && !namesFlag(fs, args[i+1]) {
			known = append(known, args[i+1])
			i++
		}
	}

	return known
}

// ParseKnown parses the subset of args that Known selects for fs.
func ParseKnown(fs *flag.FlagSet, args []string) error {
	return fs.Parse(Known(fs, args))
}

// ConfigFile returns the value of -c or -config in args, the last one
// winning, or "" when neither is present.
func ConfigFile(args []string) string {
	var config string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = ParseKnown(fs, args)

	return config
}

// flagName splits "-name" or "--name=value" into its name and whether a
// value is attached.
func flagName(arg string) (string, bool) {
	if len(arg) < 2 || arg[0] != '-' {
		return "", false
	}
	name := strings.TrimPrefix(arg[1:], "-")
	if name == "" || name[0] == '-' || name[0] == '=' {
		return "", false
	}
	if i := strings.IndexByte(name, '='); i >= 0 {
		return name[:i], true
	}
	return name, false
}

func namesFlag(fs *flag.FlagSet, arg string) bool {
	name, _ := flagName(arg)
	return name != "" && fs.Lookup(name) != nil
}

func isBool(f *flag.Flag) bool {
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}
