package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// command is the handler signature of every REPL command.
type command func(ctx context.Context, args []string) error

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isUnlocked() bool
	Poll(ctx context.Context, args []string) error
	Users(ctx context.Context, args []string) error
	Realms(ctx context.Context, args []string) error
	Roles(ctx context.Context, args []string) error
	CreateRealm(ctx context.Context, args []string) error
	RenameRealm(ctx context.Context, args []string) error
	Share(ctx context.Context, args []string) error
	Unshare(ctx context.Context, args []string) error
	Revoke(ctx context.Context, args []string) error
	Profile(ctx context.Context, args []string) error
	ShamirDelete(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
}

// runREPL starts a simple read–eval–print loop for the gophsafe CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a' with the remaining tokens as
// arguments. Unknown commands are reported back to the user. The loop exits
// on scanner EOF or when the user types "exit" or "quit".
//
// Commands
//
//	help                           show available commands
//	poll                           fetch new certificates from the server
//	users                          list users
//	realms                         list realms
//	roles <realm>                  list the roles of a realm
//	create-realm <name>            create and name a realm
//	rename-realm <realm> <name>    rename a realm
//	share <realm> <user> <role>    give a user a role in a realm
//	unshare <realm> <user>         take a user's role away
//	revoke <user>                  revoke a user
//	profile <user> <profile>       change a user's profile
//	shamir-delete                  delete own shamir recovery setup
//	status                         show connection and device
//	exit | quit                    leave the program
//
// Command errors are printed and the loop goes on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	commands := map[string]command{
		"poll":          a.Poll,
		"users":         a.Users,
		"realms":        a.Realms,
		"roles":         a.Roles,
		"create-realm":  a.CreateRealm,
		"rename-realm":  a.RenameRealm,
		"share":         a.Share,
		"unshare":       a.Unshare,
		"revoke":        a.Revoke,
		"profile":       a.Profile,
		"shamir-delete": a.ShamirDelete,
		"status":        a.Status,
	}

	for {
		printlnFn(fmt.Sprintf("gs> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			if a.isUnlocked() {
				printlnFn("Available commands: poll, users, realms, roles, create-realm, rename-realm, share, unshare, revoke, profile, shamir-delete, status, exit")
			} else {
				printlnFn("Available commands: status, exit")
			}
			continue

		case "exit", "quit":
			printlnFn("Bye!")
			return
		}

		run, ok := commands[cmd]
		if !ok {
			printlnFn("Unknown command:", cmd)
			continue
		}
		if err := run(ctx, args); err != nil {
			printlnFn("Error:", err)
		}
	}
}
