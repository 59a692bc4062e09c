// Command cli is the interactive gophsafe client. It unlocks a local device,
// keeps the certificate log in sync with the server and runs the REPL.
package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/gophsafe/internal/client/cli"
	"github.com/dmitrijs2005/gophsafe/internal/client/config"
)

func main() {
	ctx := context.Background()

	app, err := cli.NewApp(config.LoadConfig())
	if err != nil {
		log.Fatalf("gophsafe: %v", err)
	}

	app.Run(ctx)
}
