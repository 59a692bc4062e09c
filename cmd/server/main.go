// Command server runs the gophsafe organization server: it serves the
// certificate log over gRPC and validates every certificate submitted to it.
package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/gophsafe/internal/server"
	"github.com/dmitrijs2005/gophsafe/internal/server/config"
)

func main() {
	ctx := context.Background()

	app, err := server.NewApp(ctx, config.LoadConfig())
	if err != nil {
		log.Fatalf("gophsafe server: %v", err)
	}

	app.Run(ctx)
}
