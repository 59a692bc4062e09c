package cli

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
)

func (a *App) getStatus() string {
	s := ""
	if a.device != nil {
		s = string(a.device.UserID) + " "
	}
	if m := a.mode(); m != "" {
		s = s + string(m)
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

func (a *App) Root(ctx context.Context) {

	log.Println("Welcome to gophsafe CLI (type 'help' for commands)")

	if err := a.Unlock(ctx); err != nil {
		log.Printf("unlock failed: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.watchEvents(ctx)
	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}
