// Command relay runs commands on and copies files to a remote host over SSH.
//
// Connection settings come from flags, falling back to RELAY_* environment
// variables:
//
//	relay --host web1 --user deploy exec 'uptime' 'df -h'
//	RELAY_HOST=web1 relay sync ./dist /srv/app --exclude '*.map'
//	relay run -f relay.yaml deploy
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := newRootCmd(os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(2)
	}

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+err.Error()))
		stop()
		os.Exit(1)
	}
}
