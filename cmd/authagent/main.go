// Command authagent signs in to the portals like a browser would and reports whether the
// authentication contract holds for each demo account.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1) //nolint:forbidigo // CLI must propagate failure to shell scripts
	}
}
