package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/elmscope/elmscope/cmd/elmscope/commands"
)

// main runs the elmscope CLI.
//
// Exit codes:
//   - 0: Success
//   - 1: General error, or a probed target is not ready
//   - 2: Invalid usage, configuration, rules, catalog or unknown device
//   - 3: Capture held no command/response exchanges
//   - 4: Capture could not be read or report could not be written
//   - 5: Adapter unreachable or link failure
//   - 6: Adapter timed out
//   - 130: Interrupted
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := commands.Execute(ctx, commands.NewCommand(), os.Stderr)
	stop()
	os.Exit(code)
}
