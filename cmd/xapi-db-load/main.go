// Command xapi-db-load generates a synthetic xAPI corpus and loads it into one of the supported backends.
//
// Usage:
//
//	xapi-db-load [config_file] [flags]
//
// Exit codes: 0 on success, 1 when a backend operation failed, 2 on a configuration or usage error.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	os.Exit(code)
}
