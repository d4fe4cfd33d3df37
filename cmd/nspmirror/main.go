// Command nspmirror mirrors the Node Security Platform advisory feed into a
// local database.
//
// Usage:
//
//	nspmirror run
//	nspmirror serve
//	nspmirror status
//	nspmirror get <id>
//
// See --help for all available options.
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
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
