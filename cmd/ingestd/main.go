// Command ingestd ingests spreadsheet uploads and JSON payloads into a
// relational store, creating tables and columns as the data requires.
//
//	ingestd serve                 run the HTTP API
//	ingestd load a.xlsx b.csv     ingest local files once
//	ingestd migrate               apply storage migrations
//	ingestd validate              check the configuration
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// register all backends with the storage factory; config picks one.
	_ "ingest/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
