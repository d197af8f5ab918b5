package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/snapback/snapback/internal/errors"
)

func init() {
	// don't import go.uber.org/automaxprocs to disable the log output
	_, _ = maxprocs.Set()
}

var cmdRoot = &cobra.Command{
	Use:   "snapback",
	Short: "Deduplicating, content-addressed backup engine",
	Long: `
snapback scans a source tree, deduplicates file content against a
content-addressed blob store, and records the result as one snapshot
in a local catalog.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

func createGlobalContext() context.Context {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ctx
}

func main() {
	ctx := createGlobalContext()
	err := cmdRoot.ExecuteContext(ctx)

	var exitCode int
	switch {
	case err == nil:
		exitCode = 0
	case errors.Is(err, context.Canceled):
		exitCode = 130
	case errors.IsFatal(err):
		fmt.Fprintln(os.Stderr, err.Error())
		exitCode = 1
	case err != nil:
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		exitCode = 1
	}

	os.Exit(exitCode)
}
