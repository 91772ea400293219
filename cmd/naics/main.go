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

	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string) int {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	a.writeMetrics()
	if err != nil {
		code := exitCode(classify(err))
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return code
	}
	return exitOK
}
