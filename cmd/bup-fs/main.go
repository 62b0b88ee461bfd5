package main

import (
	"context"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"

	"github.com/systemshift/bup-fs/internal/cli"
)

var version = "dev"

func main() {
	err := fang.Execute(context.Background(), cli.NewRootCommand(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	)
	if err != nil {
		os.Exit(1)
	}
}
