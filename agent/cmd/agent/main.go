package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tunnel-agent/agent/internal/cli"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "agent",
		Short:        "Tunnel agent managed by the control plane",
		SilenceUsage: true,
	}

	root.AddCommand(
		cli.NewRunCommand(),
		cli.NewStatusCommand(),
		cli.NewReleaseCommand(),
		cli.NewServiceCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
