package app

import (
	"os"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/rollno10/crossContractObfuscation/internal/cli"
)

func BuildRoot() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "ccobf",
		Short:         "Cross-contract interaction analysis and obfuscation for Solidity",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetHandler(clihandler.New(os.Stderr))
			if verbose {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	cli.AddCommands(root)
	return root
}
