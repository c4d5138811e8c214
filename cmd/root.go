package cmd

import (
	"fmt"
	"github.com/ValentinKolb/kqnet/cmd/connect"
	"github.com/ValentinKolb/kqnet/cmd/perf"
	"github.com/ValentinKolb/kqnet/cmd/serve"
	"github.com/ValentinKolb/kqnet/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kqnet",
		Short: "typed message client/server framework",
		Long: fmt.Sprintf(`kqnet (v%s)

A framework for exchanging typed binary messages over TCP. Peers validate each
other with a challenge/response handshake before any message flows.

The handshake is a compatibility filter, not authentication.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kqnet",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kqnet v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(connect.ConnectCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer of structured demo payloads (binary, json, gob), server and clients must agree"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
