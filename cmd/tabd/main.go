package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tabdaemon/tabd/internal/log"
)

var version = "dev"

// Global flags
var (
	socketFlag  string
	portFlag    int
	browserFlag string
	verbose     bool
	jsonOutput  bool
)

func main() {
	progName := filepath.Base(os.Args[0])

	rootCmd := &cobra.Command{
		Use:   progName,
		Short: "Local daemon that routes commands to browser-extension sessions",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.Setup(log.LevelVerbose)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Client IPC socket path (overrides TAB_SOCKET_PATH)")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "Extension WebSocket port (overrides TAB_WS_PORT)")
	rootCmd.PersistentFlags().StringVar(&browserFlag, "browser", "", "Browser executable path (overrides TAB_BROWSER_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newDaemonCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tabd version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
