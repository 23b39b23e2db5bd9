package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/scbe/cmd/scbe/commands"
)

var rootCmd = &cobra.Command{
	Use:   "scbe",
	Short: "Session Coordination and Broadcast Engine",
	Long: `scbe hosts ephemeral, real-time location-sharing sessions over
WebSocket: participants attach to a session and see every other
participant's position until the session ends or expires.`,
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "increase log verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.CreateSessionCmd)
	rootCmd.AddCommand(commands.InitConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
