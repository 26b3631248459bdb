// Command negotiate-client fetches URLs protected by HTTP Negotiate
// (Kerberos or NTLM) authentication.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel string
	logFile  string
)

var rootCmd = &cobra.Command{
	Use:   "negotiate-client",
	Short: "HTTP client with Negotiate (Kerberos/NTLM) authentication",
	Long: `negotiate-client issues HTTP requests against servers that require the
Negotiate authentication scheme. On Windows the logged-on user is used by
default; elsewhere choose --ntlm or --kerberos with explicit credentials.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "", "Log level: debug, info, warn, error (empty = no logging)")
	rootCmd.PersistentFlags().StringVar(&logFile, "logfile", "", "Write logs to this file (rotated) instead of stderr")
	rootCmd.AddCommand(getCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
