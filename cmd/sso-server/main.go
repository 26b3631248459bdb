// Command sso-server serves a small HTTP API behind the Negotiate SSO
// middleware. It is a reference deployment and a test target for
// negotiate-client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sso-server",
	Short: "HTTP server with Negotiate single sign-on",
	Long: `sso-server authenticates browsers and clients with the Negotiate scheme
(Kerberos or NTLM) and reports the resulting identity at /whoami.

Configuration comes from SSO_* environment variables; flags override them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
