package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aboamare/mms-router/internal/auth"
	"github.com/aboamare/mms-router/pkg/client"
)

var (
	// Global flags
	serverURL string
	agentMRN  string
	keyFile   string
	certFile  string
	token     string
	timeout   time.Duration
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mms-cli",
		Short: "MMS router command line interface",
		Long: `mms-cli talks to an MMS router: it sends and fetches messages as an agent
over WebSocket and calls the HTTP admin API.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:3001", "Router URL")
	rootCmd.PersistentFlags().StringVar(&agentMRN, "mrn", "", "MRN of this agent")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "Private key (PEM) used to answer authentication challenges")
	rootCmd.PersistentFlags().StringVar(&certFile, "cert", "", "Certificate chain (PEM) matching --key")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("MMS_TOKEN"), "Admin token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newFetchCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newAdminCommand())
	rootCmd.AddCommand(newTokenCommand())

	return rootCmd
}

// clientConfig builds the client configuration from the global flags.
func clientConfig() (client.Config, error) {
	config := client.Config{
		ServerURL: serverURL,
		MRN:       agentMRN,
		Token:     token,
		Timeout:   timeout,
	}
	if keyFile != "" || certFile != "" {
		if agentMRN == "" {
			return config, fmt.Errorf("--mrn is required with --key")
		}
		signer, err := auth.LoadSigner(agentMRN, keyFile, certFile)
		if err != nil {
			return config, err
		}
		config.Signer = signer
	}
	return config, nil
}
