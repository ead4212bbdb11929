package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider API keys in the system keyring",
		Long: "Manage provider API keys in the system keyring.\n\n" +
			"Resolution order at runtime: config file, then the provider's\n" +
			"environment variable (for example OPENAI_API_KEY), then the keyring.",
	}
	cmd.AddCommand(credentialsSetCmd())
	cmd.AddCommand(credentialsDeleteCmd())
	return cmd
}

func credentialsSetCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "set [provider]",
		Short: "Store an API key for a provider",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			provider := args[0]
			if key == "" {
				fmt.Fprintf(os.Stderr, "Enter API key for %s: ", provider)
				reader := bufio.NewReader(os.Stdin)
				line, err := reader.ReadString('\n')
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error reading key: %v\n", err)
					os.Exit(1)
				}
				key = strings.TrimSpace(line)
			}
			if key == "" {
				fmt.Fprintln(os.Stderr, "Error: empty API key")
				os.Exit(1)
			}

			if err := providers.StoreAPIKey(provider, key); err != nil {
				fmt.Fprintf(os.Stderr, "Error storing key: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Stored API key for %s. %s takes precedence if set.\n",
				provider, providers.APIKeyEnvName(provider))
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "API key (prompted on stdin when omitted)")
	return cmd
}

func credentialsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [provider]",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := providers.DeleteAPIKey(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error deleting key: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Deleted API key for %s\n", args[0])
		},
	}
}
