// Gray Logic Auth - login, remember-me and role service
//
// glauth serves the authentication API and carries the operator
// commands that maintain its credential store:
//
//	glauth serve                 run the HTTP API
//	glauth migrate up|down|status
//	glauth user create --username alice --roles admin
//	glauth role grant alice admin
//	glauth tokens purge
//	glauth version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/gray-logic-auth/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the full command tree.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "glauth",
		Short: "Gray Logic authentication service",
		Long: `glauth authenticates users against a role-based credential store.

It keeps logins in server sessions, remembers devices with rotating
auto-login tokens, and issues short-lived access tokens for APIs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")

	cfgPath := func() string { return getConfigPath(configPath) }

	root.AddCommand(
		serveCmd(cfgPath),
		migrateCmd(cfgPath),
		userCmd(cfgPath),
		roleCmd(cfgPath),
		tokensCmd(cfgPath),
		versionCmd(),
	)
	return root
}

// getConfigPath returns the configuration file path.
// An explicit flag wins, then GRAYLOGIC_CONFIG, then the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, version)
				return
			}
			fmt.Fprintf(out, "glauth %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	return cmd
}
