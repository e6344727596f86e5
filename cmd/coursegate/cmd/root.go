package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/coursegate/config"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "coursegate",
	Short: "coursegate guards the course platform's HTTP API",
	Long: `coursegate runs the request-security pipeline in front of the course
platform: rate limiting, CSRF protection, bearer tokens, brute-force
lockout and role-based permissions.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory for persistent data (overrides storage.data_dir)")
}

// loadConfig reads --config (or the defaults when unset) and applies any
// flags the user set explicitly. The result is validated again after the
// flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Defaults()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir, _ = flags.GetString("data-dir")
	}
	if f := flags.Lookup("port"); f != nil && f.Changed {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if f := flags.Lookup("trusted-proxies"); f != nil && f.Changed {
		cfg.Server.TrustedProxies, _ = flags.GetStringSlice("trusted-proxies")
	}
	if f := flags.Lookup("signing-key-file"); f != nil && f.Changed {
		cfg.Auth.SigningKeyFile, _ = flags.GetString("signing-key-file")
	}
	if f := flags.Lookup("tls-cert"); f != nil && f.Changed {
		cfg.Server.TLSCert, _ = flags.GetString("tls-cert")
	}
	if f := flags.Lookup("tls-key"); f != nil && f.Changed {
		cfg.Server.TLSKey, _ = flags.GetString("tls-key")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the coursegate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "coursegate %s\n", strings.TrimSpace(Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
