package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joomcode/redispool/config"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "redispool",
		Short: "pooled redis client",
		Long: fmt.Sprintf(`redispool (v%s)

Command-line client over pipelined redis connections: pools with reconnection,
consistent hashing over several endpoints, and resilient subscriptions.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.BindFlags(cmd)
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of redispool",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "redispool v%s\n", Version)
		},
	}
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), conf.String())
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(config.Init)

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(configCmd)
	RootCmd.AddCommand(doCmd)
	RootCmd.AddCommand(mgetCmd)
	RootCmd.AddCommand(publishCmd)
	RootCmd.AddCommand(subscribeCmd)
	RootCmd.AddCommand(statsCmd)

	config.SetupFlags(RootCmd)
	RootCmd.PersistentFlags().Duration("timeout", 10*time.Second, config.WrapString("Timeout of whole command, subscribe ignores it"))
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, config.WrapString("Log connection events"))
}

// commandContext bounds command with --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if t := viper.GetDuration("timeout"); t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
