package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "a2dp-sink",
		Short:         "Stream audio to an A2DP sink as paced SBC over RTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(viper.GetViper(), configFile); err != nil {
				return err
			}
			s, err := loadSettings(viper.GetViper())
			if err != nil {
				return err
			}
			s.configureLogging()
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", defaultConfigPath(), "config file")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.Bool("log-json", false, "log in JSON")
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.json", flags.Lookup("log-json"))

	root.AddCommand(newPlayCmd(), newConfigCmd())
	return root
}
