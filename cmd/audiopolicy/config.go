package main

import (
	"os"

	"github.com/spf13/cobra"

	"audiopolicy/config"
)

var (
	cmdConfig = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  `Print the configuration read from --conf, or the defaults when none is given.`,
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}
)

func init() {
	rootCmd.AddCommand(cmdConfig)
}

func loadConfig() (*config.Schema, error) {
	if confFile == "" {
		return config.Default(), nil
	}
	return config.Read(confFile)
}

func runConfig(_ *cobra.Command, _ []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(conf.Encode())
	return err
}
