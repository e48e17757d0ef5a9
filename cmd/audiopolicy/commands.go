package main

import "github.com/spf13/cobra"

var (
	rootCmd = &cobra.Command{
		Use:           "audiopolicy",
		Short:         "Audio policy service and client.",
		Long:          ``,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
)

var confFile string

func init() {
	rootCmd.PersistentFlags().StringVarP(&confFile, "conf", "c", "", "Configuration file (HCL)")
}

func Execute() error {
	return rootCmd.Execute()
}
