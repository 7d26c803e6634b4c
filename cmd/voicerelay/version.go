package main

import (
	"github.com/spf13/cobra"

	"github.com/AltairaLabs/VoiceRelay/runtime/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println(GetVersionInfo())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// GetVersion returns the current version string
func GetVersion() string {
	return version.Get().Version
}

// GetVersionInfo returns detailed version information
func GetVersionInfo() string {
	return version.Get().String()
}
