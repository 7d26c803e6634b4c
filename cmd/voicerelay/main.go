// Command voicerelay runs the real-time voice relay: telephony media streams
// in, recognized speech to a text generator, synthesized replies back out.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
)

var rootCmd = &cobra.Command{
	Use:           "voicerelay",
	Short:         "Real-time voice agent relay",
	Version:       GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `voicerelay bridges telephony media streams to a streaming speech
recognizer, sends each finished utterance to a text generator, and plays the
synthesized reply back to the caller as paced 8 kHz μ-law audio.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		envFile, err := cmd.Flags().GetString("env-file")
		if err != nil {
			return err
		}
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		if cmd.Flags().Changed("verbose") {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}
			logger.SetVerbose(verbose)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before configuration")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

// loadEnvFile loads variables from path without overriding the environment.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func setupVersion() {
	rootCmd.SetVersionTemplate(GetVersionInfo() + "\n")
}

// Execute runs the root command.
func Execute() {
	setupVersion()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}
