package main

import (
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept calls and relay them",
	Long: `Start the HTTP server. The telephony provider fetches /twiml for each
incoming call and then opens the media-stream websocket it names.

Configuration is read from the manifest given with --config (or built-in
defaults), then DEEPGRAM_API_KEY, OPENAI_API_KEY, KYUTAI_TTS_URI and the
other legacy variables, then VOICERELAY_* variables and flags.`,
	RunE: runServe,
}

func init() {
	addConfigFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.Logging.ToLoggerSpec()); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := newRelay(ctx, cfg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		_ = r.shutdown()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return r.run(ctx, ln)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the effective configuration and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.Printf("configuration is valid: generator=%s model=%s listen=%s\n",
			cfg.Generator.Provider, cfg.Generator.Model,
			net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
		return nil
	},
}

func init() {
	addConfigFlags(validateCmd.Flags())
	rootCmd.AddCommand(validateCmd)
}
