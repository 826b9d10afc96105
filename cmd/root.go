package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/andresmejia3/emotionai/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Conf is the layered configuration shared by subcommands
	Conf *config.Config

	configPath string
	verbose    bool
	overrides  config.Config
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "emotionai",
	Short:   "Facial emotion analysis from uploads, camera snapshots and live video",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Conf, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		applyFlagOverrides(cmd)
		if err := Conf.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		setupLogging()
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlagOverrides lets explicitly set flags win over file and environment.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("emotion-endpoint") {
		Conf.EmotionEndpoint = overrides.EmotionEndpoint
	}
	if flags.Changed("detection-endpoint") {
		Conf.DetectionEndpoint = overrides.DetectionEndpoint
	}
	if flags.Changed("hf-token") {
		Conf.HFToken = overrides.HFToken
	}
	if flags.Changed("timeout") {
		Conf.RequestTimeout = overrides.RequestTimeout
	}
	if flags.Changed("device") {
		Conf.Device = overrides.Device
	}
	if flags.Changed("stream") {
		Conf.Input = overrides.Input
	}
}

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&overrides.EmotionEndpoint, "emotion-endpoint", "", "Emotion classifier Space id or URL (default: E1011au/EmotionAI)")
	pf.StringVar(&overrides.DetectionEndpoint, "detection-endpoint", "", "Face detector Space id or URL (default: E1011au/FaceDetectAI)")
	pf.StringVar(&overrides.HFToken, "hf-token", "", "Hugging Face token for private Spaces")
	pf.DurationVar(&overrides.RequestTimeout, "timeout", 0, "Bound on one analysis (default: 10s)")
	pf.StringVar(&overrides.Device, "device", "", "V4L2 camera device (default: /dev/video0)")
	pf.StringVar(&overrides.Input, "stream", "", "Any ffmpeg readable input used instead of the camera device")
}
