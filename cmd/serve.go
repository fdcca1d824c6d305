package cmd

import (
	"github.com/spf13/cobra"

	"github.com/wintlu/stereo-play/config"
	"github.com/wintlu/stereo-play/logger"
	"github.com/wintlu/stereo-play/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stereo-play coordinator server",
	Long:  "Starts the HTTP and WebSocket server that pairs devices into a session and keeps their playback in sync.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.Init(logger.Config{
			Level:      logger.Level(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
		server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
