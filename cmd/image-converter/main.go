package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"image-converter-go/internal/codec"
	"image-converter-go/internal/config"
	"image-converter-go/internal/logger"
	"image-converter-go/internal/web"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	port    int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-converter",
	Short: "Convert and resize images between common formats",
	Long: `image-converter decodes PNG, JPEG, WebP, AVIF, BMP, TIFF and PPM images,
optionally resizes them and re-encodes them as PNG, JPEG, WebP, AVIF or BMP.

Features:
- Single file conversion with quality and compression settings
- Aspect-preserving or exact resizing
- Batch conversion into a ZIP archive with live progress
- HTTP API with a WebSocket progress stream`,
	SilenceUsage: true,
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the conversion HTTP server",
	Long: `Starts the HTTP API. Endpoints:
  POST /api/convert         convert one uploaded image
  POST /api/convert/batch   convert up to max_files images into a ZIP
  GET  /ws?session_id=ID    progress frames of a batch session

Access the API at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(formatsCmd)
	rootCmd.AddCommand(watchCmd)
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	p, err := buildPipeline(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	server := web.NewServer(cfg, log, p.conv, p.coord, p.broker, p.stats)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	if !quiet {
		fmt.Printf("Image converter listening on http://localhost:%d\n", cfg.Server.Port)
		fmt.Printf("Press Ctrl+C to stop the server\n\n")
	}

	select {
	case <-sigChan:
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	}
	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if !quiet {
		fmt.Println("\n" + p.stats.GetSummary())
	}
	return nil
}

// loadConfig reads the config file (if any) and the environment.
func loadConfig() (*config.Config, error) {
	return config.LoadConfig(cfgFile)
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Format:     cfg.Logging.Format,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Falling back to console logging: %v", err)
	}

	return log
}

func main() {
	err := rootCmd.Execute()
	codec.Shutdown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
