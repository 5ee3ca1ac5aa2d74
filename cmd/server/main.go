package main

import (
	"fmt"
	"os"

	"github.com/nebari-dev/canvas-templates/internal/server"
	"github.com/spf13/cobra"

	_ "github.com/nebari-dev/canvas-templates/docs" // Load swagger docs
)

// Version is set via ldflags at build time
var Version = "dev"

var servePort int

var rootCmd = &cobra.Command{
	Use:   "canvas-templates",
	Short: "Canvas templates - template metadata and content service",
	Long: `Serves template metadata and content over HTTP.

Metadata is kept in SQLite or PostgreSQL; content objects are stored on
local disk or in S3, chosen once at startup.`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

// @title Canvas Templates API
// @version 1.0
// @description Template metadata and content storage API
// @host localhost:3000
// @BasePath /api
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the template server",
	Long: `Start the HTTP API.

Examples:
  canvas-templates serve               # Listen on the configured port
  canvas-templates serve --port 8080   # Override port

Environment variables:
  TEMPLATES_SERVER_PORT        Server port (default: 3000), also PORT
  TEMPLATES_SERVER_MODE        development or production, also NODE_ENV
  TEMPLATES_DATABASE_DRIVER    Database driver: sqlite, postgres
  TEMPLATES_DATABASE_DSN       Database connection string, also DATABASE_URL
  TEMPLATES_STORAGE_BACKEND    File store: local, s3 (default: s3 in production)
  TEMPLATES_STORAGE_S3_BUCKET  Bucket for the s3 backend, also AWS_S3_BUCKET`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("canvas-templates version %s\n", Version)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := server.Config{
		Port:    servePort,
		Version: Version,
	}

	if err := server.RunWithSignalHandling(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
