// Package main provides kbctl, a command line client for the knowledge-base
// service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"figmapedia/kbservice/internal/client"
)

var (
	serverURL string
	plain     bool
)

var rootCmd = &cobra.Command{
	Use:           "kbctl",
	Short:         "Query and maintain the knowledge-base service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("KB_SERVER_URL", "http://localhost:8080"), "Base URL of the kb service")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "Disable colored output")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, currentStyles().Error.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(client.Config{BaseURL: serverURL})
}

func currentStyles() styles {
	if plain {
		return plainStyles()
	}
	return defaultStyles()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
