package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "Face recognition attendance verification service",
	Long: `Facegate verifies attendance from face captures. Incoming frames pass
a quality gate, get embedded by an external face service, and are matched
against enrolled templates; accepted matches drive per-day check-in and
check-out records with a full audit trail.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
