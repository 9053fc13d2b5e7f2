package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/veritime/facegate/internal/metrics"
	"github.com/veritime/facegate/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification server",
	Long: `Start the Facegate HTTP server.
Capture devices POST frames to /api/v1/verify; the API also exposes
identity and template management, attendance reports, and the audit trail.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	collector := metrics.NewCollector()

	a, err := buildApp(cmd.Context(), collector)
	if err != nil {
		return err
	}
	defer a.Close()

	// A model or dimension mismatch would poison every new template, so
	// the server refuses to start until the face service agrees.
	if err := a.client.CheckModel(cmd.Context()); err != nil {
		return fmt.Errorf("face service validation failed: %w", err)
	}

	port, host := resolveServeHostPort(cmd)

	server := web.NewServer(a.cfg, port, host, web.Deps{
		Verifier:   a.verifier,
		Enroller:   a.enroller,
		Identities: a.identities,
		Templates:  a.templates,
		Attendance: a.attendance,
		Audit:      a.audit,
		Tracker:    a.tracker,
		Metrics:    collector,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Facegate on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
