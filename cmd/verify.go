package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/veritime/facegate/internal/metrics"
	"github.com/veritime/facegate/internal/store"
	"github.com/veritime/facegate/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <image>",
	Short: "Run one verification attempt from an image file",
	Long: `Run a single capture through the full verification pipeline and
print the decision. Useful for testing thresholds and enrolled templates
without a capture device.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("device", "cli", "Device ID recorded in the audit trail")
	verifyCmd.Flags().String("location", "", "Location recorded in the audit trail")
	verifyCmd.Flags().String("hint", "", "Identity ID for 1:1 confirmation instead of 1:N search")
	verifyCmd.Flags().String("kind", "auto", "Event kind: auto, check-in or check-out")
}

func runVerify(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("cannot read image: %w", err)
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx, metrics.Nop{})
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.verifier.Verify(ctx, verify.Request{
		Image:        image,
		DeviceID:     mustGetString(cmd, "device"),
		Location:     mustGetString(cmd, "location"),
		IdentityHint: mustGetString(cmd, "hint"),
		Kind:         store.EventKind(mustGetString(cmd, "kind")),
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
