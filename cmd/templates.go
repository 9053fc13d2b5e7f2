package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/veritime/facegate/internal/metrics"
	"github.com/veritime/facegate/internal/store"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage enrolled face templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list <identity-id>",
	Short: "List templates for an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesList,
}

var templatesRetireCmd = &cobra.Command{
	Use:   "retire <template-id>",
	Short: "Retire a template so it no longer matches",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesRetire,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesRetireCmd)

	templatesListCmd.Flags().Bool("all", false, "Include retired templates")
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, metrics.Nop{})
	if err != nil {
		return err
	}
	defer a.Close()

	var templates []store.Template
	if mustGetBool(cmd, "all") {
		templates, err = a.templates.ListAll(ctx, args[0])
	} else {
		templates, err = a.templates.ListActive(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	if len(templates) == 0 {
		fmt.Println("No templates found")
		return nil
	}
	for _, t := range templates {
		state := "active"
		if t.Retired {
			state = "retired"
		}
		fmt.Printf("%s  %s  dim=%d  quality=%.2f  %s  captured %s\n",
			t.ID, t.ModelVersion, t.Dim, t.Quality, state, t.CapturedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runTemplatesRetire(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, metrics.Nop{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.enroller.Retire(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to retire template: %w", err)
	}
	fmt.Printf("Retired template %s\n", args[0])
	return nil
}
