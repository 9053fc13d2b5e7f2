package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/veritime/facegate/internal/metrics"
)

var reportCmd = &cobra.Command{
	Use:   "report <identity-id>",
	Short: "Print a monthly attendance report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	now := time.Now()
	reportCmd.Flags().Int("year", now.Year(), "Report year")
	reportCmd.Flags().Int("month", int(now.Month()), "Report month (1-12)")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, metrics.Nop{})
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.tracker.MonthlyReport(ctx, args[0], mustGetInt(cmd, "year"), mustGetInt(cmd, "month"))
	if err != nil {
		return fmt.Errorf("failed to compute report: %w", err)
	}

	fmt.Printf("Attendance for %s, %d-%02d\n\n", args[0], stats.Year, stats.Month)
	for _, day := range stats.Daily {
		line := fmt.Sprintf("  %s  %-7s", day.Day, day.Status)
		if day.CheckIn != nil {
			line += fmt.Sprintf("  in %s", day.CheckIn.Format("15:04"))
		}
		if day.CheckOut != nil {
			line += fmt.Sprintf("  out %s  (%dm)", day.CheckOut.Format("15:04"), day.WorkedMin)
		}
		fmt.Println(line)
	}

	fmt.Printf("\nWorking days: %d  present: %d  late: %d  absent: %d\n",
		stats.WorkingDays, stats.PresentDays, stats.LateDays, stats.AbsentDays)
	fmt.Printf("Total hours: %.2f  average per day: %.2f\n",
		stats.TotalWorkHours, stats.AverageWorkHours)
	return nil
}
