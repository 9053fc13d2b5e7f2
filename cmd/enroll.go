package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/veritime/facegate/internal/constants"
	"github.com/veritime/facegate/internal/metrics"
	"github.com/veritime/facegate/internal/store"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <identity-id> <image>...",
	Short: "Enroll face templates for an identity",
	Long: `Enroll one or more face images as templates for an identity.
Arguments may be image files or directories; directories are scanned for
JPEG, PNG and WebP files. Each image passes the same quality gate as a
verification capture before its embedding is stored.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Display name; creates the identity if it does not exist")
	enrollCmd.Flags().Int("concurrency", constants.DefaultEnrollConcurrency, "Number of parallel enrollments")
}

// collectImageFiles expands file and directory arguments into image paths.
func collectImageFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read directory %s: %w", arg, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".jpg", ".jpeg", ".png", ".webp":
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files found")
	}
	return files, nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	identityID := args[0]
	name := mustGetString(cmd, "name")
	concurrency := mustGetInt(cmd, "concurrency")
	if concurrency < 1 {
		concurrency = 1
	}

	files, err := collectImageFiles(args[1:])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx, metrics.Nop{})
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.identities.Get(ctx, identityID); err != nil {
		if name == "" {
			return fmt.Errorf("identity %s does not exist; pass --name to create it", identityID)
		}
		identity := &store.Identity{
			ID:             identityID,
			DisplayName:    name,
			NormalizedName: store.NormalizeName(name),
			CreatedAt:      time.Now(),
		}
		if err := a.identities.Upsert(ctx, identity); err != nil {
			return fmt.Errorf("failed to create identity: %w", err)
		}
		fmt.Printf("Created identity %s (%s)\n", identityID, name)
	}

	fmt.Printf("Enrolling %d images for %s\n\n", len(files), identityID)

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Enrolling templates"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var successCount, errorCount int
	var mu sync.Mutex
	var failures []string

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, file := range files {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			data, err := os.ReadFile(path)
			if err == nil {
				_, err = a.enroller.Enroll(ctx, identityID, data, time.Now())
			}

			mu.Lock()
			if err != nil {
				errorCount++
				failures = append(failures, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			} else {
				successCount++
			}
			mu.Unlock()
			bar.Add(1)
		}(file)
	}
	wg.Wait()
	fmt.Println()

	fmt.Printf("\nEnrolled: %d, failed: %d\n", successCount, errorCount)
	for _, f := range failures {
		fmt.Printf("  %s\n", f)
	}
	if successCount == 0 {
		return fmt.Errorf("no templates were enrolled")
	}
	return nil
}
