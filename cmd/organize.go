package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/pvondra/facefinder/internal/config"
	"github.com/pvondra/facefinder/internal/dropbox"
	"github.com/pvondra/facefinder/internal/facerec"
	"github.com/pvondra/facefinder/internal/organizer"
)

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Scan the source folder and route matching photos",
	Long: `Scan every photo in the Dropbox source folder, match each one against
the reference photos of the target person and copy or move the matches to
the destination folder. Use --dry-run to see what would happen first.`,
	RunE: runOrganize,
}

func init() {
	rootCmd.AddCommand(organizeCmd)

	organizeCmd.Flags().Bool("dry-run", false, "Match photos but do not copy or move anything")
	organizeCmd.Flags().Int("limit", 0, "Process at most this many photos (0 = all)")
	organizeCmd.Flags().Float64("tolerance", 0, "Override the matching tolerance for this run")
	organizeCmd.Flags().Bool("full-size", false, "Download full-size photos instead of thumbnails")
}

func runOrganize(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg := config.Load()

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	limit, _ := cmd.Flags().GetInt("limit")
	fullSize, _ := cmd.Flags().GetBool("full-size")
	tolerance := cfg.Tolerance
	if cmd.Flags().Changed("tolerance") {
		tolerance, _ = cmd.Flags().GetFloat64("tolerance")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := buildProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d reference faces with the %s provider\n", provider.ReferenceCount(), provider.Name())

	if cfg.Dropbox.AccessToken == "" {
		return fmt.Errorf("DROPBOX_ACCESS_TOKEN is not set")
	}
	store := dropbox.NewClient(cfg.Dropbox.AccessToken, log)

	audit, err := organizer.OpenAuditLog(cfg.AuditLog, log)
	if err != nil {
		return err
	}
	defer audit.Close()

	org := organizer.New(store, provider, audit, log)
	report, err := org.Run(ctx, organizer.Options{
		Source:        cfg.Dropbox.SourceFolder,
		Destination:   cfg.Dropbox.DestinationFolder,
		Operation:     cfg.Dropbox.Operation,
		Tolerance:     tolerance,
		DryRun:        dryRun,
		Limit:         limit,
		UseFullSize:   fullSize || cfg.Dropbox.UseFullSize,
		ThumbnailSize: cfg.Dropbox.ThumbnailSize,
		Progress:      true,
	})
	if err != nil {
		return err
	}

	if err := organizer.SaveReport(report, cfg.Web.ReportPath); err != nil {
		log.Error(err, "could not save run report")
	}

	fmt.Printf("\nProcessed %d photos: %d matched, %d skipped, %d failed\n",
		report.Processed, report.Matched, report.Skipped, report.Failed)
	if dryRun {
		fmt.Println("Dry run, nothing was copied or moved.")
	}
	fmt.Println()
	fmt.Print(provider.Usage().Summary())
	return nil
}

// buildProvider creates the configured provider and loads the reference
// photos into it.
func buildProvider(ctx context.Context, cfg *config.Config, log logr.Logger) (facerec.Provider, error) {
	if cfg.ReferenceDir == "" {
		return nil, fmt.Errorf("REFERENCE_PHOTOS_DIR is not set")
	}

	provider, err := facerec.New(cfg.Provider, cfg, log)
	if err != nil {
		return nil, err
	}

	photos, err := facerec.ListReferencePhotos(cfg.ReferenceDir)
	if err != nil {
		return nil, err
	}
	if len(photos) == 0 {
		return nil, fmt.Errorf("no reference photos found in %s", cfg.ReferenceDir)
	}

	if _, err := provider.LoadReferences(ctx, photos); err != nil {
		return nil, fmt.Errorf("could not load reference faces: %w", err)
	}
	return provider, nil
}
