package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pvondra/facefinder/internal/config"
	"github.com/pvondra/facefinder/internal/dropbox"
	"github.com/pvondra/facefinder/internal/facerec"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration, credentials and reference photos",
	Long: `Validate the configured provider, verify the Dropbox token and count
the reference photos without processing anything.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg := config.Load()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Printf("Provider: %s\n", cfg.Provider)
	if _, err := facerec.New(cfg.Provider, cfg, log); err != nil {
		return fmt.Errorf("provider configuration invalid: %w", err)
	}
	fmt.Println("  configuration OK")

	if cfg.ReferenceDir == "" {
		return fmt.Errorf("REFERENCE_PHOTOS_DIR is not set")
	}
	photos, err := facerec.ListReferencePhotos(cfg.ReferenceDir)
	if err != nil {
		return err
	}
	fmt.Printf("Reference photos: %d in %s\n", len(photos), cfg.ReferenceDir)
	if len(photos) == 0 {
		return fmt.Errorf("no reference photos found")
	}

	if cfg.Dropbox.AccessToken == "" {
		return fmt.Errorf("DROPBOX_ACCESS_TOKEN is not set")
	}
	store := dropbox.NewClient(cfg.Dropbox.AccessToken, log)
	account, err := store.VerifyConnection(ctx)
	if err != nil {
		return fmt.Errorf("dropbox connection failed: %w", err)
	}
	fmt.Printf("Dropbox: connected as %s\n", account)

	if cfg.Dropbox.SourceFolder == "" || cfg.Dropbox.DestinationFolder == "" {
		return fmt.Errorf("DROPBOX_SOURCE_FOLDER and DROPBOX_DESTINATION_FOLDER must be set")
	}
	entries, err := store.ListImages(ctx, cfg.Dropbox.SourceFolder)
	if err != nil {
		return fmt.Errorf("could not list source folder: %w", err)
	}
	fmt.Printf("Source folder: %d photos in %s\n", len(entries), cfg.Dropbox.SourceFolder)

	fmt.Println("Everything looks good.")
	return nil
}
