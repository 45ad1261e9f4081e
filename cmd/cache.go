package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pvondra/facefinder/internal/config"
	"github.com/pvondra/facefinder/internal/facerec"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the reference encoding cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show what is stored in the encoding cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		cache := facerec.NewCache(cfg.CacheFile, newLogger())

		fingerprint, provider, createdAt, count, err := cache.Info()
		if err != nil {
			return err
		}

		fmt.Printf("Cache file:  %s\n", cfg.CacheFile)
		fmt.Printf("Provider:    %s\n", provider)
		fmt.Printf("Encodings:   %d\n", count)
		fmt.Printf("Created:     %s\n", createdAt.Format(time.RFC3339))
		fmt.Printf("Fingerprint: %s\n", fingerprint)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the encoding cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		cache := facerec.NewCache(cfg.CacheFile, newLogger())
		if !cache.Enabled() {
			return fmt.Errorf("caching is disabled (CACHE_FILE is not set)")
		}
		if err := cache.Clear(); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", cfg.CacheFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
