// Package organizer drives the photo pipeline: list photos in the source
// folder, run face matching on each one and route the matches to the
// destination folder.
package organizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/go-logr/logr"
	"github.com/schollz/progressbar/v3"

	"github.com/pvondra/facefinder/internal/dropbox"
	"github.com/pvondra/facefinder/internal/facerec"
)

const (
	OperationCopy = "copy"
	OperationMove = "move"
)

// PhotoStore is the remote photo collection. *dropbox.Client implements
// it; tests use an in-memory store.
type PhotoStore interface {
	VerifyConnection(ctx context.Context) (string, error)
	ListImages(ctx context.Context, folder string) ([]dropbox.Entry, error)
	Download(ctx context.Context, path string) ([]byte, error)
	Thumbnail(ctx context.Context, path, size string) ([]byte, error)
	Copy(ctx context.Context, fromPath, toPath string) error
	Move(ctx context.Context, fromPath, toPath string) error
}

// Options controls one organizer run.
type Options struct {
	Source        string
	Destination   string
	Operation     string // copy or move
	Tolerance     float64
	DryRun        bool
	Limit         int    // 0 = no limit
	UseFullSize   bool   // download originals instead of thumbnails
	ThumbnailSize string // Dropbox size name when UseFullSize is false
	Progress      bool   // render a progress bar on stderr
}

// PhotoResult records the outcome for one photo.
type PhotoResult struct {
	Path          string  `json:"path"`
	Name          string  `json:"name"`
	Matched       bool    `json:"matched"`
	Confidence    float64 `json:"confidence,omitempty"`
	FacesDetected int     `json:"faces_detected"`
	Routed        bool    `json:"routed"`
	Skipped       bool    `json:"skipped,omitempty"` // destination already existed
	Error         string  `json:"error,omitempty"`
}

// Report summarizes one organizer run. It is persisted as JSON and served
// by the dashboard.
type Report struct {
	Provider   string        `json:"provider"`
	Source     string        `json:"source"`
	Operation  string        `json:"operation"`
	DryRun     bool          `json:"dry_run"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Processed  int           `json:"processed"`
	Matched    int           `json:"matched"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Results    []PhotoResult `json:"results"`
	UsageText  string        `json:"usage_text,omitempty"`
}

// Organizer wires a photo store to a face recognition provider.
type Organizer struct {
	store    PhotoStore
	provider facerec.Provider
	audit    *AuditLog
	log      logr.Logger
}

func New(store PhotoStore, provider facerec.Provider, audit *AuditLog, log logr.Logger) *Organizer {
	return &Organizer{
		store:    store,
		provider: provider,
		audit:    audit,
		log:      log.WithName("organizer"),
	}
}

// Run processes the source folder. Per-photo failures are recorded in the
// report and never abort the run; only setup problems (bad credentials,
// empty folder listing errors) do.
func (o *Organizer) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Operation != OperationCopy && opts.Operation != OperationMove {
		return nil, fmt.Errorf("unknown operation %q, use %q or %q", opts.Operation, OperationCopy, OperationMove)
	}

	account, err := o.store.VerifyConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not verify storage connection: %w", err)
	}
	o.log.Info("connected to photo store", "account", account)

	entries, err := o.store.ListImages(ctx, opts.Source)
	if err != nil {
		return nil, fmt.Errorf("could not list source folder: %w", err)
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	o.log.Info("found photos to process", "count", len(entries), "folder", opts.Source)

	report := &Report{
		Provider:  o.provider.Name(),
		Source:    opts.Source,
		Operation: opts.Operation,
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
	}

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(int64(len(entries)), "matching")
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := o.processPhoto(ctx, entry, opts)
		report.Results = append(report.Results, result)
		report.Processed++
		switch {
		case result.Error != "":
			report.Failed++
		case result.Skipped:
			report.Skipped++
		case result.Matched:
			report.Matched++
		}

		if bar != nil {
			_ = bar.Add(1)
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.UsageText = o.provider.Usage().Summary()
	return report, nil
}

func (o *Organizer) processPhoto(ctx context.Context, entry dropbox.Entry, opts Options) PhotoResult {
	result := PhotoResult{Path: entry.PathLower, Name: entry.Name}

	var data []byte
	var err error
	if opts.UseFullSize {
		data, err = o.store.Download(ctx, entry.PathLower)
	} else {
		data, err = o.store.Thumbnail(ctx, entry.PathLower, opts.ThumbnailSize)
	}
	if err != nil {
		o.log.Info("photo fetch failed", "path", entry.PathLower, "error", err.Error())
		result.Error = fmt.Sprintf("fetch: %v", err)
		return result
	}

	matches, detected, err := o.provider.FindMatches(ctx, data, entry.PathLower, opts.Tolerance)
	result.FacesDetected = detected
	if err != nil {
		o.log.Info("face matching failed", "path", entry.PathLower, "error", err.Error())
		result.Error = fmt.Sprintf("match: %v", err)
		return result
	}
	if len(matches) == 0 {
		return result
	}

	result.Matched = true
	result.Confidence = bestConfidence(matches)
	o.log.Info("photo matched", "path", entry.PathLower,
		"confidence", result.Confidence, "faces", detected)

	if opts.DryRun {
		return result
	}

	destination := path.Join(opts.Destination, entry.Name)
	if opts.Operation == OperationMove {
		err = o.store.Move(ctx, entry.PathLower, destination)
	} else {
		err = o.store.Copy(ctx, entry.PathLower, destination)
	}
	switch {
	case errors.Is(err, dropbox.ErrConflict):
		o.log.Info("destination already exists, skipping", "path", destination)
		result.Skipped = true
		return result
	case err != nil:
		result.Error = fmt.Sprintf("%s: %v", opts.Operation, err)
		return result
	}

	result.Routed = true
	o.audit.Append(AuditRecord{
		Time:       time.Now().UTC(),
		Action:     opts.Operation,
		From:       entry.PathLower,
		To:         destination,
		Confidence: result.Confidence,
	})
	return result
}

func bestConfidence(matches []facerec.Match) float64 {
	best := 0.0
	for _, m := range matches {
		if m.Confidence > best {
			best = m.Confidence
		}
	}
	return best
}

// SaveReport writes the run report as JSON for the dashboard.
func SaveReport(report *Report, reportPath string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal report: %w", err)
	}
	if err := os.WriteFile(reportPath, data, 0o644); err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}
	return nil
}
