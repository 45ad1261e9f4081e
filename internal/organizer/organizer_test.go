package organizer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/pvondra/facefinder/internal/dropbox"
	"github.com/pvondra/facefinder/internal/facerec"
	"github.com/pvondra/facefinder/internal/metrics"
)

// stubStore is an in-memory PhotoStore.
type stubStore struct {
	entries   []dropbox.Entry
	photos    map[string][]byte
	existing  map[string]bool // destinations that already exist
	copied    []string
	moved     []string
	failFetch map[string]bool
}

func newStubStore(names ...string) *stubStore {
	s := &stubStore{
		photos:    map[string][]byte{},
		existing:  map[string]bool{},
		failFetch: map[string]bool{},
	}
	for _, name := range names {
		path := "/photos/" + name
		s.entries = append(s.entries, dropbox.Entry{Name: name, PathLower: path})
		s.photos[path] = []byte("image:" + name)
	}
	return s
}

func (s *stubStore) VerifyConnection(ctx context.Context) (string, error) { return "Tester", nil }

func (s *stubStore) ListImages(ctx context.Context, folder string) ([]dropbox.Entry, error) {
	return s.entries, nil
}

func (s *stubStore) Download(ctx context.Context, path string) ([]byte, error) {
	if s.failFetch[path] {
		return nil, errors.New("download failed")
	}
	return s.photos[path], nil
}

func (s *stubStore) Thumbnail(ctx context.Context, path, size string) ([]byte, error) {
	return s.Download(ctx, path)
}

func (s *stubStore) Copy(ctx context.Context, fromPath, toPath string) error {
	if s.existing[toPath] {
		return dropbox.ErrConflict
	}
	s.copied = append(s.copied, toPath)
	return nil
}

func (s *stubStore) Move(ctx context.Context, fromPath, toPath string) error {
	if s.existing[toPath] {
		return dropbox.ErrConflict
	}
	s.moved = append(s.moved, toPath)
	return nil
}

// stubProvider matches photos whose content contains any of the given
// substrings.
type stubProvider struct {
	matchOn []string
	usage   *metrics.Usage
}

func newStubProvider(matchOn ...string) *stubProvider {
	return &stubProvider{matchOn: matchOn, usage: metrics.NewUsage("stub")}
}

func (p *stubProvider) Name() string          { return "stub" }
func (p *stubProvider) ValidateConfig() error { return nil }
func (p *stubProvider) LoadReferences(ctx context.Context, paths []string) (int, error) {
	return 1, nil
}
func (p *stubProvider) DetectFaces(ctx context.Context, image []byte, source string) ([]facerec.Encoding, error) {
	return []facerec.Encoding{{Source: source}}, nil
}
func (p *stubProvider) CompareFaces(enc facerec.Encoding, tolerance float64) (facerec.Match, error) {
	return facerec.Match{}, nil
}
func (p *stubProvider) FindMatches(ctx context.Context, image []byte, source string, tolerance float64) ([]facerec.Match, int, error) {
	for _, substr := range p.matchOn {
		if strings.Contains(string(image), substr) {
			return []facerec.Match{{IsMatch: true, Confidence: 0.9, Distance: 0.1}}, 1, nil
		}
	}
	return nil, 1, nil
}
func (p *stubProvider) ReferenceCount() int   { return 1 }
func (p *stubProvider) Usage() *metrics.Usage { return p.usage }

func testOptions() Options {
	return Options{
		Source:        "/photos",
		Destination:   "/found",
		Operation:     OperationCopy,
		Tolerance:     0.6,
		ThumbnailSize: "w256h256",
	}
}

func TestRun_CopiesMatches(t *testing.T) {
	store := newStubStore("a.jpg", "b.jpg", "c.jpg")
	o := New(store, newStubProvider("a.jpg", "c.jpg"), nil, logr.Discard())

	report, err := o.Run(context.Background(), testOptions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Processed != 3 || report.Matched != 2 || report.Failed != 0 {
		t.Errorf("unexpected report: processed=%d matched=%d failed=%d",
			report.Processed, report.Matched, report.Failed)
	}
	if len(store.copied) != 2 || store.copied[0] != "/found/a.jpg" || store.copied[1] != "/found/c.jpg" {
		t.Errorf("unexpected copies: %v", store.copied)
	}
	if len(store.moved) != 0 {
		t.Errorf("copy run must not move files: %v", store.moved)
	}
}

func TestRun_MoveOperation(t *testing.T) {
	store := newStubStore("a.jpg")
	o := New(store, newStubProvider("a.jpg"), nil, logr.Discard())

	opts := testOptions()
	opts.Operation = OperationMove

	if _, err := o.Run(context.Background(), opts); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(store.moved) != 1 || store.moved[0] != "/found/a.jpg" {
		t.Errorf("expected one move, got %v", store.moved)
	}
}

func TestRun_UnknownOperation(t *testing.T) {
	o := New(newStubStore(), newStubProvider(), nil, logr.Discard())
	opts := testOptions()
	opts.Operation = "delete"

	if _, err := o.Run(context.Background(), opts); err == nil {
		t.Error("expected an error for an unknown operation")
	}
}

func TestRun_DryRunTouchesNothing(t *testing.T) {
	store := newStubStore("a.jpg", "b.jpg")
	o := New(store, newStubProvider("a.jpg"), nil, logr.Discard())

	opts := testOptions()
	opts.DryRun = true

	report, err := o.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Matched != 1 {
		t.Errorf("expected 1 match, got %d", report.Matched)
	}
	if len(store.copied) != 0 || len(store.moved) != 0 {
		t.Error("dry run must not copy or move anything")
	}
}

func TestRun_ConflictCountsAsSkipped(t *testing.T) {
	store := newStubStore("a.jpg")
	store.existing["/found/a.jpg"] = true
	o := New(store, newStubProvider("a.jpg"), nil, logr.Discard())

	report, err := o.Run(context.Background(), testOptions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Skipped != 1 || report.Matched != 0 {
		t.Errorf("expected 1 skip, got skipped=%d matched=%d", report.Skipped, report.Matched)
	}
}

func TestRun_FetchFailureDoesNotAbort(t *testing.T) {
	store := newStubStore("a.jpg", "b.jpg")
	store.failFetch["/photos/a.jpg"] = true
	o := New(store, newStubProvider("b.jpg"), nil, logr.Discard())

	report, err := o.Run(context.Background(), testOptions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Failed != 1 || report.Matched != 1 {
		t.Errorf("expected 1 failure and 1 match, got failed=%d matched=%d",
			report.Failed, report.Matched)
	}
	if report.Results[0].Error == "" {
		t.Error("expected the failure to be recorded on the photo result")
	}
}

func TestRun_LimitCapsProcessing(t *testing.T) {
	store := newStubStore("a.jpg", "b.jpg", "c.jpg")
	o := New(store, newStubProvider(), nil, logr.Discard())

	opts := testOptions()
	opts.Limit = 2

	report, err := o.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Processed != 2 {
		t.Errorf("expected 2 processed photos, got %d", report.Processed)
	}
}

func TestRun_WritesAuditTrail(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := OpenAuditLog(auditPath, logr.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer audit.Close()

	store := newStubStore("a.jpg", "b.jpg")
	o := New(store, newStubProvider("a.jpg"), audit, logr.Discard())

	if _, err := o.Run(context.Background(), testOptions()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	file, err := os.Open(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	var records []AuditRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		records = append(records, rec)
	}

	if len(records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(records))
	}
	if records[0].Action != "copy" || records[0].From != "/photos/a.jpg" || records[0].To != "/found/a.jpg" {
		t.Errorf("unexpected audit record: %+v", records[0])
	}
}

func TestSaveReport_RoundTrips(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "report.json")
	report := &Report{
		Provider:  "stub",
		Processed: 2,
		Matched:   1,
		Results:   []PhotoResult{{Path: "/photos/a.jpg", Matched: true, Confidence: 0.9}},
	}

	if err := SaveReport(report, reportPath); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	var loaded Report
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("report not valid JSON: %v", err)
	}
	if loaded.Matched != 1 || len(loaded.Results) != 1 {
		t.Errorf("unexpected report after round trip: %+v", loaded)
	}
}

func TestAuditLog_DisabledIsNoOp(t *testing.T) {
	audit, err := OpenAuditLog("", logr.Discard())
	if err != nil {
		t.Fatal(err)
	}
	audit.Append(AuditRecord{Action: "copy"}) // must not panic
	if err := audit.Close(); err != nil {
		t.Errorf("Close on a disabled log must not fail, got %v", err)
	}
}
