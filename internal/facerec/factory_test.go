//go:build !nolocal && !noaws && !noazure

package facerec

import (
	"errors"
	"testing"

	"github.com/go-logr/logr"

	"github.com/pvondra/facefinder/internal/config"
)

func TestNames_ContainsRegisteredProviders(t *testing.T) {
	names := Names()
	want := []string{"aws", "azure", "local"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New("gcp", &config.Config{}, logr.Discard())

	var unknownErr *UnknownProviderError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownProviderError, got %v", err)
	}
	if unknownErr.Name != "gcp" {
		t.Errorf("expected error to carry the requested name, got %q", unknownErr.Name)
	}
}

func TestNew_NameIsCaseInsensitive(t *testing.T) {
	cfg := &config.Config{}
	cfg.Local.DetectionModel = "hog"
	cfg.Local.Jitters = 1
	cfg.Local.ReferenceJitters = 10
	cfg.Local.ModelsDir = t.TempDir() // empty, so validation fails on model files

	_, err := New("  LOCAL ", cfg, logr.Discard())

	// The name resolved: we must get a ConfigError from the local backend,
	// not an UnknownProviderError.
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Provider != "local" {
		t.Errorf("expected local provider error, got %q", cfgErr.Provider)
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Local.DetectionModel = "fast" // invalid

	_, err := New("local", cfg, logr.Discard())

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Field != "LOCAL_DETECTION_MODEL" {
		t.Errorf("expected detection model field, got %q", cfgErr.Field)
	}
}

func TestNew_AzureMissingEndpoint(t *testing.T) {
	cfg := &config.Config{}
	cfg.Azure.APIKey = "key"
	cfg.Azure.PersonName = "Target Person"

	_, err := New("azure", cfg, logr.Discard())

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Field != "AZURE_FACE_ENDPOINT" {
		t.Errorf("expected endpoint field, got %q", cfgErr.Field)
	}
}
