package facerec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExtensions lists the file extensions treated as photos when
// scanning the reference directory.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
}

// Params are the matching-relevant configuration values. Any change to
// them invalidates cached reference encodings.
type Params struct {
	Tolerance      float64
	DetectionModel string
	Jitters        int
	VoteFraction   float64
}

func (p Params) canonical() string {
	return fmt.Sprintf("tolerance=%.4f|model=%s|jitters=%d|vote=%.4f",
		p.Tolerance, p.DetectionModel, p.Jitters, p.VoteFraction)
}

// Fingerprint computes the deterministic hash that keys the encoding
// cache: provider name, matching parameters and the sorted list of
// (path, content hash) pairs. Changing a single reference photo's bytes
// changes the fingerprint even when the filename stays the same.
func Fingerprint(provider string, params Params, paths []string) string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	h := sha256.New()
	fmt.Fprintf(h, "provider=%s\n", provider)
	fmt.Fprintf(h, "params=%s\n", params.canonical())
	for _, path := range sorted {
		fmt.Fprintf(h, "%s=%s\n", path, contentHash(path))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// contentHash hashes a reference photo's bytes. Unreadable files hash to a
// fixed marker so a photo that later becomes readable forces a rebuild.
func contentHash(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unreadable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ListReferencePhotos returns the photo files in a reference directory,
// sorted, with hidden files skipped.
func ListReferencePhotos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read reference directory %s: %w", dir, err)
	}

	var photos []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if imageExtensions[ext] {
			photos = append(photos, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(photos)
	return photos, nil
}
