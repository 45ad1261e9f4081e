//go:build !nolocal

package facerec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	goface "github.com/Kagami/go-face"
	"github.com/go-logr/logr"

	"github.com/pvondra/facefinder/internal/config"
	"github.com/pvondra/facefinder/internal/imaging"
	"github.com/pvondra/facefinder/internal/metrics"
)

func init() {
	register("local", newLocalProvider)
}

const (
	detectionModelHOG = "hog"
	detectionModelCNN = "cnn"

	// dlib sampling parameters matching face_recognition defaults.
	localImageSize = 150
	localPadding   = 0.25
)

// requiredModelFiles are the dlib model files the recognizer needs in the
// models directory.
var requiredModelFiles = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

// faceRecognizer is the slice of the dlib recognizer the provider uses.
type faceRecognizer interface {
	Recognize(jpegData []byte) ([]goface.Face, error)
	RecognizeCNN(jpegData []byte) ([]goface.Face, error)
	Close()
}

func dlibRecognizer(modelsDir string, jitters int) (faceRecognizer, error) {
	return goface.NewRecognizerWithConfig(modelsDir, localImageSize, localPadding, jitters)
}

// LocalProvider runs detection and encoding on the machine with dlib.
// Faces become 128-dimensional descriptors compared by euclidean distance,
// so everything after detection is free and offline.
//
// Two recognizers are kept: reference photos are encoded with a higher
// jitter count for stability, candidate photos with a lower one for speed.
// Both are created lazily since loading the dlib models takes seconds, and
// construction goes through newRecognizer so tests can substitute one.
type LocalProvider struct {
	cfg     *config.Config
	log     logr.Logger
	matcher *Matcher
	cache   *Cache
	usage   *metrics.Usage

	newRecognizer  func(modelsDir string, jitters int) (faceRecognizer, error)
	refRecognizer  faceRecognizer
	candRecognizer faceRecognizer

	refs *ReferenceSet
}

func newLocalProvider(cfg *config.Config, log logr.Logger) (Provider, error) {
	return &LocalProvider{
		cfg:           cfg,
		log:           log.WithName("local"),
		matcher:       NewMatcher(cfg.VoteFraction),
		cache:         NewCache(cfg.CacheFile, log),
		usage:         metrics.NewUsage("local"),
		newRecognizer: dlibRecognizer,
	}, nil
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) ValidateConfig() error {
	model := p.cfg.Local.DetectionModel
	if model != detectionModelHOG && model != detectionModelCNN {
		return &ConfigError{
			Provider: "local",
			Field:    "LOCAL_DETECTION_MODEL",
			Reason:   fmt.Sprintf("must be %q or %q, got %q", detectionModelHOG, detectionModelCNN, model),
		}
	}

	if p.cfg.Local.Jitters < 1 || p.cfg.Local.ReferenceJitters < 1 {
		return &ConfigError{
			Provider: "local",
			Field:    "LOCAL_NUM_JITTERS",
			Reason:   "jitter counts must be at least 1",
		}
	}

	info, err := os.Stat(p.cfg.Local.ModelsDir)
	if err != nil || !info.IsDir() {
		return &ConfigError{
			Provider: "local",
			Field:    "LOCAL_MODELS_DIR",
			Reason:   fmt.Sprintf("%s is not a directory", p.cfg.Local.ModelsDir),
		}
	}
	for _, name := range requiredModelFiles {
		if _, err := os.Stat(filepath.Join(p.cfg.Local.ModelsDir, name)); err != nil {
			return &ConfigError{
				Provider: "local",
				Field:    "LOCAL_MODELS_DIR",
				Reason:   fmt.Sprintf("missing model file %s", name),
			}
		}
	}

	return nil
}

func (p *LocalProvider) referenceRecognizer() (faceRecognizer, error) {
	if p.refRecognizer == nil {
		rec, err := p.newRecognizer(p.cfg.Local.ModelsDir, p.cfg.Local.ReferenceJitters)
		if err != nil {
			return nil, &ProviderCallError{Provider: "local", Op: "init", Err: err}
		}
		p.refRecognizer = rec
	}
	return p.refRecognizer, nil
}

func (p *LocalProvider) candidateRecognizer() (faceRecognizer, error) {
	if p.cfg.Local.Jitters == p.cfg.Local.ReferenceJitters {
		return p.referenceRecognizer()
	}
	if p.candRecognizer == nil {
		rec, err := p.newRecognizer(p.cfg.Local.ModelsDir, p.cfg.Local.Jitters)
		if err != nil {
			return nil, &ProviderCallError{Provider: "local", Op: "init", Err: err}
		}
		p.candRecognizer = rec
	}
	return p.candRecognizer, nil
}

// Close releases the dlib recognizers.
func (p *LocalProvider) Close() {
	if p.candRecognizer != nil && p.candRecognizer != p.refRecognizer {
		p.candRecognizer.Close()
	}
	if p.refRecognizer != nil {
		p.refRecognizer.Close()
	}
	p.refRecognizer = nil
	p.candRecognizer = nil
}

func (p *LocalProvider) recognize(rec faceRecognizer, jpegData []byte) ([]goface.Face, error) {
	if p.cfg.Local.DetectionModel == detectionModelCNN {
		return rec.RecognizeCNN(jpegData)
	}
	return rec.Recognize(jpegData)
}

// LoadReferences encodes the most prominent face of each reference photo.
// The cache is consulted first, keyed by a fingerprint of the photo bytes
// and matching parameters.
func (p *LocalProvider) LoadReferences(ctx context.Context, paths []string) (int, error) {
	fingerprint := Fingerprint("local", Params{
		Tolerance:      p.cfg.Tolerance,
		DetectionModel: p.cfg.Local.DetectionModel,
		Jitters:        p.cfg.Local.ReferenceJitters,
		VoteFraction:   p.cfg.VoteFraction,
	}, paths)

	if cached, ok := p.cache.Load(fingerprint); ok && cached.Provider == "local" {
		p.refs = cached
		return cached.Count(), nil
	}

	rec, err := p.referenceRecognizer()
	if err != nil {
		return 0, err
	}

	set := &ReferenceSet{Provider: "local", Fingerprint: fingerprint}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			p.log.Info("skipping unreadable reference photo", "path", path, "error", err.Error())
			continue
		}
		jpegData, err := imaging.EnsureJPEG(data)
		if err != nil {
			p.log.Info("skipping undecodable reference photo", "path", path, "error", err.Error())
			continue
		}

		faces, err := p.recognize(rec, jpegData)
		if err != nil {
			p.log.Info("skipping reference photo, detection failed", "path", path, "error", err.Error())
			continue
		}
		if len(faces) == 0 {
			p.log.Info("skipping reference photo, no face found", "path", path)
			continue
		}

		// Multi-face reference photos contribute only their largest face,
		// assumed to be the target person.
		face := largestFace(faces)
		if len(faces) > 1 {
			p.log.Info("reference photo has multiple faces, using the largest",
				"path", path, "faces", len(faces))
		}

		set.Encodings = append(set.Encodings, encodingFromFace(face, path))
	}

	if set.Count() == 0 {
		return 0, ErrNoReferenceFaces
	}

	if err := p.cache.Save(set); err != nil {
		p.log.Error(err, "could not persist encoding cache")
	}

	p.refs = set
	return set.Count(), nil
}

func largestFace(faces []goface.Face) goface.Face {
	best := faces[0]
	bestArea := best.Rectangle.Dx() * best.Rectangle.Dy()
	for _, f := range faces[1:] {
		if area := f.Rectangle.Dx() * f.Rectangle.Dy(); area > bestArea {
			best = f
			bestArea = area
		}
	}
	return best
}

func encodingFromFace(f goface.Face, source string) Encoding {
	vec := make([]float32, len(f.Descriptor))
	copy(vec, f.Descriptor[:])
	return Encoding{
		Vector: vec,
		Source: source,
		Box: &Box{
			Top:    f.Rectangle.Min.Y,
			Right:  f.Rectangle.Max.X,
			Bottom: f.Rectangle.Max.Y,
			Left:   f.Rectangle.Min.X,
		},
	}
}

func (p *LocalProvider) DetectFaces(ctx context.Context, image []byte, source string) ([]Encoding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := p.candidateRecognizer()
	if err != nil {
		return nil, err
	}

	jpegData, err := imaging.EnsureJPEG(image)
	if err != nil {
		return nil, &ProviderCallError{Provider: "local", Op: "decode", Err: err}
	}

	faces, err := p.recognize(rec, jpegData)
	if err != nil {
		return nil, &ProviderCallError{Provider: "local", Op: "detect", Err: err}
	}
	p.usage.Track("detect_faces")

	encodings := make([]Encoding, 0, len(faces))
	for _, f := range faces {
		encodings = append(encodings, encodingFromFace(f, source))
	}
	return encodings, nil
}

func (p *LocalProvider) CompareFaces(enc Encoding, tolerance float64) (Match, error) {
	if p.refs.Count() == 0 {
		return Match{}, ErrNoReferenceFaces
	}
	return p.matcher.Match(enc, p.refs, tolerance), nil
}

func (p *LocalProvider) FindMatches(ctx context.Context, image []byte, source string, tolerance float64) ([]Match, int, error) {
	matches, detected, err := findMatches(ctx, p, image, source, tolerance)
	if err != nil {
		return nil, detected, err
	}
	p.usage.AddFaces(detected, len(matches))
	return matches, detected, nil
}

func (p *LocalProvider) ReferenceCount() int { return p.refs.Count() }

func (p *LocalProvider) Usage() *metrics.Usage { return p.usage }
