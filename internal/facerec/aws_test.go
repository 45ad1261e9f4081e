//go:build !noaws

package facerec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/go-logr/logr"

	"github.com/pvondra/facefinder/internal/config"
	"github.com/pvondra/facefinder/internal/imaging"
	"github.com/pvondra/facefinder/internal/metrics"
)

// fakeRekognition scripts DetectFaces and CompareFaces responses.
type fakeRekognition struct {
	detectFaces  int // faces reported for every DetectFaces call
	similarities []float64
	compareIdx   int
	detectCalls  int
	compareCalls int
	detectErr    error
	compareErr   error
	lastImage    []byte // payload of the most recent DetectFaces call
}

func (f *fakeRekognition) DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error) {
	f.detectCalls++
	if in.Image != nil {
		f.lastImage = in.Image.Bytes
	}
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	out := &rekognition.DetectFacesOutput{}
	for i := 0; i < f.detectFaces; i++ {
		out.FaceDetails = append(out.FaceDetails, rektypes.FaceDetail{
			Confidence: aws.Float32(99.5),
			BoundingBox: &rektypes.BoundingBox{
				Left: aws.Float32(0.1), Top: aws.Float32(0.1),
				Width: aws.Float32(0.5), Height: aws.Float32(0.5),
			},
		})
	}
	return out, nil
}

func (f *fakeRekognition) CompareFaces(ctx context.Context, in *rekognition.CompareFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.CompareFacesOutput, error) {
	f.compareCalls++
	if f.compareErr != nil {
		return nil, f.compareErr
	}
	out := &rekognition.CompareFacesOutput{}
	if f.compareIdx < len(f.similarities) {
		if sim := f.similarities[f.compareIdx]; sim > 0 {
			out.FaceMatches = []rektypes.CompareFacesMatch{
				{Similarity: aws.Float32(float32(sim * 100))},
			}
		}
		f.compareIdx++
	}
	return out, nil
}

func newTestAWSProvider(t *testing.T, fake *fakeRekognition, voteFraction float64) *AWSProvider {
	t.Helper()
	cfg := &config.Config{VoteFraction: voteFraction}
	cfg.AWS.Region = "us-east-1"
	return &AWSProvider{
		cfg:           cfg,
		log:           logr.Discard(),
		client:        fake,
		policy:        VotePolicy{Fraction: voteFraction},
		usage:         metrics.NewUsage("aws"),
		maxImageBytes: awsMaxImageBytes,
		maxImageDim:   awsMaxImageDim,
	}
}

func TestAWSProvider_LoadReferencesSkipsFacelessPhotos(t *testing.T) {
	fake := &fakeRekognition{detectFaces: 0}
	p := newTestAWSProvider(t, fake, 0)

	_, err := p.LoadReferences(context.Background(), writeReferencePhotos(t, 2))
	if !errors.Is(err, ErrNoReferenceFaces) {
		t.Fatalf("expected ErrNoReferenceFaces, got %v", err)
	}
}

func TestAWSProvider_LoadReferences(t *testing.T) {
	fake := &fakeRekognition{detectFaces: 1}
	p := newTestAWSProvider(t, fake, 0)

	n, err := p.LoadReferences(context.Background(), writeReferencePhotos(t, 3))
	if err != nil {
		t.Fatalf("LoadReferences failed: %v", err)
	}
	if n != 3 || p.ReferenceCount() != 3 {
		t.Errorf("expected 3 references, got %d", n)
	}
	if fake.detectCalls != 3 {
		t.Errorf("expected one detect precheck per reference, got %d", fake.detectCalls)
	}
}

func TestAWSProvider_LoadReferencesSkipsCorruptFiles(t *testing.T) {
	fake := &fakeRekognition{detectFaces: 1}
	p := newTestAWSProvider(t, fake, 0)

	paths := writeReferencePhotos(t, 1)
	corrupt := filepath.Join(filepath.Dir(paths[0]), "broken.jpg")
	if err := os.WriteFile(corrupt, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := p.LoadReferences(context.Background(), append(paths, corrupt))
	if err != nil {
		t.Fatalf("LoadReferences failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the corrupt file to be skipped, got %d references", n)
	}
}

func TestAWSProvider_DetectFacesReportsSourceCoordinates(t *testing.T) {
	fake := &fakeRekognition{detectFaces: 1}
	p := newTestAWSProvider(t, fake, 0)
	// Budgets small enough that the 800x400 photo has to be shrunk before
	// it is sent.
	p.maxImageBytes = 6000
	p.maxImageDim = 100

	encodings, err := p.DetectFaces(context.Background(), testPNG(t, 800, 400), "photo.png")
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if len(encodings) != 1 || encodings[0].Box == nil {
		t.Fatalf("expected one face with a bounding box, got %+v", encodings)
	}

	sent, err := imaging.Decode(fake.lastImage)
	if err != nil {
		t.Fatal(err)
	}
	if sent.Bounds().Dx() > 100 {
		t.Fatalf("expected the payload to be shrunk, got width %d", sent.Bounds().Dx())
	}

	// The fake reports the face at 10%/10% with a 50%/50% extent. The box
	// must come back in the pixels of the original photo, not the payload.
	want := Box{Top: 40, Left: 80, Right: 480, Bottom: 240}
	if *encodings[0].Box != want {
		t.Errorf("expected box in source pixels %+v, got %+v", want, *encodings[0].Box)
	}
}

func TestAWSProvider_FindMatches(t *testing.T) {
	fake := &fakeRekognition{detectFaces: 1, similarities: []float64{0.85, 0, 0.92}}
	p := newTestAWSProvider(t, fake, 0)

	if _, err := p.LoadReferences(context.Background(), writeReferencePhotos(t, 3)); err != nil {
		t.Fatal(err)
	}

	matches, detected, err := p.FindMatches(context.Background(), testJPEG(t), "candidate.jpg", 0.6)
	if err != nil {
		t.Fatalf("FindMatches failed: %v", err)
	}
	if detected != 1 {
		t.Errorf("expected 1 detected face, got %d", detected)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Confidence != 0.92 {
		t.Errorf("expected best similarity 0.92, got %f", matches[0].Confidence)
	}
	if fake.compareCalls != 3 {
		t.Errorf("expected one compare per reference, got %d", fake.compareCalls)
	}
}

func TestAWSProvider_FindMatchesVoteFraction(t *testing.T) {
	// 1 of 3 references matches but 2 votes are required.
	fake := &fakeRekognition{detectFaces: 1, similarities: []float64{0.9, 0, 0}}
	p := newTestAWSProvider(t, fake, 0.5)

	if _, err := p.LoadReferences(context.Background(), writeReferencePhotos(t, 3)); err != nil {
		t.Fatal(err)
	}

	matches, detected, err := p.FindMatches(context.Background(), testJPEG(t), "candidate.jpg", 0.6)
	if err != nil {
		t.Fatalf("FindMatches failed: %v", err)
	}
	if detected != 1 {
		t.Errorf("expected 1 detected face, got %d", detected)
	}
	if len(matches) != 0 {
		t.Errorf("expected no match below the vote requirement, got %d", len(matches))
	}
}

func TestAWSProvider_FindMatchesNoFacesSkipsCompare(t *testing.T) {
	fake := &fakeRekognition{detectFaces: 1}
	p := newTestAWSProvider(t, fake, 0)
	if _, err := p.LoadReferences(context.Background(), writeReferencePhotos(t, 2)); err != nil {
		t.Fatal(err)
	}

	fake.detectFaces = 0
	compareBefore := fake.compareCalls

	matches, detected, err := p.FindMatches(context.Background(), testJPEG(t), "empty.jpg", 0.6)
	if err != nil {
		t.Fatalf("FindMatches failed: %v", err)
	}
	if detected != 0 || len(matches) != 0 {
		t.Errorf("expected nothing detected, got %d faces, %d matches", detected, len(matches))
	}
	if fake.compareCalls != compareBefore {
		t.Error("expected the detect precheck to prevent compare calls")
	}
}

func TestAWSProvider_FindMatchesWithoutReferences(t *testing.T) {
	p := newTestAWSProvider(t, &fakeRekognition{}, 0)
	if _, _, err := p.FindMatches(context.Background(), testJPEG(t), "x.jpg", 0.6); !errors.Is(err, ErrNoReferenceFaces) {
		t.Errorf("expected ErrNoReferenceFaces, got %v", err)
	}
}

func TestAWSProvider_ValidateConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.AWS.Region = "eu-west-1"
	cfg.AWS.AccessKeyID = "AKIA123"
	// secret missing

	p := &AWSProvider{cfg: cfg, log: logr.Discard()}
	var cfgErr *ConfigError
	if err := p.ValidateConfig(); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for unpaired credentials, got %v", err)
	}

	cfg.AWS.SecretAccessKey = "secret"
	if err := p.ValidateConfig(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}
