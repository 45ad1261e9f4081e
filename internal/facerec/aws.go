//go:build !noaws

package facerec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/pvondra/facefinder/internal/config"
	"github.com/pvondra/facefinder/internal/imaging"
	"github.com/pvondra/facefinder/internal/metrics"
)

func init() {
	register("aws", newAWSProvider)
}

const (
	// Rekognition rejects image payloads over 5 MB.
	awsMaxImageBytes = 5 * 1024 * 1024
	awsMaxImageDim   = 1600

	awsMaxRetryElapsed = 30 * time.Second
)

// awsRetryableCodes are the Rekognition error codes worth retrying with
// backoff.
var awsRetryableCodes = map[string]bool{
	"ThrottlingException":                    true,
	"ProvisionedThroughputExceededException": true,
	"ServiceUnavailableException":            true,
	"InternalServerError":                    true,
}

// rekognitionAPI is the subset of the Rekognition client the provider
// uses.
type rekognitionAPI interface {
	DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
	CompareFaces(ctx context.Context, in *rekognition.CompareFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.CompareFacesOutput, error)
}

// awsReference keeps one reference photo as ready-to-send JPEG bytes.
// Rekognition compares whole images, so the provider holds bytes instead
// of feature vectors and pays one CompareFaces call per reference per
// candidate photo.
type awsReference struct {
	path string
	data []byte
}

// AWSProvider matches faces through Amazon Rekognition. It is stateless on
// the service side: every candidate photo is prechecked with DetectFaces
// and then compared against each stored reference image.
type AWSProvider struct {
	cfg    *config.Config
	log    logr.Logger
	client rekognitionAPI
	policy VotePolicy
	usage  *metrics.Usage

	maxImageBytes int
	maxImageDim   int

	references []awsReference
}

func newAWSProvider(cfg *config.Config, log logr.Logger) (Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.AccessKeyID != "" && cfg.AWS.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, &ProviderCallError{Provider: "aws", Op: "init", Err: err}
	}

	return &AWSProvider{
		cfg:           cfg,
		log:           log.WithName("aws"),
		client:        rekognition.NewFromConfig(awsCfg),
		policy:        VotePolicy{Fraction: cfg.VoteFraction},
		usage:         metrics.NewUsage("aws"),
		maxImageBytes: awsMaxImageBytes,
		maxImageDim:   awsMaxImageDim,
	}, nil
}

func (p *AWSProvider) Name() string { return "aws" }

func (p *AWSProvider) ValidateConfig() error {
	if p.cfg.AWS.Region == "" {
		return &ConfigError{Provider: "aws", Field: "AWS_REGION", Reason: "required"}
	}
	if (p.cfg.AWS.AccessKeyID == "") != (p.cfg.AWS.SecretAccessKey == "") {
		return &ConfigError{
			Provider: "aws",
			Field:    "AWS_ACCESS_KEY_ID",
			Reason:   "access key and secret must be set together",
		}
	}
	return nil
}

// callWithRetry runs one Rekognition call, retrying throttling and
// transient service errors with exponential backoff.
func callWithRetry[T any](ctx context.Context, op string, call func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = awsMaxRetryElapsed

	var out T
	err := backoff.Retry(func() error {
		var err error
		out, err = call()
		if err == nil {
			return nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && awsRetryableCodes[apiErr.ErrorCode()] {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		return out, &ProviderCallError{Provider: "aws", Op: op, Err: err}
	}
	return out, nil
}

// prepareImage converts and shrinks a photo until it fits the Rekognition
// payload limit.
func (p *AWSProvider) prepareImage(data []byte) ([]byte, error) {
	jpegData, err := imaging.EnsureJPEG(data)
	if err != nil {
		return nil, &ProviderCallError{Provider: "aws", Op: "decode", Err: err}
	}
	fitted, err := imaging.FitUnderBytes(jpegData, p.maxImageBytes, p.maxImageDim)
	if err != nil {
		return nil, &ProviderCallError{Provider: "aws", Op: "resize", Err: err}
	}
	if len(fitted) > p.maxImageBytes {
		return nil, &ProviderCallError{
			Provider: "aws", Op: "resize",
			Err: fmt.Errorf("image still %d bytes after shrinking, limit is %d", len(fitted), p.maxImageBytes),
		}
	}
	return fitted, nil
}

// LoadReferences prepares the reference photos and verifies each one
// contains a detectable face. Photos without a face are skipped; they
// would silently drag every vote count down otherwise.
func (p *AWSProvider) LoadReferences(ctx context.Context, paths []string) (int, error) {
	p.references = p.references[:0]

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			p.log.Info("skipping unreadable reference photo", "path", path, "error", err.Error())
			continue
		}
		prepared, err := p.prepareImage(data)
		if err != nil {
			p.log.Info("skipping undecodable reference photo", "path", path, "error", err.Error())
			continue
		}

		width, height := imageDimensions(prepared)
		faces, err := p.detect(ctx, prepared, path, width, height)
		if err != nil {
			return 0, err
		}
		if len(faces) == 0 {
			p.log.Info("skipping reference photo, no face found", "path", path)
			continue
		}

		p.references = append(p.references, awsReference{path: path, data: prepared})
	}

	if len(p.references) == 0 {
		return 0, ErrNoReferenceFaces
	}
	return len(p.references), nil
}

// detect runs DetectFaces on an already prepared payload. Bounding boxes
// are reported against the width and height passed by the caller, which
// may describe a larger source image than the shrunken payload.
func (p *AWSProvider) detect(ctx context.Context, image []byte, source string, width, height int) ([]Encoding, error) {
	out, err := callWithRetry(ctx, "detect_faces", func() (*rekognition.DetectFacesOutput, error) {
		return p.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
			Image:      &rektypes.Image{Bytes: image},
			Attributes: []rektypes.Attribute{rektypes.AttributeDefault},
		})
	})
	if err != nil {
		return nil, err
	}
	p.usage.Track("detect_faces")

	encodings := make([]Encoding, 0, len(out.FaceDetails))
	for _, detail := range out.FaceDetails {
		enc := Encoding{Source: source}
		if detail.Confidence != nil {
			enc.Confidence = float64(*detail.Confidence) / 100
		}
		if box := pixelBox(detail.BoundingBox, width, height); box != nil {
			enc.Box = box
		}
		encodings = append(encodings, enc)
	}
	return encodings, nil
}

func imageDimensions(data []byte) (int, int) {
	img, err := imaging.Decode(data)
	if err != nil {
		return 0, 0
	}
	return img.Bounds().Dx(), img.Bounds().Dy()
}

// pixelBox converts a Rekognition relative bounding box into pixel
// coordinates.
func pixelBox(bb *rektypes.BoundingBox, width, height int) *Box {
	if bb == nil || width == 0 || height == 0 {
		return nil
	}
	left := int(float64(deref(bb.Left)) * float64(width))
	top := int(float64(deref(bb.Top)) * float64(height))
	return &Box{
		Top:    top,
		Left:   left,
		Right:  left + int(float64(deref(bb.Width))*float64(width)),
		Bottom: top + int(float64(deref(bb.Height))*float64(height)),
	}
}

func deref(f *float32) float32 {
	if f == nil {
		return 0
	}
	return *f
}

// DetectFaces reports face locations in the coordinates of the photo the
// caller handed in, even when the payload had to be shrunk for the
// Rekognition size limit.
func (p *AWSProvider) DetectFaces(ctx context.Context, image []byte, source string) ([]Encoding, error) {
	width, height := imageDimensions(image)
	prepared, err := p.prepareImage(image)
	if err != nil {
		return nil, err
	}
	return p.detect(ctx, prepared, source, width, height)
}

// CompareFaces cannot work on a single encoding: Rekognition only compares
// whole images. The comparison happens inside FindMatches instead.
func (p *AWSProvider) CompareFaces(enc Encoding, tolerance float64) (Match, error) {
	return Match{}, errors.New("aws provider compares whole images, use FindMatches")
}

// FindMatches prechecks the candidate photo with DetectFaces and then runs
// one CompareFaces call per reference photo. The similarity threshold
// passed to Rekognition is derived from the tolerance: tolerance 0.6 asks
// for at least 40% similarity.
func (p *AWSProvider) FindMatches(ctx context.Context, image []byte, source string, tolerance float64) ([]Match, int, error) {
	if len(p.references) == 0 {
		return nil, 0, ErrNoReferenceFaces
	}

	prepared, err := p.prepareImage(image)
	if err != nil {
		return nil, 0, err
	}

	width, height := imageDimensions(image)
	detected, err := p.detect(ctx, prepared, source, width, height)
	if err != nil {
		return nil, 0, err
	}
	if len(detected) == 0 {
		return nil, 0, nil
	}

	threshold := float32((1 - tolerance) * 100)
	votes := 0
	bestSimilarity := 0.0
	var bestRef *awsReference

	for i := range p.references {
		ref := &p.references[i]
		out, err := callWithRetry(ctx, "compare_faces", func() (*rekognition.CompareFacesOutput, error) {
			return p.client.CompareFaces(ctx, &rekognition.CompareFacesInput{
				SourceImage:         &rektypes.Image{Bytes: ref.data},
				TargetImage:         &rektypes.Image{Bytes: prepared},
				SimilarityThreshold: aws.Float32(threshold),
			})
		})
		if err != nil {
			return nil, len(detected), err
		}
		p.usage.Track("compare_faces")

		refBest := 0.0
		for _, fm := range out.FaceMatches {
			if fm.Similarity != nil {
				refBest = math.Max(refBest, float64(*fm.Similarity)/100)
			}
		}
		if refBest > 0 {
			votes++
		}
		if refBest > bestSimilarity {
			bestSimilarity = refBest
			bestRef = ref
		}
	}

	if votes < p.policy.RequiredVotes(len(p.references)) {
		p.usage.AddFaces(len(detected), 0)
		return nil, len(detected), nil
	}

	match := Match{
		IsMatch:    true,
		Confidence: bestSimilarity,
		Distance:   1 - bestSimilarity,
	}
	if bestRef != nil {
		match.Matched = &Encoding{Source: bestRef.path}
	}
	p.usage.AddFaces(len(detected), 1)
	return []Match{match}, len(detected), nil
}

func (p *AWSProvider) ReferenceCount() int { return len(p.references) }

func (p *AWSProvider) Usage() *metrics.Usage { return p.usage }
