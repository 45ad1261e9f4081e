//go:build !noazure

package facerec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/pvondra/facefinder/internal/config"
	"github.com/pvondra/facefinder/internal/imaging"
	"github.com/pvondra/facefinder/internal/metrics"
)

func init() {
	register("azure", newAzureProvider)
}

const (
	azureDetectionModel   = "detection_03"
	azureRecognitionModel = "recognition_04"
)

// AzureProvider matches faces through the Azure Face API. Unlike the other
// backends it keeps durable state on the service side: a person group
// holding the target person's faces, trained once and then queried with
// detect + identify per candidate photo.
type AzureProvider struct {
	cfg    *config.Config
	log    logr.Logger
	client *http.Client
	usage  *metrics.Usage

	baseURL  string
	groupID  string
	personID uuid.UUID
	faces    int
}

func newAzureProvider(cfg *config.Config, log logr.Logger) (Provider, error) {
	groupID := cfg.Azure.PersonGroupID
	if groupID == "" {
		groupID = NormalizeGroupID(cfg.Azure.PersonName)
	}

	return &AzureProvider{
		cfg:     cfg,
		log:     log.WithName("azure"),
		client:  &http.Client{Timeout: 30 * time.Second},
		usage:   metrics.NewUsage("azure"),
		baseURL: strings.TrimRight(cfg.Azure.Endpoint, "/") + "/face/v1.0",
		groupID: groupID,
	}, nil
}

func (p *AzureProvider) Name() string { return "azure" }

func (p *AzureProvider) ValidateConfig() error {
	if p.cfg.Azure.Endpoint == "" {
		return &ConfigError{Provider: "azure", Field: "AZURE_FACE_ENDPOINT", Reason: "required"}
	}
	if _, err := url.ParseRequestURI(p.cfg.Azure.Endpoint); err != nil {
		return &ConfigError{Provider: "azure", Field: "AZURE_FACE_ENDPOINT", Reason: "not a valid URL"}
	}
	if p.cfg.Azure.APIKey == "" {
		return &ConfigError{Provider: "azure", Field: "AZURE_FACE_API_KEY", Reason: "required"}
	}
	if p.cfg.Azure.PersonName == "" && p.cfg.Azure.PersonGroupID == "" {
		return &ConfigError{Provider: "azure", Field: "AZURE_FACE_PERSON_NAME", Reason: "required"}
	}
	return nil
}

// azureError is the error envelope the Face API returns for non-2xx
// responses.
type azureError struct {
	Status  int
	Code    string
	Message string
}

func (e *azureError) Error() string {
	return fmt.Sprintf("azure face api: status %d, code %s: %s", e.Status, e.Code, e.Message)
}

func (e *azureError) notFound() bool { return e.Status == http.StatusNotFound }

// doAzure issues one Face API request and decodes the JSON response into
// out. A nil out discards the body. Package-level because methods cannot
// carry type parameters.
func doAzure[T any](ctx context.Context, p *AzureProvider, method, path, contentType string, body io.Reader, out *T) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.cfg.Azure.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(data, &envelope)
		return &azureError{
			Status:  resp.StatusCode,
			Code:    envelope.Error.Code,
			Message: envelope.Error.Message,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func azureJSON[T any](ctx context.Context, p *AzureProvider, method, path string, payload any, out *T) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	return doAzure(ctx, p, method, path, "application/json", body, out)
}

func azureOctet[T any](ctx context.Context, p *AzureProvider, path string, image []byte, out *T) error {
	return doAzure(ctx, p, http.MethodPost, path, "application/octet-stream", bytes.NewReader(image), out)
}

// ensureGroup creates the person group if it does not exist yet.
func (p *AzureProvider) ensureGroup(ctx context.Context) error {
	var group struct {
		PersonGroupID string `json:"personGroupId"`
	}
	err := doAzure(ctx, p, http.MethodGet, "/persongroups/"+p.groupID, "", nil, &group)
	p.usage.Track("person_group_get")
	if err == nil {
		return nil
	}

	var apiErr *azureError
	if !errors.As(err, &apiErr) || !apiErr.notFound() {
		return &ProviderCallError{Provider: "azure", Op: "person_group_get", Err: err}
	}

	payload := map[string]string{
		"name":             p.cfg.Azure.PersonName,
		"recognitionModel": azureRecognitionModel,
	}
	if err := azureJSON[struct{}](ctx, p, http.MethodPut, "/persongroups/"+p.groupID, payload, nil); err != nil {
		return &ProviderCallError{Provider: "azure", Op: "person_group_create", Err: err}
	}
	p.usage.Track("person_group_create")
	p.log.Info("created person group", "group_id", p.groupID)
	return nil
}

type azurePerson struct {
	PersonID         uuid.UUID `json:"personId"`
	Name             string    `json:"name"`
	UserData         string    `json:"userData"`
	PersistedFaceIDs []string  `json:"persistedFaceIds"`
}

// findPerson returns the target person in the group, or nil when it does
// not exist yet.
func (p *AzureProvider) findPerson(ctx context.Context) (*azurePerson, error) {
	var persons []azurePerson
	err := doAzure(ctx, p, http.MethodGet, "/persongroups/"+p.groupID+"/persons", "", nil, &persons)
	p.usage.Track("person_list")
	if err != nil {
		return nil, &ProviderCallError{Provider: "azure", Op: "person_list", Err: err}
	}

	for i := range persons {
		if persons[i].Name == p.cfg.Azure.PersonName {
			return &persons[i], nil
		}
	}
	return nil, nil
}

// createPerson creates the target person carrying the reference
// fingerprint as userData, so later runs can tell whether the persisted
// faces are still current.
func (p *AzureProvider) createPerson(ctx context.Context, fingerprint string) error {
	var created struct {
		PersonID uuid.UUID `json:"personId"`
	}
	payload := map[string]string{
		"name":     p.cfg.Azure.PersonName,
		"userData": fingerprint,
	}
	if err := azureJSON(ctx, p, http.MethodPost, "/persongroups/"+p.groupID+"/persons", payload, &created); err != nil {
		return &ProviderCallError{Provider: "azure", Op: "person_create", Err: err}
	}
	p.usage.Track("person_create")
	p.personID = created.PersonID
	p.log.Info("created person", "person_id", created.PersonID.String())
	return nil
}

func (p *AzureProvider) deletePerson(ctx context.Context, personID uuid.UUID) error {
	endpoint := "/persongroups/" + p.groupID + "/persons/" + personID.String()
	if err := doAzure[struct{}](ctx, p, http.MethodDelete, endpoint, "", nil, nil); err != nil {
		return &ProviderCallError{Provider: "azure", Op: "person_delete", Err: err}
	}
	p.usage.Track("person_delete")
	return nil
}

// referenceFingerprint keys the server-side person state the same way the
// encoding cache is keyed: photo bytes plus matching parameters.
func (p *AzureProvider) referenceFingerprint(paths []string) string {
	return Fingerprint("azure", Params{
		Tolerance:      p.cfg.Tolerance,
		DetectionModel: azureDetectionModel,
		VoteFraction:   p.cfg.VoteFraction,
	}, paths)
}

// train kicks off person group training and polls until it reaches a
// terminal state or the timeout elapses.
func (p *AzureProvider) train(ctx context.Context) error {
	if err := azureJSON[struct{}](ctx, p, http.MethodPost, "/persongroups/"+p.groupID+"/train", nil, nil); err != nil {
		return &ProviderCallError{Provider: "azure", Op: "train", Err: err}
	}
	p.usage.Track("train")

	// First check happens immediately so a timeout shorter than the poll
	// interval still gets at least one look at the status.
	if done, err := p.checkTraining(ctx); err != nil || done {
		return err
	}

	deadline := time.NewTimer(p.cfg.Azure.TrainingTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.cfg.Azure.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &TrainingTimeoutError{Timeout: p.cfg.Azure.TrainingTimeout}
		case <-ticker.C:
			if done, err := p.checkTraining(ctx); err != nil || done {
				return err
			}
		}
	}
}

func (p *AzureProvider) checkTraining(ctx context.Context) (bool, error) {
	var status struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	err := doAzure(ctx, p, http.MethodGet, "/persongroups/"+p.groupID+"/training", "", nil, &status)
	p.usage.Track("training_status")
	if err != nil {
		return false, &ProviderCallError{Provider: "azure", Op: "training_status", Err: err}
	}

	switch status.Status {
	case "succeeded":
		return true, nil
	case "failed":
		return false, &ProviderCallError{
			Provider: "azure", Op: "train",
			Err: fmt.Errorf("training failed: %s", status.Message),
		}
	}
	return false, nil
}

// LoadReferences uploads the reference photos as persisted faces of the
// target person and trains the group. A person that already holds faces
// from an earlier run with the same fingerprint is reused as-is; when the
// photos or parameters changed, the person is deleted and rebuilt.
func (p *AzureProvider) LoadReferences(ctx context.Context, paths []string) (int, error) {
	fingerprint := p.referenceFingerprint(paths)

	if err := p.ensureGroup(ctx); err != nil {
		return 0, err
	}

	person, err := p.findPerson(ctx)
	if err != nil {
		return 0, err
	}

	if person != nil {
		if len(person.PersistedFaceIDs) > 0 && person.UserData == fingerprint {
			p.personID = person.PersonID
			p.faces = len(person.PersistedFaceIDs)
			p.log.Info("reusing persisted reference faces", "count", p.faces)
			if err := p.train(ctx); err != nil {
				return 0, err
			}
			return p.faces, nil
		}

		p.log.Info("reference photos changed, rebuilding person",
			"person_id", person.PersonID.String())
		if err := p.deletePerson(ctx, person.PersonID); err != nil {
			return 0, err
		}
	}

	if err := p.createPerson(ctx, fingerprint); err != nil {
		return 0, err
	}

	added := 0
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

		endpoint := fmt.Sprintf("/persongroups/%s/persons/%s/persistedFaces?detectionModel=%s",
			p.groupID, p.personID, azureDetectionModel)
		var face struct {
			PersistedFaceID string `json:"persistedFaceId"`
		}
		if err := azureOctet(ctx, p, endpoint, jpegData, &face); err != nil {
			var apiErr *azureError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
				// Typically "no face detected in the image".
				p.log.Info("skipping reference photo", "path", path, "error", apiErr.Message)
				continue
			}
			return 0, &ProviderCallError{Provider: "azure", Op: "add_face", Err: err}
		}
		p.usage.Track("add_face")
		added++
	}

	if added == 0 {
		return 0, ErrNoReferenceFaces
	}

	p.faces = added
	if err := p.train(ctx); err != nil {
		return 0, err
	}
	return added, nil
}

type azureDetectedFace struct {
	FaceID        uuid.UUID `json:"faceId"`
	FaceRectangle struct {
		Top    int `json:"top"`
		Left   int `json:"left"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"faceRectangle"`
}

func (p *AzureProvider) DetectFaces(ctx context.Context, image []byte, source string) ([]Encoding, error) {
	jpegData, err := imaging.EnsureJPEG(image)
	if err != nil {
		return nil, &ProviderCallError{Provider: "azure", Op: "decode", Err: err}
	}

	endpoint := fmt.Sprintf("/detect?returnFaceId=true&detectionModel=%s&recognitionModel=%s",
		azureDetectionModel, azureRecognitionModel)
	var faces []azureDetectedFace
	if err := azureOctet(ctx, p, endpoint, jpegData, &faces); err != nil {
		return nil, &ProviderCallError{Provider: "azure", Op: "detect", Err: err}
	}
	p.usage.Track("detect")

	encodings := make([]Encoding, 0, len(faces))
	for _, f := range faces {
		encodings = append(encodings, Encoding{
			Source:   source,
			remoteID: f.FaceID.String(),
			Box: &Box{
				Top:    f.FaceRectangle.Top,
				Left:   f.FaceRectangle.Left,
				Right:  f.FaceRectangle.Left + f.FaceRectangle.Width,
				Bottom: f.FaceRectangle.Top + f.FaceRectangle.Height,
			},
		})
	}
	return encodings, nil
}

// CompareFaces identifies one detected face against the trained person.
// The confidence threshold sent to the API mirrors the tolerance:
// tolerance 0.6 means candidates below confidence 0.4 are dropped.
func (p *AzureProvider) CompareFaces(enc Encoding, tolerance float64) (Match, error) {
	if enc.remoteID == "" {
		return Match{}, errors.New("encoding carries no remote face id, run DetectFaces first")
	}
	faceID, err := uuid.Parse(enc.remoteID)
	if err != nil {
		return Match{}, fmt.Errorf("invalid remote face id: %w", err)
	}

	payload := map[string]any{
		"faceIds":             []string{faceID.String()},
		"personGroupId":       p.groupID,
		"confidenceThreshold": 1 - tolerance,
	}
	var results []struct {
		FaceID     uuid.UUID `json:"faceId"`
		Candidates []struct {
			PersonID   uuid.UUID `json:"personId"`
			Confidence float64   `json:"confidence"`
		} `json:"candidates"`
	}
	if err := azureJSON(context.Background(), p, http.MethodPost, "/identify", payload, &results); err != nil {
		return Match{}, &ProviderCallError{Provider: "azure", Op: "identify", Err: err}
	}
	p.usage.Track("identify")

	for _, result := range results {
		for _, candidate := range result.Candidates {
			if candidate.PersonID == p.personID {
				return Match{
					IsMatch:    true,
					Confidence: candidate.Confidence,
					Distance:   1 - candidate.Confidence,
					Matched:    &Encoding{Source: p.cfg.Azure.PersonName},
				}, nil
			}
		}
	}
	return Match{IsMatch: false, Confidence: 0, Distance: 1}, nil
}

func (p *AzureProvider) FindMatches(ctx context.Context, image []byte, source string, tolerance float64) ([]Match, int, error) {
	if p.faces == 0 {
		return nil, 0, ErrNoReferenceFaces
	}
	matches, detected, err := findMatches(ctx, p, image, source, tolerance)
	if err != nil {
		return nil, detected, err
	}
	p.usage.AddFaces(detected, len(matches))
	return matches, detected, nil
}

func (p *AzureProvider) ReferenceCount() int { return p.faces }

func (p *AzureProvider) Usage() *metrics.Usage { return p.usage }
