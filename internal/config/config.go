package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Provider     string  // active face recognition backend: local, aws or azure
	ReferenceDir string  // directory with reference photos of the target person
	Tolerance    float64 // max distance for two faces to count as the same person
	VoteFraction float64 // fraction of references that must match (0 = any single reference)
	CacheFile    string  // encoding cache path; empty disables caching
	AuditLog     string  // JSON-lines audit log for copy/move operations; empty disables

	Local   LocalConfig
	AWS     AWSConfig
	Azure   AzureConfig
	Dropbox DropboxConfig
	Web     WebConfig
}

type LocalConfig struct {
	ModelsDir        string // directory with the dlib model files
	DetectionModel   string // "hog" (faster, CPU) or "cnn" (more accurate)
	Jitters          int    // re-sampling count for candidate photos
	ReferenceJitters int    // re-sampling count for reference photos (higher = more stable)
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type AzureConfig struct {
	Endpoint        string // e.g. https://myface.cognitiveservices.azure.com
	APIKey          string
	PersonGroupID   string // derived from PersonName when empty
	PersonName      string
	TrainingTimeout time.Duration
	PollInterval    time.Duration
}

type DropboxConfig struct {
	AccessToken       string
	SourceFolder      string
	DestinationFolder string
	Operation         string // "copy" or "move"
	ThumbnailSize     string // Dropbox thumbnail size name, e.g. w256h256
	UseFullSize       bool   // download originals instead of thumbnails
}

type WebConfig struct {
	Host       string
	Port       int
	ReportPath string // last run report consumed by the dashboard
}

// envStr reads an environment variable with a default.
func envStr(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a non-negative
// float. Returns the default value if unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean. Returns the default
// value if unset or invalid.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envDuration reads an environment variable as a time.Duration. Returns the
// default value if unset or invalid.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func Load() *Config {
	return &Config{
		Provider:     envStr("FACE_PROVIDER", "local"),
		ReferenceDir: os.Getenv("REFERENCE_PHOTOS_DIR"),
		Tolerance:    envFloat("TOLERANCE", 0.6),
		VoteFraction: envFloat("VOTE_FRACTION", 0),
		CacheFile:    os.Getenv("CACHE_FILE"),
		AuditLog:     os.Getenv("AUDIT_LOG"),
		Local: LocalConfig{
			ModelsDir:        envStr("LOCAL_MODELS_DIR", "models"),
			DetectionModel:   envStr("LOCAL_DETECTION_MODEL", "hog"),
			Jitters:          envInt("LOCAL_NUM_JITTERS", 1),
			ReferenceJitters: envInt("LOCAL_REFERENCE_JITTERS", 10),
		},
		AWS: AWSConfig{
			Region:          envStr("AWS_REGION", "us-east-1"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},
		Azure: AzureConfig{
			Endpoint:        os.Getenv("AZURE_FACE_ENDPOINT"),
			APIKey:          os.Getenv("AZURE_FACE_API_KEY"),
			PersonGroupID:   os.Getenv("AZURE_FACE_PERSON_GROUP"),
			PersonName:      envStr("AZURE_FACE_PERSON_NAME", "Target Person"),
			TrainingTimeout: envDuration("AZURE_FACE_TRAINING_TIMEOUT", 5*time.Minute),
			PollInterval:    envDuration("AZURE_FACE_POLL_INTERVAL", time.Second),
		},
		Dropbox: DropboxConfig{
			AccessToken:       os.Getenv("DROPBOX_ACCESS_TOKEN"),
			SourceFolder:      os.Getenv("DROPBOX_SOURCE_FOLDER"),
			DestinationFolder: os.Getenv("DROPBOX_DESTINATION_FOLDER"),
			Operation:         envStr("DROPBOX_OPERATION", "copy"),
			ThumbnailSize:     envStr("DROPBOX_THUMBNAIL_SIZE", "w256h256"),
			UseFullSize:       envBool("DROPBOX_USE_FULL_SIZE", false),
		},
		Web: WebConfig{
			Host:       envStr("WEB_HOST", "127.0.0.1"),
			Port:       envInt("WEB_PORT", 8090),
			ReportPath: envStr("WEB_REPORT_PATH", "facefinder-report.json"),
		},
	}
}
