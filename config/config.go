package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultThumbnailsSubDir = "thumbnails"
	DefaultKnownFacesSubDir = "known_faces"
)

const (
	defaultPollInterval      = 5
	defaultUnlockCooldown    = 60
	defaultFaceTolerance     = 0.5
	defaultFrameRetries      = 24
	defaultFrameRetryDelay   = 5
	defaultDetectQueueSize   = 8
	defaultCooldownSecondary = 120
)

type Config struct {
	// primary (front door) camera
	CameraID string

	// optional secondary camera; empty disables the second pipeline
	SecondaryCameraID string

	// camera cloud API
	CameraAPIBase string
	CameraToken   string

	// database path
	DatabasePath string

	// storage configuration
	StoragePath    string // primary root for generated assets
	ThumbnailsPath string // full-calculated path for thumbnails
	KnownFacesPath string // full-calculated path for enrollment images

	// pipeline timing
	PollInterval      time.Duration
	UnlockCooldown    time.Duration
	SecondaryCooldown time.Duration

	// frame capture retry settings
	FrameFetchRetries    int
	FrameFetchRetryDelay time.Duration

	// face matching
	FaceMatchTolerance float64

	// object detection model paths (DNN)
	DetectorModelPath  string
	DetectorConfigPath string
	DetectQueueSize    int

	// face recognition model paths (DNN)
	FaceDNNNetConfigPath string
	FaceDNNNetModelPath  string
	FaceEmbeddingPath    string

	// lock actuator (SwitchBot cloud API)
	LockAPIBase  string
	LockToken    string
	LockSecret   string
	LockDeviceID string

	// alerting (Telegram bot API)
	AlertBotToken string
	AlertChatID   string

	// dashboard auth
	DashboardUsername     string
	DashboardPassword     string
	DashboardPasswordHash string // bcrypt hash; takes precedence when set

	// HTTP server
	ListenAddr string
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvFloatOrDefault(envVar string, defaultVal float64) float64 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %g. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

// LoadConfig reads configuration from the environment. Call godotenv.Load
// (or Reload) beforehand so .env values are visible.
func LoadConfig() (Config, error) {
	storage := getEnvOrDefault("STORAGE_PATH", filepath.Join(".", "storage"))
	absStorage, err := filepath.Abs(storage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for storage '%s': %w", storage, err)
	}

	thumbSubDir := getEnvOrDefault("THUMBNAILS_SUBDIR", DefaultThumbnailsSubDir)
	facesSubDir := getEnvOrDefault("KNOWN_FACES_SUBDIR", DefaultKnownFacesSubDir)

	cfg := Config{
		CameraID:          getEnvOrDefault("CAMERA_ID", "front_door"),
		SecondaryCameraID: os.Getenv("SECONDARY_CAMERA_ID"),

		CameraAPIBase: getEnvOrDefault("CAMERA_API_BASE", "https://api.ring.com"),
		CameraToken:   os.Getenv("CAMERA_TOKEN"),

		DatabasePath:   getEnvOrDefault("DATABASE_PATH", "events.db"),
		StoragePath:    absStorage,
		ThumbnailsPath: filepath.Join(absStorage, thumbSubDir),
		KnownFacesPath: filepath.Join(absStorage, facesSubDir),

		PollInterval:      time.Duration(getEnvIntOrDefault("POLL_INTERVAL", defaultPollInterval)) * time.Second,
		UnlockCooldown:    time.Duration(getEnvIntOrDefault("UNLOCK_COOLDOWN", defaultUnlockCooldown)) * time.Second,
		SecondaryCooldown: time.Duration(getEnvIntOrDefault("SECONDARY_COOLDOWN", defaultCooldownSecondary)) * time.Second,

		FrameFetchRetries:    getEnvIntOrDefault("FRAME_FETCH_RETRIES", defaultFrameRetries),
		FrameFetchRetryDelay: time.Duration(getEnvIntOrDefault("FRAME_FETCH_RETRY_DELAY", defaultFrameRetryDelay)) * time.Second,

		FaceMatchTolerance: getEnvFloatOrDefault("FACE_MATCH_TOLERANCE", defaultFaceTolerance),

		DetectorModelPath:  getEnvOrDefault("DETECTOR_MODEL_PATH", "./models/yolo11n.onnx"),
		DetectorConfigPath: os.Getenv("DETECTOR_CONFIG_PATH"),
		DetectQueueSize:    getEnvIntOrDefault("DETECT_QUEUE_SIZE", defaultDetectQueueSize),

		FaceDNNNetConfigPath: getEnvOrDefault("FACE_DNN_CONFIG_PATH", "./models/deploy.prototxt.txt"),
		FaceDNNNetModelPath:  getEnvOrDefault("FACE_DNN_MODEL_PATH", "./models/res10_300x300_ssd_iter_140000_fp16.caffemodel"),
		FaceEmbeddingPath:    getEnvOrDefault("FACE_EMBEDDING_MODEL_PATH", "./models/arcface.onnx"),

		LockAPIBase:  getEnvOrDefault("LOCK_API_BASE", "https://api.switch-bot.com/v1.1"),
		LockToken:    os.Getenv("LOCK_TOKEN"),
		LockSecret:   os.Getenv("LOCK_SECRET"),
		LockDeviceID: os.Getenv("LOCK_DEVICE_ID"),

		AlertBotToken: os.Getenv("ALERT_BOT_TOKEN"),
		AlertChatID:   os.Getenv("ALERT_CHAT_ID"),

		DashboardUsername:     getEnvOrDefault("DASHBOARD_USERNAME", "admin"),
		DashboardPassword:     os.Getenv("DASHBOARD_PASSWORD"),
		DashboardPasswordHash: os.Getenv("DASHBOARD_PASSWORD_HASH"),

		ListenAddr: ":" + getEnvOrDefault("PORT", "8080"),
	}

	return cfg, nil
}

// Validate returns a list of human-readable problems with the configuration.
// An empty list means the unlock pipeline can run fully.
func (c Config) Validate() []string {
	var errs []string
	if c.CameraToken == "" {
		errs = append(errs, "CAMERA_TOKEN is required")
	}
	if c.LockToken == "" {
		errs = append(errs, "LOCK_TOKEN is required")
	}
	if c.LockSecret == "" {
		errs = append(errs, "LOCK_SECRET is required")
	}
	if c.LockDeviceID == "" {
		errs = append(errs, "LOCK_DEVICE_ID is required")
	}
	if c.DashboardPassword == "" && c.DashboardPasswordHash == "" {
		errs = append(errs, "DASHBOARD_PASSWORD or DASHBOARD_PASSWORD_HASH is required")
	}
	return errs
}

// Reload re-reads the .env file (overriding the current environment) and
// returns a freshly built Config.
func Reload() (Config, error) {
	if err := godotenv.Overload(); err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	return LoadConfig()
}
