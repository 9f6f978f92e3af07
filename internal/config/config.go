package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port           string
	AllowedOrigins string
	UploadMaxBytes int

	// Environment
	Environment string
	LogLevel    string

	// Model
	ModelID    string
	Device     string
	OCRBackend string
	BaseSize   int
	ImageSize  int
	CropMode   bool

	// Command backend
	PythonPath  string
	InferScript string

	// Tesseract backend
	TesseractLanguage string

	// Vision backend
	VisionAPIURL string
	VisionAPIKey string
	VisionModel  string

	// Working directories
	WorkDir       string
	TempDir       string
	SplitDir      string
	KeepArtifacts bool

	// Pipeline
	PDFDPI          int
	PdfiumWorkers   int
	OCRConcurrency  int
	OCRLockFile     string
	OCRTimeout      time.Duration
	DownloadTimeout time.Duration

	// Database (optional run history)
	DatabaseURL      string
	RunRetentionDays int

	// S3/Garage Storage (optional page archive)
	S3Enabled   bool
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
	S3Region    string
}

func Load() *Config {
	workDir := getEnv("WORK_DIR", "./outputs")

	return &Config{
		Port:              getEnv("PORT", "8000"),
		AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
		UploadMaxBytes:    getIntEnv("UPLOAD_MAX_BYTES", 50*1024*1024),
		Environment:       getEnv("ENVIRONMENT", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ModelID:           getEnv("MODEL_ID", getEnv("DEEPSEEK_OCR_MODEL", "deepseek-ai/DeepSeek-OCR")),
		Device:            getEnv("DEVICE", "cpu"),
		OCRBackend:        getEnv("OCR_BACKEND", "command"),
		BaseSize:          getIntEnv("BASE_SIZE", 1024),
		ImageSize:         getIntEnv("IMAGE_SIZE", 640),
		CropMode:          getBoolEnv("CROP_MODE", true),
		PythonPath:        getEnv("PYTHON_PATH", "python3"),
		InferScript:       getEnv("INFER_SCRIPT", "./scripts/infer.py"),
		TesseractLanguage: getEnv("TESSERACT_LANGUAGE", "eng"),
		VisionAPIURL:      getEnv("VISION_API_URL", ""),
		VisionAPIKey:      getEnv("VISION_API_KEY", ""),
		VisionModel:       getEnv("VISION_MODEL", ""),
		WorkDir:           workDir,
		TempDir:           getEnv("TEMP_DIR", filepath.Join(workDir, "tmp")),
		SplitDir:          getEnv("SPLIT_DIR", filepath.Join(workDir, "split")),
		KeepArtifacts:     getBoolEnv("KEEP_ARTIFACTS", false),
		PDFDPI:            getIntEnv("PDF_DPI", 200),
		PdfiumWorkers:     getIntEnv("PDFIUM_WORKERS", 1),
		OCRConcurrency:    getIntEnv("OCR_CONCURRENCY", 1),
		OCRLockFile:       getEnv("OCR_LOCK_FILE", ""),
		OCRTimeout:        getDurationEnv("OCR_TIMEOUT_SECONDS", 0) * time.Second,
		DownloadTimeout:   getDurationEnv("DOWNLOAD_TIMEOUT_SECONDS", 30) * time.Second,
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RunRetentionDays:  getIntEnv("RUN_RETENTION_DAYS", 30),
		S3Enabled:         getBoolEnv("S3_ENABLED", false),
		S3Endpoint:        getEnv("S3_ENDPOINT", "localhost:3900"),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		S3Bucket:          getEnv("S3_BUCKET", "ocr-pages"),
		S3UseSSL:          getBoolEnv("S3_USE_SSL", false),
		S3Region:          getEnv("S3_REGION", "garage"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
	}
	return time.Duration(defaultValue)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HistoryEnabled reports whether runs are recorded in the database
func (c *Config) HistoryEnabled() bool {
	return c.DatabaseURL != ""
}
