package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WORK_DIR", "")
	t.Setenv("MODEL_ID", "")
	t.Setenv("DEEPSEEK_OCR_MODEL", "")
	t.Setenv("OCR_CONCURRENCY", "")
	t.Setenv("OCR_TIMEOUT_SECONDS", "")
	t.Setenv("DOWNLOAD_TIMEOUT_SECONDS", "")
	t.Setenv("TEMP_DIR", "")
	t.Setenv("DATABASE_URL", "")

	cfg := Load()
	assert.Equal(t, "./outputs", cfg.WorkDir)
	assert.Equal(t, filepath.Join("./outputs", "tmp"), cfg.TempDir)
	assert.Equal(t, "deepseek-ai/DeepSeek-OCR", cfg.ModelID)
	assert.Equal(t, 1, cfg.OCRConcurrency)
	assert.Equal(t, time.Duration(0), cfg.OCRTimeout)
	assert.Equal(t, 30*time.Second, cfg.DownloadTimeout)
	assert.Equal(t, 200, cfg.PDFDPI)
	assert.True(t, cfg.CropMode)
	assert.False(t, cfg.HistoryEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MODEL_ID", "")
	t.Setenv("DEEPSEEK_OCR_MODEL", "local/ocr-model")
	t.Setenv("OCR_CONCURRENCY", "4")
	t.Setenv("OCR_TIMEOUT_SECONDS", "90")
	t.Setenv("CROP_MODE", "false")
	t.Setenv("PDF_DPI", "not-a-number")
	t.Setenv("DATABASE_URL", "postgres://localhost/ocr")

	cfg := Load()
	assert.Equal(t, "local/ocr-model", cfg.ModelID)
	assert.Equal(t, 4, cfg.OCRConcurrency)
	assert.Equal(t, 90*time.Second, cfg.OCRTimeout)
	assert.False(t, cfg.CropMode)
	assert.Equal(t, 200, cfg.PDFDPI)
	assert.True(t, cfg.HistoryEnabled())
}
