package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/models"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestExtractArtifacts(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		stdout   string
		wantText string
		wantFile string
		wantSrc  models.ExtractionSource
	}{
		{
			name: "mmd preferred over json",
			files: map[string]string{
				"result.json": `{"text": "json text that is long enough"}`,
				"result.mmd":  "Hello World\nLine 2",
			},
			wantText: "Hello World\nLine 2",
			wantFile: "result.mmd",
			wantSrc:  models.SourceArtifact,
		},
		{
			name: "txt preferred over md and json",
			files: map[string]string{
				"a.md":   "markdown output text",
				"b.txt":  "plain text output",
				"c.json": `{"text": "json output text"}`,
			},
			wantText: "plain text output",
			wantFile: "b.txt",
			wantSrc:  models.SourceArtifact,
		},
		{
			name: "sorted by path within a group",
			files: map[string]string{
				"z.mmd": "zzzzzzzzzzzzzzzz",
				"a.mmd": "aaaaaaaaaaaaaaaa",
			},
			wantText: "aaaaaaaaaaaaaaaa",
			wantFile: "a.mmd",
			wantSrc:  models.SourceArtifact,
		},
		{
			name: "short artifact falls through to next file",
			files: map[string]string{
				"result.mmd":  "too short",
				"result.json": `{"text": "Invoice #42 total due"}`,
			},
			wantText: "Invoice #42 total due",
			wantFile: "result.json",
			wantSrc:  models.SourceArtifact,
		},
		{
			name: "surrounding quotes stripped",
			files: map[string]string{
				"out.mmd": "  \"quoted recognized text\"\n",
			},
			wantText: "quoted recognized text",
			wantFile: "out.mmd",
			wantSrc:  models.SourceArtifact,
		},
		{
			name: "json content field",
			files: map[string]string{
				"out.json": `{"content": "content field text"}`,
			},
			wantText: "content field text",
			wantFile: "out.json",
			wantSrc:  models.SourceArtifact,
		},
		{
			name: "json array uses first element",
			files: map[string]string{
				"out.json": `["first element text", "second"]`,
			},
			wantText: "first element text",
			wantFile: "out.json",
			wantSrc:  models.SourceArtifact,
		},
		{
			name: "json array of objects keeps first element as json",
			files: map[string]string{
				"out.json": `[{"text": "object element text"}, {"text": "second"}]`,
			},
			wantText: `{"text":"object element text"}`,
			wantFile: "out.json",
			wantSrc:  models.SourceArtifact,
		},
		{
			name: "invalid json read as raw text",
			files: map[string]string{
				"out.json": `not json but real text`,
			},
			wantText: "not json but real text",
			wantFile: "out.json",
			wantSrc:  models.SourceArtifact,
		},
		{
			name: "nested directory",
			files: map[string]string{
				"images/0.jpg":   "binary",
				"nested/out.mmd": "nested result text",
			},
			wantText: "nested result text",
			wantFile: filepath.Join("nested", "out.mmd"),
			wantSrc:  models.SourceArtifact,
		},
		{
			name: "image metadata json ignored",
			files: map[string]string{
				"page.png.json": `{"text": "metadata about the image"}`,
			},
			stdout:   "console recognized text",
			wantText: "console recognized text",
			wantSrc:  models.SourceStdout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeFiles(t, tt.files)
			result, err := New().Extract(models.RawRun{ArtifactDir: dir, Stdout: tt.stdout})
			require.NoError(t, err)

			assert.Equal(t, tt.wantText, result.FullText)
			assert.Equal(t, tt.wantSrc, result.Source)
			if tt.wantFile != "" {
				assert.Equal(t, filepath.Join(dir, tt.wantFile), result.SourcePath)
			} else {
				assert.Empty(t, result.SourcePath)
			}
			assert.Equal(t, models.SplitLines(tt.wantText), result.Lines)
		})
	}
}

func TestExtractNoResult(t *testing.T) {
	t.Run("nine characters everywhere", func(t *testing.T) {
		dir := writeFiles(t, map[string]string{"out.mmd": "123456789"})
		_, err := New().Extract(models.RawRun{ArtifactDir: dir, Stdout: "abcdefghi"})
		assert.ErrorIs(t, err, apperr.ErrNoResultProduced)
	})

	t.Run("empty run mentions stderr", func(t *testing.T) {
		_, err := New().Extract(models.RawRun{ArtifactDir: t.TempDir(), Stderr: "CUDA out of memory"})
		require.ErrorIs(t, err, apperr.ErrNoResultProduced)
		assert.Contains(t, err.Error(), "CUDA out of memory")
	})

	t.Run("missing artifact directory", func(t *testing.T) {
		_, err := New().Extract(models.RawRun{ArtifactDir: filepath.Join(t.TempDir(), "gone")})
		assert.ErrorIs(t, err, apperr.ErrNoResultProduced)
	})

	t.Run("exactly ten characters accepted", func(t *testing.T) {
		result, err := New().Extract(models.RawRun{Stdout: "0123456789"})
		require.NoError(t, err)
		assert.Equal(t, "0123456789", result.FullText)
	})
}

func TestExtractIsIdempotent(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"b.mmd": "second candidate text",
		"a.txt": "txt candidate text",
	})
	run := models.RawRun{ArtifactDir: dir, Stdout: "[INFO] loading\nconsole text here"}

	first, err := New().Extract(run)
	require.NoError(t, err)
	second, err := New().Extract(run)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "second candidate text", first.FullText)

	// files are left in place
	_, err = os.Stat(filepath.Join(dir, "b.mmd"))
	assert.NoError(t, err)
}

func TestCleanStdout(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   string
	}{
		{
			name: "debug tags and rules removed",
			stdout: "[DEBUG] loading model\n" +
				"=====================\n" +
				"Invoice 2024-001\n" +
				"Total: 100\n" +
				"[WARNING] slow path",
			want: "Invoice 2024-001\nTotal: 100",
		},
		{
			name: "deepseek statistics removed",
			stdout: "BASE:  torch.Size([1, 256, 1280])\n" +
				"PATCHES:  torch.Size([6, 100, 1280])\n" +
				"image size: (1240, 1754)\n" +
				"valid image tokens: 921\n" +
				"output texts tokens (valid): 388\n" +
				"compression ratio: 0.42\n" +
				"Recognized paragraph text",
			want: "Recognized paragraph text",
		},
		{
			name:   "ansi escapes stripped",
			stdout: "\x1b[32mgreen recognized text\x1b[0m",
			want:   "green recognized text",
		},
		{
			name:   "first fenced block wins",
			stdout: "preamble\n```markdown\n# Title\nBody text\n```\ntrailer\n```\nsecond\n```",
			want:   "# Title\nBody text",
		},
		{
			name:   "plain text kept",
			stdout: "  Shape: circle with label  ",
			want:   "Shape: circle with label",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanStdout(tt.stdout))
		})
	}
}

func TestStdoutStrategySource(t *testing.T) {
	result, err := NewWithStrategies(StdoutStrategy).Extract(models.RawRun{Stdout: "[INFO] x\nHello OCR world"})
	require.NoError(t, err)
	assert.Equal(t, models.SourceStdout, result.Source)
	assert.Equal(t, []string{"Hello OCR world"}, result.Lines)
}
