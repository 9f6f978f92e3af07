package extract

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/foxxcyber/dococr/internal/models"
)

// artifactExtensions lists result file types, most preferred first
var artifactExtensions = []string{".mmd", ".txt", ".md", ".json"}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
	".gif": true, ".webp": true, ".tif": true, ".tiff": true,
}

// ArtifactStrategy reads result files from the run's artifact directory
func ArtifactStrategy(run models.RawRun) (Candidate, bool) {
	if run.ArtifactDir == "" {
		return Candidate{}, false
	}

	for _, path := range ArtifactFiles(run.ArtifactDir) {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		text := artifactText(path, data)
		if !Usable(text) {
			continue
		}
		return Candidate{Text: text, Source: models.SourceArtifact, Path: path}, true
	}
	return Candidate{}, false
}

// ArtifactFiles lists candidate result files under dir, grouped by
// extension priority and sorted by path within a group
func ArtifactFiles(dir string) []string {
	groups := make(map[string][]string, len(artifactExtensions))

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are skipped, not fatal
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if !isArtifactExt(ext) {
			return nil
		}
		stem := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		if imageExtensions[strings.ToLower(filepath.Ext(stem))] {
			return nil
		}
		groups[ext] = append(groups[ext], path)
		return nil
	})

	var files []string
	for _, ext := range artifactExtensions {
		paths := groups[ext]
		sort.Strings(paths)
		files = append(files, paths...)
	}
	return files
}

func isArtifactExt(ext string) bool {
	for _, e := range artifactExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func artifactText(path string, data []byte) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if text, ok := jsonText(data); ok {
			return text
		}
	}
	return cleanRaw(string(data))
}

// jsonText pulls the text field out of a JSON artifact. ok is false when
// the data is not valid JSON.
func jsonText(data []byte) (string, bool) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return "", false
	}

	switch val := v.(type) {
	case map[string]interface{}:
		for _, key := range []string{"text", "content"} {
			if s, ok := val[key].(string); ok && strings.TrimSpace(s) != "" {
				return cleanRaw(s), true
			}
		}
	case []interface{}:
		if len(val) > 0 {
			return cleanRaw(stringify(val[0])), true
		}
		return "", true
	case string:
		return cleanRaw(val), true
	}

	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", true
	}
	return string(pretty), true
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// cleanRaw trims whitespace and one layer of surrounding quotes
func cleanRaw(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}
