package extract

import (
	"regexp"
	"strings"

	"github.com/foxxcyber/dococr/internal/models"
)

var (
	ansiPattern  = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	fencePattern = regexp.MustCompile("(?s)```([^\n]*)\n(.*?)```")

	// Console noise printed by model runtimes around the recognized text
	noisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\s*\[(DEBUG|INFO|WARN|WARNING|ERROR|TRACE|FATAL|CRITICAL)[^\]]*\]`),
		regexp.MustCompile(`^\s*={3,}`),
		regexp.MustCompile(`torch\.Size\(`),
		regexp.MustCompile(`(?i)^\s*\w*\s*shape\s*[:=]\s*[(\[]`),
		regexp.MustCompile(`^\s*(BASE|PATCHES)\s*:`),
		regexp.MustCompile(`(?i)^\s*image size\s*:`),
		regexp.MustCompile(`(?i)^\s*(valid image|output texts?|image|text) tokens?\b[^:]*:`),
		regexp.MustCompile(`(?i)compression ratio\s*:`),
		regexp.MustCompile(`(?i)^\s*directly resize`),
	}
)

// StdoutStrategy recovers the text from captured console output
func StdoutStrategy(run models.RawRun) (Candidate, bool) {
	text := CleanStdout(run.Stdout)
	if text == "" {
		return Candidate{}, false
	}
	return Candidate{Text: text, Source: models.SourceStdout}, true
}

// CleanStdout strips escape codes and runtime noise. When the output holds
// a fenced block only the first block's body is kept.
func CleanStdout(stdout string) string {
	s := ansiPattern.ReplaceAllString(stdout, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	kept := make([]string, 0)
	for _, line := range strings.Split(s, "\n") {
		if isNoise(line) {
			continue
		}
		kept = append(kept, line)
	}
	s = strings.TrimSpace(strings.Join(kept, "\n"))

	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[2])
	}
	return s
}

func isNoise(line string) bool {
	for _, p := range noisePatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}
