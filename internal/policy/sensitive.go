package policy

import (
	"regexp"

	"github.com/illuvrse/operator/pkg/pathutil"
)

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|/)\.env(\.|$)`),
	regexp.MustCompile(`(?i)(^|/)secrets/`),
	regexp.MustCompile(`(?i)credential`),
	regexp.MustCompile(`(?i)keystore`),
	regexp.MustCompile(`(?i)(^|/)keys?(/|$)`),
	regexp.MustCompile(`(?i)\.(pem|key|p12|pfx|kdb|jks)$`),
}

// IsSensitive reports whether one repository-relative path is sensitive.
func IsSensitive(path string) bool {
	p := pathutil.Normalize(path)
	if p == "" || p == "." {
		return false
	}
	for _, re := range sensitivePatterns {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// SensitiveFiles returns the subset of paths that match a sensitive
// pattern, in input order. An empty result means no gate is needed.
func SensitiveFiles(paths []string) []string {
	var out []string
	for _, p := range paths {
		if IsSensitive(p) {
			out = append(out, p)
		}
	}
	return out
}
