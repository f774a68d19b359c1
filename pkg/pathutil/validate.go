// Package pathutil provides path and name validation for repository-relative files.
package pathutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/illuvrse/operator/pkg/errclass"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateServiceName checks that a platform service name can be used as a
// log file name and state key.
func ValidateServiceName(name string) error {
	if name == "" {
		return errclass.ErrServiceUnknown.WithMessage("service name must not be empty")
	}
	name = norm.NFC.String(name)
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return errclass.ErrServiceUnknown.WithMessagef("service name must not contain path elements: %s", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errclass.ErrServiceUnknown.WithMessagef("service name must not contain control characters: %q", name)
		}
	}
	if !nameRegex.MatchString(name) {
		return errclass.ErrServiceUnknown.WithMessagef("service name must match [a-zA-Z0-9._-]+: %s", name)
	}
	return nil
}

// Normalize returns the NFC, slash-separated, cleaned form of a
// repository-relative path.
func Normalize(rel string) string {
	rel = norm.NFC.String(strings.TrimSpace(rel))
	rel = filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
	return strings.TrimPrefix(rel, "./")
}

// ResolveInRepo joins a repository-relative path onto repoRoot and verifies
// the result does not escape the root, following symlinks.
func ResolveInRepo(repoRoot, rel string) (string, error) {
	if rel == "" {
		return "", errclass.ErrPathEscape.WithMessage("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", errclass.ErrPathEscape.WithMessagef("absolute path not allowed: %s", rel)
	}
	target := filepath.Join(repoRoot, filepath.FromSlash(Normalize(rel)))
	if err := ValidatePathSafety(repoRoot, target); err != nil {
		return "", err
	}
	return target, nil
}

// ValidatePathSafety verifies target path does not escape repo root.
func ValidatePathSafety(repoRoot, targetPath string) error {
	resolvedRoot, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		return errclass.ErrPathEscape.WithMessagef("cannot resolve repo root: %v", err)
	}

	// Try resolving target; if it doesn't exist, resolve closest ancestor
	resolvedTarget, err := filepath.EvalSymlinks(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			resolvedTarget = resolveClosestAncestor(targetPath)
		} else {
			return errclass.ErrPathEscape.WithMessagef("cannot resolve target: %v", err)
		}
	}

	if !strings.HasPrefix(resolvedTarget+"/", resolvedRoot+"/") &&
		resolvedTarget != resolvedRoot {
		return errclass.ErrPathEscape.WithMessagef("path escapes repo root: %s", targetPath)
	}

	return nil
}

// resolveClosestAncestor walks up from path to find the closest existing
// ancestor, resolves it, then appends the remaining components.
func resolveClosestAncestor(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if os.IsNotExist(err) && dir != path {
			resolved = resolveClosestAncestor(dir)
		} else {
			return filepath.Clean(path)
		}
	}
	return filepath.Join(resolved, base)
}
