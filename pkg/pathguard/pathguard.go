// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package pathguard resolves (base, model ID, filename) tuples to on-disk
// paths that are guaranteed to stay under the base directory, even when the
// model ID or filename are attacker- or server-influenced strings.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidModelID is returned when the model_id does not split into
// exactly two non-empty, traversal-free path components.
var ErrInvalidModelID = errors.New("pathguard: invalid model id")

// ErrPathTraversal is returned when the composed path would resolve outside
// the canonical base directory.
var ErrPathTraversal = errors.New("pathguard: path traversal detected")

// Sanitize validates and composes base/author/model/filename-components,
// rejecting any input that would let the result escape base.
func Sanitize(base, modelID, filename string) (string, error) {
	canonicalBase, err := canonicalizeBase(base)
	if err != nil {
		return "", fmt.Errorf("pathguard: %w", err)
	}

	modelParts := strings.Split(modelID, "/")
	if len(modelParts) != 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidModelID, modelID)
	}
	author, ok := sanitizeComponent(modelParts[0])
	if !ok {
		return "", fmt.Errorf("%w: author %q", ErrInvalidModelID, modelParts[0])
	}
	model, ok := sanitizeComponent(modelParts[1])
	if !ok {
		return "", fmt.Errorf("%w: model %q", ErrInvalidModelID, modelParts[1])
	}

	filenameParts := strings.Split(filename, "/")
	sanitizedParts := make([]string, 0, len(filenameParts))
	for _, part := range filenameParts {
		s, ok := sanitizeComponent(part)
		if !ok {
			return "", fmt.Errorf("%w: filename component %q", ErrPathTraversal, part)
		}
		sanitizedParts = append(sanitizedParts, s)
	}

	finalPath := filepath.Join(append([]string{canonicalBase, author, model}, sanitizedParts...)...)

	if err := checkContainment(finalPath, canonicalBase); err != nil {
		return "", err
	}

	return finalPath, nil
}

// sanitizeComponent mirrors the reference implementation's
// sanitize_path_component: reject empty, ".", "..", and components carrying
// a slash, backslash, or NUL; trim surrounding whitespace and dots.
func sanitizeComponent(component string) (string, bool) {
	if component == "" || component == "." || component == ".." ||
		strings.ContainsAny(component, "/\\\x00") {
		return "", false
	}
	trimmed := strings.Trim(component, " \t\r\n")
	trimmed = strings.Trim(trimmed, ".")
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

func canonicalizeBase(base string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("empty base path")
	}
	if _, err := os.Stat(base); err == nil {
		abs, err := filepath.Abs(base)
		if err != nil {
			return "", fmt.Errorf("invalid base path: %w", err)
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return "", fmt.Errorf("invalid base path: %w", err)
		}
		return real, nil
	}
	if filepath.IsAbs(base) {
		return filepath.Clean(base), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cannot determine current directory: %w", err)
	}
	return filepath.Join(cwd, base), nil
}

// checkContainment walks up from finalPath to the first existing ancestor at
// or below base and confirms it (and the final path itself, if it already
// exists) resolves under base. Non-existent components cannot escape via
// symlinks, so it is enough to check the nearest existing ancestor; when
// base itself does not exist yet there is nothing to check.
func checkContainment(finalPath, base string) error {
	if real, err := filepath.EvalSymlinks(finalPath); err == nil {
		if !isWithin(real, base) {
			return ErrPathTraversal
		}
		return nil
	}

	check := finalPath
	for {
		parent := filepath.Dir(check)
		if parent == check || !isWithin(parent, base) {
			break
		}
		if _, err := os.Stat(parent); err == nil {
			real, err := filepath.EvalSymlinks(parent)
			if err == nil && !isWithin(real, base) {
				return ErrPathTraversal
			}
			break
		}
		check = parent
	}
	return nil
}

func isWithin(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}
