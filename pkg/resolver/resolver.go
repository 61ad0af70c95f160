// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package resolver translates a model identifier into an ordered list of
// quantization groups by fetching the repository tree and classifying each
// entry's filename or directory name.
package resolver

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hfpull/hfpull/pkg/hfengine"
)

// QuantizationInfo represents one downloadable file.
type QuantizationInfo struct {
	QuantType string
	Filename  string
	Size      int64
	SHA256    string
}

// QuantizationGroup is a logical artifact, possibly split across several
// files, all sharing one canonical quantization code.
type QuantizationGroup struct {
	QuantType string
	Files     []QuantizationInfo
	TotalSize int64
}

// TreeFetcher is the subset of *hfengine.Client the resolver depends on,
// narrowed for testability with a fake.
type TreeFetcher interface {
	FetchTree(ctx context.Context, modelID, path string) ([]hfengine.ModelFile, error)
}

func isGGUFFile(f hfengine.ModelFile) bool {
	return f.Type == "file" && (strings.HasSuffix(f.Path, ".gguf") || strings.Contains(f.Path, ".gguf.part"))
}

func sha256Of(f hfengine.ModelFile) string {
	if f.LFS != nil {
		return f.LFS.OID
	}
	return ""
}

// Resolve fetches modelID's root tree and returns quantization groups
// sorted by total size descending.
func Resolve(ctx context.Context, client TreeFetcher, modelID string) ([]QuantizationGroup, error) {
	root, err := client.FetchTree(ctx, modelID, "")
	if err != nil {
		return nil, err
	}

	var groups []QuantizationGroup
	multipart := map[string][]hfengine.ModelFile{}

	var quantDirs []hfengine.ModelFile
	for _, f := range root {
		switch {
		case isGGUFFile(f):
			if _, _, ok := ParseMultipartFilename(f.Path); ok {
				base := GetMultipartBaseName(f.Path)
				multipart[base] = append(multipart[base], f)
			} else if qt := ExtractQuantizationType(f.Path); qt != "" {
				groups = append(groups, QuantizationGroup{
					QuantType: qt,
					Files: []QuantizationInfo{{
						QuantType: qt,
						Filename:  f.Path,
						Size:      f.Size,
						SHA256:    sha256Of(f),
					}},
					TotalSize: f.Size,
				})
			}
		case f.Type == "directory" && IsQuantizationDirectory(f.Path):
			quantDirs = append(quantDirs, f)
		}
	}

	if len(quantDirs) > 0 {
		dirGroups, err := resolveQuantDirs(ctx, client, modelID, quantDirs)
		if err != nil {
			return nil, err
		}
		groups = append(groups, dirGroups...)
	}

	for base, parts := range multipart {
		qt := ExtractQuantizationType(base)
		if qt == "" {
			continue
		}
		var total int64
		infos := make([]QuantizationInfo, 0, len(parts))
		for _, p := range parts {
			total += p.Size
			infos = append(infos, QuantizationInfo{
				QuantType: qt,
				Filename:  p.Path,
				Size:      p.Size,
				SHA256:    sha256Of(p),
			})
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Filename < infos[j].Filename })
		groups = append(groups, QuantizationGroup{QuantType: qt, Files: infos, TotalSize: total})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].TotalSize > groups[j].TotalSize })
	return groups, nil
}

// resolveQuantDirs fetches each quantization subdirectory concurrently
// (bounded via errgroup) and builds one group per directory whose Files are
// every GGUF file in it, with the code taken from the directory name.
func resolveQuantDirs(ctx context.Context, client TreeFetcher, modelID string, dirs []hfengine.ModelFile) ([]QuantizationGroup, error) {
	results := make([]*QuantizationGroup, len(dirs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, dir := range dirs {
		i, dir := i, dir
		g.Go(func() error {
			files, err := client.FetchTree(gctx, modelID, dir.Path)
			if err != nil {
				// A single unreadable subdirectory should not fail the
				// whole resolve; skip it, matching the reference
				// implementation's best-effort subdir fetch.
				return nil
			}
			qt := ExtractQuantizationTypeFromDirname(dir.Path)
			var total int64
			var infos []QuantizationInfo
			for _, f := range files {
				if !isGGUFFile(f) {
					continue
				}
				total += f.Size
				infos = append(infos, QuantizationInfo{QuantType: qt, Filename: f.Path, Size: f.Size, SHA256: sha256Of(f)})
			}
			if total == 0 {
				return nil
			}
			grp := &QuantizationGroup{
				QuantType: qt,
				Files:     infos,
				TotalSize: total,
			}
			mu.Lock()
			results[i] = grp
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]QuantizationGroup, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}
