// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	multipartFiveDigitRe = regexp.MustCompile(`(\d{5})-of-(\d{5})`)
	multipartPartOfRe    = regexp.MustCompile(`part(\d+)of(\d+)`)
)

// ParseMultipartFilename reports whether filename matches one of the two
// recognized multi-part conventions, returning (current, total). total must
// exceed 1 and current must not exceed total, or the file is treated as a
// single-part artifact.
func ParseMultipartFilename(filename string) (current, total int, ok bool) {
	if m := multipartFiveDigitRe.FindStringSubmatch(filename); m != nil {
		cur, errC := strconv.Atoi(m[1])
		tot, errT := strconv.Atoi(m[2])
		if errC == nil && errT == nil && tot > 1 && cur <= tot {
			return cur, tot, true
		}
	}
	if m := multipartPartOfRe.FindStringSubmatch(filename); m != nil {
		cur, errC := strconv.Atoi(m[1])
		tot, errT := strconv.Atoi(m[2])
		if errC == nil && errT == nil && tot > 1 && cur <= tot {
			return cur, tot, true
		}
	}
	return 0, 0, false
}

// GetMultipartBaseName strips the multi-part index segment from filename so
// that all parts of the same logical artifact share one base name.
//
//	"model-Q6_K-00003-of-00009.gguf" -> "model-Q6_K.gguf"
//	"model.Q4_K_M.gguf.part1of2"     -> "model.Q4_K_M.gguf"
func GetMultipartBaseName(filename string) string {
	if pos := strings.LastIndex(filename, "-of-"); pos >= 0 {
		if partStart := strings.LastIndex(filename[:pos], "-"); partStart >= 0 {
			partNum := filename[partStart+1 : pos]
			if len(partNum) == 5 && isAllDigits(partNum) {
				ext := ""
				if extPos := strings.LastIndex(filename, ".gguf"); extPos >= 0 {
					ext = filename[extPos:]
				}
				return filename[:partStart] + ext
			}
		}
	}

	if pos := strings.LastIndex(filename, ".part"); pos >= 0 {
		suffix := filename[pos+5:]
		if ofPos := strings.Index(suffix, "of"); ofPos >= 0 {
			partNum := suffix[:ofPos]
			totalNum := suffix[ofPos+2:]
			if isAllDigits(partNum) && isAllDigits(totalNum) {
				return filename[:pos]
			}
		}
	}

	return filename
}

// IsQuantizationDirectory reports whether dirname canonicalizes to a
// recognized quantization code, either directly or via its trailing
// hyphen-delimited token.
func IsQuantizationDirectory(dirname string) bool {
	upper := strings.ToUpper(dirname)
	if strings.HasPrefix(upper, "Q") || strings.HasPrefix(upper, "IQ") || strings.HasPrefix(upper, "BF16") || strings.HasPrefix(upper, "FP16") {
		return true
	}
	parts := strings.Split(upper, "-")
	last := parts[len(parts)-1]
	if strings.HasPrefix(last, "Q") && len(last) > 1 && isDigit(last[1]) {
		return true
	}
	if strings.HasPrefix(last, "IQ") && len(last) > 2 && isDigit(last[2]) {
		return true
	}
	if last == "BF16" || last == "FP16" || last == "FP32" {
		return true
	}
	return false
}

// ExtractQuantizationTypeFromDirname mirrors IsQuantizationDirectory's
// recognition rules, returning the canonical upper-case code.
func ExtractQuantizationTypeFromDirname(dirname string) string {
	upper := strings.ToUpper(dirname)
	if strings.HasPrefix(upper, "Q") || strings.HasPrefix(upper, "IQ") || strings.HasPrefix(upper, "BF16") || strings.HasPrefix(upper, "FP16") {
		return upper
	}
	parts := strings.Split(upper, "-")
	last := parts[len(parts)-1]
	if strings.HasPrefix(last, "Q") || strings.HasPrefix(last, "IQ") || last == "BF16" || last == "FP16" || last == "FP32" {
		return last
	}
	return upper
}

// ExtractQuantizationType extracts the canonical quantization code from a
// GGUF filename (optionally multi-part), or "" if none is recognized.
func ExtractQuantizationType(filename string) string {
	name := filename

	// Strip a .partNofM suffix before stripping the extension.
	if pos := strings.LastIndex(name, ".part"); pos >= 0 {
		suffix := name[pos+5:]
		if ofPos := strings.Index(suffix, "of"); ofPos >= 0 {
			partNum := suffix[:ofPos]
			if isAllDigits(partNum) {
				name = name[:pos]
			}
		}
	}

	name = strings.TrimSuffix(name, ".gguf")

	// Strip a "-NNNNN-of-MMMMM" multi-part segment.
	if pos := strings.LastIndex(name, "-of-"); pos >= 0 {
		if partStart := strings.LastIndex(name[:pos], "-"); partStart >= 0 {
			partNum := name[partStart+1 : pos]
			if len(partNum) == 5 && isAllDigits(partNum) {
				name = name[:partStart]
			}
		}
	}

	if dot := strings.Split(name, "."); len(dot) > 1 {
		last := dot[len(dot)-1]
		if isQuantType(last) {
			return strings.ToUpper(last)
		}
	}

	parts := strings.Split(name, "-")
	for i := len(parts) - 1; i >= 0; i-- {
		part := parts[i]
		if isQuantType(part) {
			return strings.ToUpper(part)
		}
		if strings.Contains(part, "_") {
			sub := strings.SplitN(part, "_", 2)
			if isQuantType(sub[0]) {
				return strings.ToUpper(sub[0])
			}
		}
	}

	return ""
}

// isQuantType checks whether s (any case) looks like a recognized
// quantization code: Q<digit>…, IQ<digit>…, MXFP<digit> (undecorated), or
// one of the exact literals BF16/FP16/FP32.
func isQuantType(s string) bool {
	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "Q") && len(upper) > 1 && isDigit(upper[1]) {
		return true
	}
	if strings.HasPrefix(upper, "IQ") && len(upper) > 2 && isDigit(upper[2]) {
		return true
	}
	if strings.HasPrefix(upper, "MXFP") && len(upper) > 4 && isDigit(upper[4]) {
		if !strings.Contains(upper, "_") || (len(upper) == 6 && upper[5] == '_') {
			return true
		}
	}
	if upper == "BF16" || upper == "FP16" || upper == "FP32" {
		return true
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
