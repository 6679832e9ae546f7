package vcs

import (
	"bytes"
	"strings"
)

// FilePatch is the patch text for one path.
type FilePatch struct {
	Path string
	Text []byte
}

var diffHeader = []byte("diff --git ")

// SplitPatch splits unified `git diff` output into per-file patches. The path
// is the post-image path, or the pre-image path for deletions.
func SplitPatch(out []byte) []FilePatch {
	var patches []FilePatch
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		text := out[start:end]
		if p := patchPath(text); p != "" {
			patches = append(patches, FilePatch{Path: p, Text: text})
		}
	}
	for off := 0; off < len(out); {
		nl := bytes.IndexByte(out[off:], '\n')
		next := len(out)
		if nl >= 0 {
			next = off + nl + 1
		}
		if bytes.HasPrefix(out[off:], diffHeader) {
			flush(off)
			start = off
		}
		off = next
	}
	flush(len(out))
	return patches
}

func patchPath(text []byte) string {
	var header, minus, plus string
	for _, line := range strings.Split(string(text), "\n") {
		switch {
		case header == "" && strings.HasPrefix(line, string(diffHeader)):
			header = strings.TrimPrefix(line, string(diffHeader))
		case strings.HasPrefix(line, "--- "):
			minus = cleanSide(strings.TrimPrefix(line, "--- "), "a/")
		case strings.HasPrefix(line, "+++ "):
			plus = cleanSide(strings.TrimPrefix(line, "+++ "), "b/")
		case strings.HasPrefix(line, "@@"):
			return pick(plus, minus, header)
		}
	}
	return pick(plus, minus, header)
}

func pick(plus, minus, header string) string {
	if plus != "" {
		return plus
	}
	if minus != "" {
		return minus
	}
	// Binary and mode-only patches carry no ---/+++ lines.
	if i := strings.LastIndex(header, " b/"); i >= 0 {
		return header[i+len(" b/"):]
	}
	return ""
}

func cleanSide(s, prefix string) string {
	s = strings.TrimRight(s, "\t\r")
	if s == "/dev/null" {
		return ""
	}
	return strings.TrimPrefix(s, prefix)
}

// CountLines counts added and deleted lines inside the hunks of a patch.
func CountLines(patch []byte) (added, deleted int) {
	inHunk := false
	for _, line := range bytes.Split(patch, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, diffHeader):
			inHunk = false
		case bytes.HasPrefix(line, []byte("@@")):
			inHunk = true
		case !inHunk || len(line) == 0:
		case line[0] == '+':
			added++
		case line[0] == '-':
			deleted++
		}
	}
	return added, deleted
}
