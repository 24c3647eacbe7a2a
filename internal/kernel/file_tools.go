package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/YickelFuboo/OpenDeepWiki/internal/config"
	"github.com/YickelFuboo/OpenDeepWiki/internal/scanner"
)

// maxReadBytes caps whole-file reads; a file of exactly this size is still
// returned, one byte more is not.
const maxReadBytes = 100 << 10

// lineTruncateAt caps one line of ranged output. Longer lines are cut, not
// wrapped.
const lineTruncateAt = 2000

const tooLargeMessage = "File too large: use the File tool with offset and limit to read line ranges"

// fileToolset serves the filesystem tools, scoped to one working tree.
type fileToolset struct {
	workdir  string
	format   config.CatalogueFormat
	compress bool
}

// resolve maps a repository-relative path onto the working tree, refusing
// escapes.
func (f *fileToolset) resolve(path string) (string, bool) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(f.workdir, cleaned), true
}

// tree renders the scanned working tree in the configured catalogue format.
func (f *fileToolset) tree(context.Context, *DocumentContext, json.RawMessage) string {
	paths, err := scanner.Scan(f.workdir)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	root := scanner.BuildTree(paths, filepath.Base(f.workdir))
	switch f.format {
	case config.FormatJSON:
		out, err := scanner.JSON(root)
		if err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return out
	case config.FormatPathList:
		return scanner.PathList(root)
	default:
		return scanner.Compact(root)
	}
}

type fileInfo struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
	LineCount int    `json:"line_count"`
}

// info reports name, byte length, extension and line count for a
// deduplicated batch of paths.
func (f *fileToolset) info(_ context.Context, dc *DocumentContext, args json.RawMessage) string {
	var req struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	out := map[string]any{}
	seen := map[string]bool{}
	for _, p := range req.Paths {
		if seen[p] {
			continue
		}
		seen[p] = true

		abs, ok := f.resolve(p)
		if !ok {
			out[p] = "File not found"
			continue
		}
		st, err := os.Stat(abs)
		if err != nil || st.IsDir() {
			out[p] = "File not found"
			continue
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			out[p] = "File not found"
			continue
		}
		dc.RecordFile(p)
		out[p] = fileInfo{
			Name:      filepath.Base(abs),
			Size:      st.Size(),
			Extension: filepath.Ext(abs),
			LineCount: strings.Count(string(data), "\n") + 1,
		}
	}
	return marshalResult(out)
}

// readBatch returns path→content for a batch of files, applying the same
// size rules as the single-file reader.
func (f *fileToolset) readBatch(_ context.Context, dc *DocumentContext, args json.RawMessage) string {
	var req struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	out := map[string]string{}
	seen := map[string]bool{}
	for _, p := range req.Paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out[p] = f.readWhole(p, dc)
	}
	return marshalResult(out)
}

// readSingle is ReadFile for one path.
func (f *fileToolset) readSingle(_ context.Context, dc *DocumentContext, args json.RawMessage) string {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return f.readWhole(req.Path, dc)
}

// readWhole implements the shared whole-file read rules: "File not found"
// and "File too large" are string payloads, not errors.
func (f *fileToolset) readWhole(path string, dc *DocumentContext) string {
	abs, ok := f.resolve(path)
	if !ok {
		return "File not found"
	}
	st, err := os.Stat(abs)
	if err != nil || st.IsDir() {
		return "File not found"
	}
	if st.Size() > maxReadBytes {
		return tooLargeMessage
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "File not found"
	}
	dc.RecordFile(path)
	content := string(data)
	if f.compress && isCodeFile(abs) {
		content = compressCode(content)
	}
	return content
}

type readItem struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

// readRanged is the line-ranged File tool: per item, lines
// [offset, offset+limit) with 1-based absolute line prefixes, truncated per
// line. offset<0 with limit<0 reads the whole file; limit<0 reads to end.
func (f *fileToolset) readRanged(_ context.Context, dc *DocumentContext, args json.RawMessage) string {
	var req struct {
		Items []readItem `json:"items"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	type rangedResult struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	results := make([]rangedResult, 0, len(req.Items))
	for _, item := range req.Items {
		results = append(results, rangedResult{
			FilePath: item.FilePath,
			Content:  f.readLines(item, dc),
		})
	}
	return marshalResult(results)
}

func (f *fileToolset) readLines(item readItem, dc *DocumentContext) string {
	abs, ok := f.resolve(item.FilePath)
	if !ok {
		return "File not found"
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "File not found"
	}
	dc.RecordFile(item.FilePath)

	content := string(data)
	if f.compress && isCodeFile(abs) {
		content = compressCode(content)
	}
	lines := strings.Split(content, "\n")

	offset, limit := item.Offset, item.Limit
	if offset < 0 && limit < 0 {
		offset, limit = 0, len(lines)
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(lines) {
		return fmt.Sprintf("no content: offset %d is beyond the end of the file (%d lines)", offset, len(lines))
	}
	end := len(lines)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}

	var b strings.Builder
	for i := offset; i < end; i++ {
		fmt.Fprintf(&b, "%d: %s\n", i+1, truncateLine(lines[i], lineTruncateAt))
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncateLine cuts at the byte budget, backing off to a rune boundary so a
// multi-byte character is never split.
func truncateLine(line string, max int) string {
	if len(line) <= max {
		return line
	}
	for max > 0 && !utf8.RuneStart(line[max]) {
		max--
	}
	return line[:max]
}

func marshalResult(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return string(data)
}
