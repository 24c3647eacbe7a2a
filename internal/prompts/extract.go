package prompts

import (
	"regexp"
	"strings"
)

var (
	jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	tagRes      = map[string]*regexp.Regexp{}
)

// The map is filled at init and read-only afterwards; unknown tags compile
// on the fly.
func tagRe(tag string) *regexp.Regexp {
	if re, ok := tagRes[tag]; ok {
		return re
	}
	return regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
}

func init() {
	for _, tag := range []string{
		"response_file", "blog", "readme", "classify",
		"documentation_structure", "thinking", "project_analysis",
	} {
		tagRes[tag] = regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
	}
}

// Extract pulls the payload out of model output: named wrapper first, then a
// fenced json block, then the raw text. Raw fallback is not an error.
func Extract(output, tag string) string {
	if m := tagRe(tag).FindStringSubmatch(output); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := jsonFenceRe.FindStringSubmatch(output); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(output)
}

// ExtractTag returns only the named wrapper's payload, or "" when absent.
func ExtractTag(output, tag string) string {
	if m := tagRe(tag).FindStringSubmatch(output); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// StripTag removes every <tag>…</tag> block.
func StripTag(output, tag string) string {
	return strings.TrimSpace(tagRe(tag).ReplaceAllString(output, ""))
}

// ExtractResponseFile pulls a filtered tree from a CodeDirSimplifier answer.
func ExtractResponseFile(output string) string { return Extract(output, "response_file") }

// ExtractBlog pulls generated document content.
func ExtractBlog(output string) string { return Extract(output, "blog") }

// ExtractReadme pulls synthesized README text.
func ExtractReadme(output string) string { return Extract(output, "readme") }

// ExtractDocumentationStructure pulls the catalogue JSON.
func ExtractDocumentationStructure(output string) string {
	return Extract(output, "documentation_structure")
}

var classifyRe = regexp.MustCompile(`(?s)<classify>\s*classifyName\s*:\s*(.*?)\s*</classify>`)

// ExtractClassify pulls the classification token from
// <classify>classifyName:VALUE</classify>, or "" when absent.
func ExtractClassify(output string) string {
	if m := classifyRe.FindStringSubmatch(output); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// StripThinking removes chain-of-thought blocks from mind map output.
func StripThinking(output string) string { return StripTag(output, "thinking") }

// StripProjectAnalysis removes the scratch analysis block from overview
// output.
func StripProjectAnalysis(output string) string { return StripTag(output, "project_analysis") }
