package ziya

import (
	"context"
	"log/slog"
	"strings"
)

// CodebasePreamble introduces the codebase section of a system prompt. The
// splitter locates the section by this marker.
const CodebasePreamble = "Below is the current codebase of the user:"

// Template example regions are rendering artifacts, never real files; the
// parser skips them entirely.
const (
	templateExampleStart = "<!-- TEMPLATE EXAMPLE START -->"
	templateExampleEnd   = "<!-- TEMPLATE EXAMPLE END -->"
)

// filePrefix delimits per-file chunks inside the codebase section.
const filePrefix = "File: "

// MinStableSize is the minimum stable-content size, in bytes, for a split to
// be worth a provider-side cache boundary. Smaller stable parts return an
// empty split and the caller falls back to an unsplit system message.
const MinStableSize = 5000

// ContextSplitter partitions a system prompt's codebase section into stable
// and dynamic parts, consulting the file state oracle for per-file change
// status. It never hashes file contents itself.
type ContextSplitter struct {
	oracle FileStateOracle
	cache  *PromptCache // optional, for split statistics
	logger *slog.Logger
}

// NewContextSplitter creates a splitter over the given oracle. cache may be
// nil.
func NewContextSplitter(oracle FileStateOracle, cache *PromptCache, logger *slog.Logger) *ContextSplitter {
	if logger == nil {
		logger = NopLogger()
	}
	return &ContextSplitter{oracle: oracle, cache: cache, logger: logger}
}

// Split partitions the codebase section of fullPrompt by per-file change
// status. Files unchanged since the last context submission become stable
// content, all others dynamic, both preserving original file order. When the
// prompt has no codebase section, or the stable part comes out below
// MinStableSize, Split returns an empty split.
func (s *ContextSplitter) Split(ctx context.Context, conversationID, fullPrompt string, filePaths []string) ContextSplit {
	start := strings.Index(fullPrompt, CodebasePreamble)
	if start == -1 {
		s.logger.Debug("no codebase section, split disabled", "conversation", conversationID)
		return ContextSplit{DynamicContent: fullPrompt, DynamicFiles: filePaths}
	}

	sections, header := parseFileSections(fullPrompt[start:])

	var split ContextSplit
	var stable, dynamic strings.Builder
	// Change-summary prefaces are volatile by nature; they ride with the
	// dynamic part so the stable prefix stays byte-stable across turns.
	dynamic.WriteString(header)
	for _, sec := range sections {
		if s.oracle.ChangedSinceLastSubmission(ctx, conversationID, sec.path) {
			dynamic.WriteString(sec.content)
			split.DynamicFiles = append(split.DynamicFiles, sec.path)
		} else {
			stable.WriteString(sec.content)
			split.StableFiles = append(split.StableFiles, sec.path)
		}
	}
	split.StableContent = stable.String()
	split.DynamicContent = dynamic.String()

	if len(split.StableContent) < MinStableSize {
		s.logger.Debug("stable part below cache threshold",
			"conversation", conversationID, "stable_bytes", len(split.StableContent))
		return ContextSplit{}
	}

	s.logger.Info("context split",
		"conversation", conversationID,
		"stable_files", len(split.StableFiles),
		"dynamic_files", len(split.DynamicFiles))
	if s.cache != nil {
		s.cache.RecordSplit()
	}
	return split
}

type fileSection struct {
	path    string
	content string
}

// parseFileSections splits the codebase section into per-file chunks using
// the "File: <path>" delimiter. Lines inside template example regions are
// dropped before parsing. header collects the lines between the preamble and
// the first file chunk (change summaries and the like).
func parseFileSections(codebase string) (sections []fileSection, header string) {
	lines := strings.Split(codebase, "\n")

	var head strings.Builder
	var current *fileSection
	inTemplate := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == templateExampleStart {
			inTemplate = true
			continue
		}
		if trimmed == templateExampleEnd {
			inTemplate = false
			continue
		}
		if inTemplate {
			continue
		}
		if strings.HasPrefix(line, filePrefix) {
			if current != nil {
				sections = append(sections, *current)
			}
			current = &fileSection{path: strings.TrimSpace(strings.TrimPrefix(line, filePrefix))}
		}
		if current != nil {
			current.content += line + "\n"
		} else if i > 0 && trimmed != "" {
			// Skip the preamble line itself (i == 0); keep summaries.
			head.WriteString(line + "\n")
		}
	}
	if current != nil {
		sections = append(sections, *current)
	}
	return sections, head.String()
}
