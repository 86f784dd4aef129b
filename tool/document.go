package tool

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/meshkit-ai/meshkit/core"
)

type extractDocumentArgs struct {
	URL      string `json:"url,omitempty" description:"HTTP(S) URL of the document to extract"`
	Title    string `json:"title,omitempty" description:"Title of an attachment on the current request to extract instead of a URL"`
	Query    string `json:"query,omitempty" description:"Optional question; when set, only the most relevant passages are returned instead of the full text"`
	MaxChars *int   `json:"max_chars,omitempty" description:"Truncate the extracted text to this many characters"`
}

const defaultExtractLimit = 20000

// documentClient is the HTTP client used for URL extraction. Bounded so a
// stalled remote cannot hang a reasoning step.
var documentClient = &http.Client{Timeout: 30 * time.Second}

// NewDocumentExtractor returns a tool that fetches a document by URL or
// reads an inline attachment from the originating request and returns its
// plain text content. Only text-like content types are accepted. With a
// query, the result narrows to the passages most relevant to it.
func NewDocumentExtractor() *FunctionTool {
	return NewFunctionToolFromStruct(
		"extract_document",
		"Extract the plain text content of a document given its URL or the title of a request attachment.",
		extractDocumentArgs{},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			url, _ := args["url"].(string)
			title, _ := args["title"].(string)
			query, _ := args["query"].(string)

			limit := defaultExtractLimit
			if mc, ok := args["max_chars"].(float64); ok && int(mc) > 0 {
				limit = int(mc)
			}

			var (
				result any
				err    error
			)
			switch {
			case url != "":
				result, err = extractFromURL(toolCtx, url, limit)
			case title != "":
				result, err = extractFromAttachment(toolCtx, title, limit)
			default:
				return nil, NewToolError("extract_document", "either url or title must be provided", CodeInvalidArguments)
			}
			if err != nil {
				return nil, err
			}

			if query != "" {
				out := result.(map[string]any)
				content, _ := out["content"].(string)
				out["content"] = relevantPassages(content, query, maxQueryPassages)
				out["query"] = query
			}

			return result, nil
		},
	)
}

func extractFromURL(toolCtx *core.ToolContext, url string, limit int) (any, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, NewToolError("extract_document", fmt.Sprintf("unsupported url scheme in %q", url), CodeInvalidArguments)
	}

	req, err := http.NewRequestWithContext(toolCtx.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, NewToolError("extract_document", err.Error(), CodeInvalidArguments)
	}

	resp, err := documentClient.Do(req)
	if err != nil {
		return nil, NewToolError("extract_document", err.Error(), CodeTransportFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewToolError("extract_document", fmt.Sprintf("fetching %q returned status %d", url, resp.StatusCode), CodeExecutionError)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isTextual(contentType) {
		return nil, NewToolError("extract_document", fmt.Sprintf("unsupported content type %q", contentType), CodeExecutionError)
	}

	// Read one byte beyond the limit so truncation is detectable.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		return nil, NewToolError("extract_document", err.Error(), CodeTransportFailure)
	}

	text, truncated := clampText(string(body), limit)

	toolCtx.Logger().Info("tool.extract_document.success", "url", url, "chars", len(text), "truncated", truncated)

	return map[string]any{
		"source":    url,
		"content":   text,
		"truncated": truncated,
	}, nil
}

func extractFromAttachment(toolCtx *core.ToolContext, title string, limit int) (any, error) {
	req := toolCtx.Request()
	if req == nil {
		return nil, NewToolError("extract_document", "no request available for attachment lookup", CodeExecutionError)
	}

	for _, msg := range req.Messages {
		for _, att := range msg.Attachments {
			if att.Title != title {
				continue
			}
			if att.URL != "" {
				return extractFromURL(toolCtx, att.URL, limit)
			}
			raw, err := base64.StdEncoding.DecodeString(att.Data)
			if err != nil {
				return nil, NewToolError("extract_document", fmt.Sprintf("attachment %q holds invalid base64 data", title), CodeExecutionError)
			}
			if !utf8.Valid(raw) {
				return nil, NewToolError("extract_document", fmt.Sprintf("attachment %q is not text", title), CodeExecutionError)
			}

			text, truncated := clampText(string(raw), limit)

			return map[string]any{
				"source":    "attachment:" + title,
				"content":   text,
				"truncated": truncated,
			}, nil
		}
	}

	return nil, NewToolError("extract_document", fmt.Sprintf("no attachment titled %q on the request", title), CodeExecutionError)
}

func clampText(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	clipped := s[:limit]
	// Back off a partial rune at the cut point.
	for len(clipped) > 0 && !utf8.ValidString(clipped) {
		clipped = clipped[:len(clipped)-1]
	}
	return clipped, true
}

const maxQueryPassages = 5

// relevantPassages splits extracted text into paragraph passages and returns
// the top ones ranked by keyword overlap with the query. Ties keep document
// order so adjacent context survives.
func relevantPassages(content, query string, top int) string {
	passages := splitPassages(content)
	if len(passages) <= top {
		return content
	}

	terms := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) > 2 {
			terms[w] = true
		}
	}
	if len(terms) == 0 {
		return content
	}

	type scored struct {
		index int
		score int
	}
	ranked := make([]scored, 0, len(passages))
	for i, p := range passages {
		score := 0
		for _, w := range strings.Fields(strings.ToLower(p)) {
			w = strings.Trim(w, ".,;:!?\"'()")
			if terms[w] {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{index: i, score: score})
		}
	}
	if len(ranked) == 0 {
		return content
	}

	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })
	if len(ranked) > top {
		ranked = ranked[:top]
	}
	sort.Slice(ranked, func(a, b int) bool { return ranked[a].index < ranked[b].index })

	picked := make([]string, len(ranked))
	for i, r := range ranked {
		picked[i] = passages[r.index]
	}
	return strings.Join(picked, "\n\n")
}

func splitPassages(content string) []string {
	var passages []string
	for _, block := range strings.Split(content, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			passages = append(passages, block)
		}
	}
	return passages
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "text/"):
		return true
	case strings.Contains(ct, "json"), strings.Contains(ct, "xml"),
		strings.Contains(ct, "html"), strings.Contains(ct, "markdown"),
		strings.Contains(ct, "csv"):
		return true
	default:
		return false
	}
}
