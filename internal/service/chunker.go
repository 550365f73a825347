package service

import (
	"path"
	"regexp"
	"strings"
)

// Chunk strategies.
const (
	StrategyWindow  = "window"
	StrategySymbols = "symbols"
)

// ChunkerOptions configures the chunker. Zero values fall back to an 80 line
// window with 20 lines of overlap.
type ChunkerOptions struct {
	Window   int
	Overlap  int
	Strategy string
}

// Span is one chunk of a file before it is tied to a repository.
type Span struct {
	StartLine int
	EndLine   int
	Content   string
}

// Chunker splits file text into line-ranged spans.
type Chunker struct {
	window   int
	overlap  int
	strategy string
}

// NewChunker creates a chunker. Overlap is clamped into [0, window).
func NewChunker(opts ChunkerOptions) *Chunker {
	if opts.Window <= 0 {
		opts.Window = 80
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Window {
		opts.Overlap = 0
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyWindow
	}
	return &Chunker{window: opts.Window, overlap: opts.Overlap, strategy: opts.Strategy}
}

// Chunk returns the spans of one file in line order. The result depends only
// on the inputs.
func (c *Chunker) Chunk(filePath, content string) []Span {
	lines := splitLines(content)
	if len(lines) == 0 {
		return nil
	}
	if c.strategy == StrategySymbols && detectLanguage(filePath) == "python" {
		if spans := pythonSymbolSpans(lines, c.window, c.overlap); len(spans) > 0 {
			return spans
		}
	}
	return windowSpans(lines, c.window, c.overlap)
}

// splitLines splits on \n. A single trailing newline does not add an empty
// final line, and empty content has no lines.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

// windowSpans emits [i*stride+1, min(i*stride+w, n)] for i = 0, 1, ... and
// stops after the first span that reaches line n.
func windowSpans(lines []string, w, o int) []Span {
	n := len(lines)
	stride := w - o
	var spans []Span
	for i := 0; i*stride < n; i++ {
		start := i * stride
		end := min(start+w, n)
		spans = append(spans, Span{
			StartLine: start + 1,
			EndLine:   end,
			Content:   strings.Join(lines[start:end], "\n"),
		})
		if end == n {
			break
		}
	}
	return spans
}

var pyDefRe = regexp.MustCompile(`^([ \t]*)(async[ \t]+def|def|class)[ \t]+[A-Za-z_][A-Za-z0-9_]*`)

// pythonSymbolSpans returns one span per top-level def, async def or class
// block and window spans over the module-level code between blocks, so
// every non-blank line lands in some span. Nested definitions stay inside
// their enclosing block. Blocks longer than w lines are windowed too. It
// returns nil when the file defines nothing.
func pythonSymbolSpans(lines []string, w, o int) []Span {
	var spans []Span
	next, found := 0, false
	for i, line := range lines {
		if i < next {
			continue
		}
		m := pyDefRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		end := pythonBlockEnd(lines, i, len(m[1]))
		spans = append(spans, rangeSpans(lines, next, i, w, o)...)
		spans = append(spans, rangeSpans(lines, i, end+1, w, o)...)
		next, found = end+1, true
	}
	if !found {
		return nil
	}
	return append(spans, rangeSpans(lines, next, len(lines), w, o)...)
}

// pythonBlockEnd returns the last line of the block whose header starts at
// line i. A block runs from its header over every following line that is
// blank or indented deeper than the header, minus trailing blank lines.
func pythonBlockEnd(lines []string, i, indent int) int {
	// Headers may span lines until their brackets close.
	headerEnd := i
	depth := bracketDelta(lines[i])
	for depth > 0 && headerEnd+1 < len(lines) {
		headerEnd++
		depth += bracketDelta(lines[headerEnd])
	}

	end := headerEnd
	for j := headerEnd + 1; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) == "" {
			continue
		}
		if indentOf(lines[j]) <= indent {
			break
		}
		end = j
	}
	return end
}

// rangeSpans windows lines[from:to] with file line numbers. Blank lines at
// either end are dropped; an all-blank range yields nothing.
func rangeSpans(lines []string, from, to, w, o int) []Span {
	for from < to && strings.TrimSpace(lines[from]) == "" {
		from++
	}
	for to > from && strings.TrimSpace(lines[to-1]) == "" {
		to--
	}
	if from == to {
		return nil
	}
	spans := windowSpans(lines[from:to], w, o)
	for i := range spans {
		spans[i].StartLine += from
		spans[i].EndLine += from
	}
	return spans
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

func bracketDelta(line string) int {
	d := 0
	for _, r := range line {
		switch r {
		case '(', '[', '{':
			d++
		case ')', ']', '}':
			d--
		}
	}
	return d
}

var extLanguage = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".go":    "go",
	".rs":    "rust",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".cs":    "csharp",
	".sql":   "sql",
	".sh":    "shell",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".md":    "markdown",
	".rst":   "restructuredtext",
	".html":  "html",
	".css":   "css",
	".txt":   "text",
}

// detectLanguage infers the language from the file extension.
func detectLanguage(filePath string) string {
	if lang, ok := extLanguage[strings.ToLower(path.Ext(filePath))]; ok {
		return lang
	}
	return "unknown"
}
