package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkWindowCoverage(t *testing.T) {
	c := NewChunker(ChunkerOptions{Window: 80, Overlap: 20})

	for _, n := range []int{1, 20, 79, 80, 81, 140, 141, 200, 333} {
		spans := c.Chunk("a.go", numberedLines("x", n))

		want := 1
		if n > 80 {
			want = (n - 20 + 59) / 60
		}
		require.Len(t, spans, want, "n=%d", n)

		assert.Equal(t, 1, spans[0].StartLine, "n=%d", n)
		assert.Equal(t, n, spans[len(spans)-1].EndLine, "n=%d", n)
		for i, s := range spans {
			assert.LessOrEqual(t, s.EndLine-s.StartLine+1, 80)
			assert.Equal(t, s.EndLine-s.StartLine+1, strings.Count(s.Content, "\n")+1)
			if i > 0 {
				assert.Equal(t, spans[i-1].StartLine+60, s.StartLine)
				assert.Equal(t, 20, spans[i-1].EndLine-s.StartLine+1, "overlap n=%d i=%d", n, i)
			}
		}
	}
}

func TestChunkTrailingNewline(t *testing.T) {
	c := NewChunker(ChunkerOptions{})
	spans := c.Chunk("a.py", "a = 1\nb = 2\n")
	require.Len(t, spans, 1)
	assert.Equal(t, Span{StartLine: 1, EndLine: 2, Content: "a = 1\nb = 2"}, spans[0])

	assert.Equal(t, c.Chunk("a.py", "a = 1\nb = 2"), spans)
}

func TestChunkEmpty(t *testing.T) {
	c := NewChunker(ChunkerOptions{Strategy: StrategySymbols})
	assert.Empty(t, c.Chunk("a.py", ""))
	assert.Empty(t, c.Chunk("a.go", ""))
}

func TestChunkContentMatchesLines(t *testing.T) {
	content := numberedLines("row", 150)
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")

	for _, s := range NewChunker(ChunkerOptions{Window: 50, Overlap: 10}).Chunk("f.js", content) {
		assert.Equal(t, strings.Join(lines[s.StartLine-1:s.EndLine], "\n"), s.Content)
	}
}

func TestChunkInvalidOverlap(t *testing.T) {
	spans := NewChunker(ChunkerOptions{Window: 10, Overlap: 10}).Chunk("f.go", numberedLines("x", 25))
	require.Len(t, spans, 3)
	assert.Equal(t, 11, spans[1].StartLine)
	assert.Equal(t, 21, spans[2].StartLine)
}

func TestChunkPythonSymbols(t *testing.T) {
	c := NewChunker(ChunkerOptions{Window: 80, Overlap: 20, Strategy: StrategySymbols})
	spans := c.Chunk("app/validators.py", validatorsPy)

	var ranges [][2]int
	for _, s := range spans {
		ranges = append(ranges, [2]int{s.StartLine, s.EndLine})
	}
	assert.Equal(t, [][2]int{{1, 5}, {8, 12}, {15, 18}, {21, 24}}, ranges, "nested __init__ stays inside class User")
	assert.True(t, strings.HasPrefix(spans[0].Content, "import re"))
	assert.True(t, strings.HasPrefix(spans[2].Content, "def validate_email(email: str) -> bool:"))
	assert.True(t, strings.HasSuffix(spans[2].Content, "return EMAIL_RE.match(email) is not None"))
}

// uncoveredLines returns the non-blank lines of content that no span covers.
func uncoveredLines(content string, spans []Span) []int {
	covered := make(map[int]bool)
	for _, s := range spans {
		for n := s.StartLine; n <= s.EndLine; n++ {
			covered[n] = true
		}
	}
	var missing []int
	for i, line := range splitLines(content) {
		if strings.TrimSpace(line) != "" && !covered[i+1] {
			missing = append(missing, i+1)
		}
	}
	return missing
}

func TestChunkPythonSymbolsCoverModuleCode(t *testing.T) {
	src := "import os\nDATABASE_URL = os.environ[\"DB\"]\n\ndef f():\n    return 1\n\nif __name__ == \"__main__\":\n    f()\n"
	c := NewChunker(ChunkerOptions{Window: 80, Overlap: 20, Strategy: StrategySymbols})
	spans := c.Chunk("main.py", src)

	var ranges [][2]int
	for _, s := range spans {
		ranges = append(ranges, [2]int{s.StartLine, s.EndLine})
	}
	assert.Equal(t, [][2]int{{1, 2}, {4, 5}, {7, 8}}, ranges)
	assert.Empty(t, uncoveredLines(src, spans))
	assert.Empty(t, uncoveredLines(validatorsPy, c.Chunk("v.py", validatorsPy)))
}

func TestChunkPythonLongBlockIsWindowed(t *testing.T) {
	var b strings.Builder
	b.WriteString("def big():\n")
	for i := range 200 {
		fmt.Fprintf(&b, "    x%d = %d\n", i, i)
	}
	b.WriteString("\nDONE = True\n")
	src := b.String()

	spans := NewChunker(ChunkerOptions{Window: 80, Overlap: 20, Strategy: StrategySymbols}).Chunk("big.py", src)
	require.Len(t, spans, 5)
	assert.Equal(t, 1, spans[0].StartLine)
	assert.Equal(t, 201, spans[3].EndLine)
	assert.Equal(t, Span{StartLine: 203, EndLine: 203, Content: "DONE = True"}, spans[4])
	for _, s := range spans {
		assert.LessOrEqual(t, s.EndLine-s.StartLine+1, 80)
	}
	assert.Empty(t, uncoveredLines(src, spans))
}

func TestChunkPythonMultilineHeader(t *testing.T) {
	src := "async def fetch(\n    url,\n    timeout=3,\n):\n    return await get(url)\n\nx = 1\n"
	spans := NewChunker(ChunkerOptions{Strategy: StrategySymbols}).Chunk("net.py", src)
	require.Len(t, spans, 2)
	assert.Equal(t, 1, spans[0].StartLine)
	assert.Equal(t, 5, spans[0].EndLine)
	assert.Equal(t, 7, spans[1].StartLine)
}

func TestChunkSymbolsFallsBackToWindow(t *testing.T) {
	c := NewChunker(ChunkerOptions{Window: 80, Overlap: 20, Strategy: StrategySymbols})

	spans := c.Chunk("settings.py", "DEBUG = True\nPORT = 8080\n")
	require.Len(t, spans, 1)
	assert.Equal(t, 2, spans[0].EndLine)

	// Only Python files are split by symbol.
	spans = c.Chunk("validators.js", validatorsPy)
	require.Len(t, spans, 1)
	assert.Equal(t, 24, spans[0].EndLine)
}

func TestChunkDeterministic(t *testing.T) {
	c := NewChunker(ChunkerOptions{Strategy: StrategySymbols})
	assert.Equal(t, c.Chunk("v.py", validatorsPy), c.Chunk("v.py", validatorsPy))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "python", detectLanguage("a/b.PY"))
	assert.Equal(t, "go", detectLanguage("main.go"))
	assert.Equal(t, "unknown", detectLanguage("Makefile"))
}
