// Package extract pulls visible text segments out of fetched pages and tests
// them for the target expression.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Mode names accepted by ByMode.
const (
	ModeScan      = "scan"
	ModeTokenizer = "tokenizer"
)

// Func adapts a plain function to crawler.Extractor.
type Func func(body []byte) []string

// Extract calls f.
func (f Func) Extract(body []byte) []string {
	return f(body)
}

// ByMode resolves a configured extraction mode.
func ByMode(mode string) (Func, error) {
	switch mode {
	case "", ModeScan:
		return Scan, nil
	case ModeTokenizer:
		return Tokenize, nil
	default:
		return nil, fmt.Errorf("unknown extract mode %q", mode)
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n'
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	return i
}

// Scan is a single forward pass, not an HTML parser. Each step consumes one
// byte, skips past the next '>', skips spaces and newlines, and if the next
// byte is not '<' collects everything up to the following '<' as a segment
// with trailing spaces and newlines removed. Every scan is bounded by the
// input: a missing '>' ends extraction and a missing '<' ends the segment at
// end of input.
func Scan(body []byte) []string {
	var out []string
	i := skipSpace(body, 0)
	for i < len(body) {
		i++
		gt := bytes.IndexByte(body[i:], '>')
		if gt < 0 {
			break
		}
		i = skipSpace(body, i+gt+1)
		if i >= len(body) {
			break
		}
		if body[i] == '<' {
			continue
		}
		end := len(body)
		if lt := bytes.IndexByte(body[i:], '<'); lt >= 0 {
			end = i + lt
		}
		out = append(out, string(bytes.TrimRight(body[i:end], " \n")))
		i = end
	}
	return out
}

// Tokenize emits the trimmed, entity-decoded text tokens of an HTML document
// in order, skipping script and style bodies and whitespace-only text.
func Tokenize(body []byte) []string {
	var out []string
	z := html.NewTokenizer(bytes.NewReader(body))
	rawDepth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawText(name) {
				rawDepth++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawText(name) && rawDepth > 0 {
				rawDepth--
			}
		case html.TextToken:
			if rawDepth > 0 {
				continue
			}
			if text := strings.TrimSpace(string(z.Text())); text != "" {
				out = append(out, text)
			}
		}
	}
}

func isRawText(name []byte) bool {
	switch string(name) {
	case "script", "style", "noscript":
		return true
	default:
		return false
	}
}

// Contains reports whether any segment contains expr as a literal,
// case-sensitive substring.
func Contains(segments []string, expr string) bool {
	for _, s := range segments {
		if strings.Contains(s, expr) {
			return true
		}
	}
	return false
}
