// Package agent implements the agent execution core: prompt rendering,
// structured response parsing, sandboxed code execution with iterative
// auto-debugging, and answer formatting.
package agent

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deepily/cosa/pkg/config"
	"github.com/deepily/cosa/pkg/services"
)

// ParsedResponse is the structured form of one LLM reply. Code lines are
// kept in order; all other fields are flat text.
type ParsedResponse struct {
	Fields map[string]string
	Code   []string
}

// Get returns a parsed field, empty when absent.
func (p *ParsedResponse) Get(name string) string {
	return p.Fields[name]
}

// ParseResponse parses an XML-like LLM reply into named fields using the
// configured strategy. Structured mode falls back to the baseline tag scan
// on failure; hybrid runs both, logs their differences, and prefers the
// structured result.
func ParseResponse(strategy config.ParseStrategy, raw string, expected []string, logger *slog.Logger) (*ParsedResponse, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strategy {
	case config.ParseStructured:
		parsed, err := parseStructured(raw, expected)
		if err == nil {
			return parsed, nil
		}
		logger.Warn("structured parse failed, falling back to baseline", "error", err)
		return parseBaseline(raw, expected)

	case config.ParseHybrid:
		structured, serr := parseStructured(raw, expected)
		baseline, berr := parseBaseline(raw, expected)
		if serr != nil {
			logger.Warn("structured parse failed in hybrid mode", "error", serr)
			return baseline, berr
		}
		if berr == nil {
			logDifferences(logger, structured, baseline)
		}
		return structured, nil

	default:
		return parseBaseline(raw, expected)
	}
}

// parseBaseline scans the text for <tag>…</tag> pairs without requiring
// well-formed XML. It fails only when none of the expected fields are
// present.
func parseBaseline(raw string, expected []string) (*ParsedResponse, error) {
	parsed := &ParsedResponse{Fields: make(map[string]string)}
	found := 0
	for _, field := range expected {
		inner, ok := extractTag(raw, field)
		if !ok {
			continue
		}
		found++
		if field == "code" {
			parsed.Code = extractLines(inner)
			continue
		}
		parsed.Fields[field] = unescapeEntities(strings.TrimSpace(inner))
	}
	if found == 0 {
		return nil, fmt.Errorf("%w: no expected fields in response", services.ErrParseFailed)
	}
	return parsed, nil
}

// parseStructured decodes the <response> document strictly and requires
// every expected field to be present.
func parseStructured(raw string, expected []string) (*ParsedResponse, error) {
	doc, ok := extractTag(raw, "response")
	if !ok {
		return nil, fmt.Errorf("%w: no <response> element", services.ErrParseFailed)
	}

	decoder := xml.NewDecoder(strings.NewReader("<response>" + doc + "</response>"))
	parsed := &ParsedResponse{Fields: make(map[string]string)}

	// Walk the direct children of <response>.
	depth := 0
	var current string
	var text strings.Builder
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				current = t.Name.Local
				text.Reset()
				if current == "code" {
					lines, err := decodeCodeLines(decoder)
					if err != nil {
						return nil, err
					}
					parsed.Code = lines
					depth--
					current = ""
				}
			}
		case xml.CharData:
			if depth == 2 {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 2 && current != "" {
				parsed.Fields[current] = strings.TrimSpace(text.String())
				current = ""
			}
			depth--
		}
	}
	for _, field := range expected {
		if field == "code" {
			if parsed.Code == nil {
				return nil, fmt.Errorf("%w: missing required field %q", services.ErrParseFailed, field)
			}
			continue
		}
		if _, ok := parsed.Fields[field]; !ok {
			return nil, fmt.Errorf("%w: missing required field %q", services.ErrParseFailed, field)
		}
	}
	return parsed, nil
}

// decodeCodeLines consumes the contents of a <code> element, collecting its
// <line> children in order, and leaves the decoder just past </code>.
func decodeCodeLines(decoder *xml.Decoder) ([]string, error) {
	lines := []string{}
	var inLine bool
	var text strings.Builder
	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated <code> element", services.ErrParseFailed)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "line" {
				inLine = true
				text.Reset()
			}
		case xml.CharData:
			if inLine {
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "line":
				lines = append(lines, text.String())
				inLine = false
			case "code":
				return lines, nil
			}
		}
	}
}

func logDifferences(logger *slog.Logger, structured, baseline *ParsedResponse) {
	for name, sv := range structured.Fields {
		if bv, ok := baseline.Fields[name]; ok && bv != sv {
			logger.Info("parser disagreement", "field", name,
				"structured_len", len(sv), "baseline_len", len(bv))
		}
	}
	if len(structured.Code) != len(baseline.Code) {
		logger.Info("parser disagreement", "field", "code",
			"structured_lines", len(structured.Code), "baseline_lines", len(baseline.Code))
	}
}

// extractTag returns the inner text of the first <tag>…</tag> pair.
func extractTag(raw, tag string) (string, bool) {
	open, closing := "<"+tag+">", "</"+tag+">"
	i := strings.Index(raw, open)
	if i < 0 {
		return "", false
	}
	rest := raw[i+len(open):]
	j := strings.Index(rest, closing)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// extractLines collects every <line>…</line> in order, preserving
// indentation inside the line body.
func extractLines(inner string) []string {
	lines := []string{}
	rest := inner
	for {
		chunk, ok := extractTag(rest, "line")
		if !ok {
			break
		}
		lines = append(lines, unescapeEntities(chunk))
		idx := strings.Index(rest, "</line>")
		rest = rest[idx+len("</line>"):]
	}
	return lines
}

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescapeEntities(s string) string {
	return entityReplacer.Replace(s)
}
