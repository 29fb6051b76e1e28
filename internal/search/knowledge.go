package search

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadKnowledge reads a store knowledge-base markdown file (shipping
// policy, FAQs, opening hours) and returns one Document per fact. See
// ParseKnowledge.
func LoadKnowledge(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseKnowledge(f)
}

// ParseKnowledge turns markdown into standalone facts:
//   - prose paragraphs (blank-line separated) become one fact each, prefixed
//     by the nearest heading;
//   - table rows become "Header: cell; Header: cell" facts so each row is
//     searchable on its own.
func ParseKnowledge(r io.Reader) ([]Document, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		out     []Document
		heading string
		para    []string
		header  []string
	)
	emit := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if heading != "" {
			text = heading + ": " + text
		}
		out = append(out, Document{ID: fmt.Sprintf("kb-%d", len(out)+1), Text: text})
	}
	flush := func() {
		if len(para) > 0 {
			emit(strings.Join(para, " "))
			para = nil
		}
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			flush()
			header = nil
		case strings.HasPrefix(line, "#"):
			flush()
			header = nil
			heading = strings.TrimSpace(strings.TrimLeft(line, "#"))
		case strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|"):
			flush()
			cells := splitRow(line)
			if isSeparatorRow(cells) {
				continue
			}
			if header == nil {
				header = cells
				continue
			}
			emit(joinRow(header, cells))
		default:
			header = nil
			para = append(para, strings.TrimLeft(line, "-*• "))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}

func splitRow(line string) []string {
	parts := strings.Split(strings.Trim(line, "|"), "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, ":- ") != "" {
			return false
		}
	}
	return true
}

func joinRow(header, cells []string) string {
	pairs := make([]string, 0, len(cells))
	for i, c := range cells {
		if c == "" {
			continue
		}
		if i < len(header) && header[i] != "" {
			pairs = append(pairs, header[i]+": "+c)
		} else {
			pairs = append(pairs, c)
		}
	}
	return strings.Join(pairs, "; ")
}
