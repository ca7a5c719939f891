// Package ksfile reads and writes KiriKiri/TyranoScript .ks scenario files.
//
// Every source line becomes one record. Dialogue lines ending in [r], [p],
// [pcms] and similar tags are split into their text and closing tag, speaker
// lines ([ns]Name[nse]) and choice evaluations are kept whole, and everything
// else passes through unchanged. A page starts at each *label line.
package ksfile

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"

	"github.com/minios-linux/gametl/script"
)

// Record codes.
const (
	CodeLine    = 0 // passthrough: [line]
	CodeText    = 1 // dialogue continued by [r]: [text, tag]
	CodeEnd     = 2 // dialogue closed by [p], [pcms], ...: [text, tag]
	CodeSpeaker = 3 // [ns]Name[nse]: [line]
	CodeChoice  = 4 // [eval exp="f.seltext..."]: [line]
)

// DefaultEncoding is used when Codec.Encoding is empty.
const DefaultEncoding = "cp932"

var (
	textLine   = regexp.MustCompile(`^(.+?)(\[[rpcms]+\])$`)
	choiceLine = regexp.MustCompile(`\[eval exp="f\.seltext`)
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
)

// Table returns the code table for scenario records.
func Table() script.Table {
	return script.Table{
		Text: []script.TextFamily{{
			Name:     "ks_text",
			Codes:    []int{CodeText, CodeEnd},
			Continue: []int{CodeText, CodeEnd},
			Terminal: []int{CodeEnd},
			Join:     " ",
			Carry:    []int{1},
			Strip:    []string{`\[[^\]]*\]`},
			Escape:   []script.Replacement{{From: "[", To: "("}, {From: "]", To: ")"}},
		}},
		Rules: []script.Rule{
			{Name: "ks_speaker", Kind: script.RuleSpeaker, Codes: []int{CodeSpeaker}, Param: 0,
				Pattern: `\[ns\](.+?)\[nse\]`},
			{Name: "ks_choice", Kind: script.RuleChoice, Codes: []int{CodeChoice}, Param: 0,
				Pattern: `\[eval exp=.+?'(.+)'`,
				Remove:  `\`,
				Escape:  []script.Replacement{{From: "'", To: `\'`}}},
		},
	}
}

// Supported reports whether a file name is a scenario file.
func Supported(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".ks")
}

// Codec parses scenario files.
type Codec struct {
	// Encoding names the file encoding: cp932 (the default), shift_jis,
	// euc-jp or utf-8.
	Encoding string
}

func lookup(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "", "cp932", "shift-jis", "sjis", "windows-31j":
		return japanese.ShiftJIS, nil
	case "euc-jp", "eucjp":
		return japanese.EUCJP, nil
	case "utf-8", "utf8":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}

// Document is a parsed scenario file. It implements script.Document.
type Document struct {
	pages    []script.Page
	enc      encoding.Encoding
	eol      string
	bom      bool
	trailing bool
}

var _ script.Document = (*Document)(nil)

// Parse decodes a scenario file.
func (c Codec) Parse(name string, data []byte) (script.Document, error) {
	enc, err := lookup(c.Encoding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	d := &Document{enc: enc, eol: "\n"}
	if enc == nil {
		if bytes.HasPrefix(data, utf8BOM) {
			d.bom = true
			data = data[len(utf8BOM):]
		}
	} else {
		data, err = enc.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
	}

	text := string(data)
	if strings.Contains(text, "\r\n") {
		d.eol = "\r\n"
	}
	if text == "" {
		return d, nil
	}
	lines := strings.Split(text, d.eol)
	if lines[len(lines)-1] == "" {
		d.trailing = true
		lines = lines[:len(lines)-1]
	}

	page := script.Page{Name: "top"}
	for n, line := range lines {
		if strings.HasPrefix(line, "*") && len(page.Records) > 0 {
			d.pages = append(d.pages, page)
			page = script.Page{Name: fmt.Sprintf("%s (line %d)", strings.TrimSpace(line), n+1)}
		} else if strings.HasPrefix(line, "*") {
			page.Name = fmt.Sprintf("%s (line %d)", strings.TrimSpace(line), n+1)
		}
		page.Records = append(page.Records, classify(line))
	}
	d.pages = append(d.pages, page)
	return d, nil
}

func classify(line string) script.Record {
	switch {
	case choiceLine.MatchString(line):
		return script.Record{Code: CodeChoice, Params: []any{line}}
	case strings.Contains(line, "[ns]"):
		return script.Record{Code: CodeSpeaker, Params: []any{line}}
	}
	if m := textLine.FindStringSubmatch(line); m != nil && !strings.HasPrefix(line, ";") {
		code := CodeEnd
		if m[2] == "[r]" {
			code = CodeText
		}
		return script.Record{Code: code, Params: []any{m[1], m[2]}}
	}
	return script.Record{Code: CodeLine, Params: []any{line}}
}

// Pages returns the labelled sections in file order.
func (d *Document) Pages() []script.Page { return d.pages }

// SetPage replaces the records of page i.
func (d *Document) SetPage(i int, records []script.Record) {
	d.pages[i].Records = records
}

// Fields returns nil; scenario files carry no standalone strings.
func (d *Document) Fields() []script.Field { return nil }

// SetField is a no-op.
func (d *Document) SetField(int, string) {}

// Marshal renders the pages with the original line endings and encoding.
// Wrapped dialogue is split into one line per row, each closed by [r]
// except the last, which keeps the run's closing tag.
func (d *Document) Marshal() ([]byte, error) {
	var lines []string
	for _, p := range d.pages {
		for _, r := range p.Records {
			lines = append(lines, render(r)...)
		}
	}

	text := strings.Join(lines, d.eol)
	if d.trailing {
		text += d.eol
	}

	if d.enc == nil {
		out := []byte(text)
		if d.bom {
			out = append(append([]byte{}, utf8BOM...), out...)
		}
		return out, nil
	}
	out, err := encoding.ReplaceUnsupported(d.enc.NewEncoder()).Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}
	return out, nil
}

func render(r script.Record) []string {
	switch r.Code {
	case CodeText, CodeEnd:
		text, _ := r.String(0)
		tag, _ := r.String(1)
		rows := strings.Split(text, "\n")
		if len(rows) > 1 {
			for i := range rows {
				rows[i] = strings.TrimSpace(rows[i])
				if i < len(rows)-1 {
					rows[i] += "[r]"
				}
			}
		}
		rows[len(rows)-1] += tag
		return rows
	}
	s, _ := r.String(0)
	return []string{s}
}
