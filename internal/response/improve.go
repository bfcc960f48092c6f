package response

import (
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ImproveRequest is the input of the refine flow.
type ImproveRequest struct {
	Problem        string `json:"problem"`
	Answer         string `json:"answer"`
	Explanation    string `json:"explanation"`
	UserSuggestion string `json:"user_suggestion"`
}

// ImproveResponse is the model's refined answer.
type ImproveResponse struct {
	ImprovedAnswer      string `xml:"improved_answer" json:"improved_answer"`
	ImprovedExplanation string `xml:"improved_explanation" json:"improved_explanation"`
}

// EscapeCDATA splits every "]]>" so the text can sit inside a CDATA section.
func EscapeCDATA(s string) string {
	return strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
}

// xmlChar reports whether the rune decoded with the given size may appear
// literally in XML 1.0 text. Invalid UTF-8 decodes as RuneError with size 1.
func xmlChar(r rune, size int) bool {
	if r == utf8.RuneError && size == 1 {
		return false
	}
	return r == '\t' || r == '\n' ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}

// writeField writes value as CDATA runs. Carriage returns go out as &#xD;
// because a literal one reads back as a newline, even inside CDATA. Bytes XML
// cannot carry at all are written as <raw hex="..."/>.
func writeField(b *strings.Builder, tag, value string) {
	b.WriteString("  <")
	b.WriteString(tag)
	b.WriteString(">")
	runStart, wrote := 0, false
	flush := func(end int) {
		if end > runStart {
			b.WriteString("<![CDATA[")
			b.WriteString(EscapeCDATA(value[runStart:end]))
			b.WriteString("]]>")
			wrote = true
		}
	}
	for i := 0; i < len(value); {
		r, size := utf8.DecodeRuneInString(value[i:])
		switch {
		case r == '\r':
			flush(i)
			b.WriteString("&#xD;")
			wrote = true
			runStart = i + size
		case !xmlChar(r, size):
			flush(i)
			b.WriteString(`<raw hex="`)
			b.WriteString(hex.EncodeToString([]byte(value[i : i+size])))
			b.WriteString(`"/>`)
			wrote = true
			runStart = i + size
		}
		i += size
	}
	flush(len(value))
	if !wrote {
		b.WriteString("<![CDATA[]]>")
	}
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteString(">\n")
}

// RenderImproveXML renders req as an <improve> document with every field in CDATA.
func RenderImproveXML(req ImproveRequest) string {
	var b strings.Builder
	b.WriteString("<improve>\n")
	writeField(&b, "problem", req.Problem)
	writeField(&b, "answer", req.Answer)
	writeField(&b, "explanation", req.Explanation)
	writeField(&b, "user_suggestion", req.UserSuggestion)
	b.WriteString("</improve>")
	return b.String()
}

// DecodeImproveRequest is the inverse of RenderImproveXML. Field text is kept verbatim.
func DecodeImproveRequest(doc string) (ImproveRequest, error) {
	var req ImproveRequest
	fields := map[string]*string{
		"problem":         &req.Problem,
		"answer":          &req.Answer,
		"explanation":     &req.Explanation,
		"user_suggestion": &req.UserSuggestion,
	}
	d := xml.NewDecoder(strings.NewReader(doc))
	var (
		cur  *string
		buf  strings.Builder
		root bool
	)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ImproveRequest{}, fmt.Errorf("decode improve xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case !root:
				if t.Name.Local != "improve" {
					return ImproveRequest{}, fmt.Errorf("decode improve xml: unexpected root <%s>", t.Name.Local)
				}
				root = true
			case cur == nil:
				if f, ok := fields[t.Name.Local]; ok {
					cur = f
					buf.Reset()
				}
			case t.Name.Local == "raw":
				for _, a := range t.Attr {
					if a.Name.Local != "hex" {
						continue
					}
					raw, err := hex.DecodeString(a.Value)
					if err != nil {
						return ImproveRequest{}, fmt.Errorf("decode improve xml: raw bytes: %w", err)
					}
					buf.Write(raw)
				}
			}
		case xml.EndElement:
			if cur != nil && t.Name.Local != "raw" {
				*cur = buf.String()
				cur = nil
			}
		case xml.CharData:
			if cur != nil {
				buf.Write(t)
			}
		}
	}
	if !root {
		return ImproveRequest{}, errors.New("decode improve xml: no <improve> element")
	}
	return req, nil
}

// Improve parses a <solution> reply. Anything else returns nil, false.
func (p *Parser) Improve(raw string) (*ImproveResponse, bool) {
	s := StripFence(raw)
	out, err := improveXML(s)
	if err != nil {
		p.logger.Warn("response.parse.improve_failed", "error", err, "chars", len(raw), "head", head(s, 200))
		return nil, false
	}
	return out, true
}

func improveXML(s string) (*ImproveResponse, error) {
	if !strings.HasPrefix(s, "<") {
		return nil, errors.New("response is not XML")
	}
	d := newDecoder(s)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no <solution> element")
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "solution" {
			continue
		}
		var out ImproveResponse
		if err := d.DecodeElement(&out, &se); err != nil {
			return nil, fmt.Errorf("decode solution: %w", err)
		}
		out.ImprovedAnswer = strings.TrimSpace(out.ImprovedAnswer)
		out.ImprovedExplanation = strings.TrimSpace(out.ImprovedExplanation)
		if out.ImprovedAnswer == "" && out.ImprovedExplanation == "" {
			return nil, errors.New("empty <solution>")
		}
		return &out, nil
	}
}
