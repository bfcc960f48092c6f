// Package response turns raw model output into structured solutions.
package response

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/homework-scanner/internal/entity"
)

// SolveResponse is the structured result of a solve request.
type SolveResponse struct {
	Problems []entity.ProblemSolution `json:"problems"`
}

var reFenceOpen = regexp.MustCompile("^```[\\w+.-]*")

// StripFence removes a surrounding markdown code fence (with optional language tag) and trims.
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = reFenceOpen.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Parser decodes solve and improve responses. Failures are logged, never returned.
type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// ParseSolve parses with the default logger.
func ParseSolve(raw string) (*SolveResponse, bool) {
	return NewParser(nil).Solve(raw)
}

// ParseImprove parses with the default logger.
func ParseImprove(raw string) (*ImproveResponse, bool) {
	return NewParser(nil).Improve(raw)
}

// Solve accepts JSON ({"problems":[...]}) or XML (<problem> elements). Anything
// else returns nil, false.
func (p *Parser) Solve(raw string) (*SolveResponse, bool) {
	s := StripFence(raw)
	var (
		out *SolveResponse
		err error
	)
	switch {
	case strings.HasPrefix(s, "{"):
		out, err = p.solveJSON(s)
	case strings.HasPrefix(s, "<"):
		out, err = solveXML(s)
	default:
		err = errors.New("response is neither JSON nor XML")
	}
	if err != nil {
		p.logger.Warn("response.parse.solve_failed", "error", err, "chars", len(raw), "head", head(s, 200))
		return nil, false
	}
	return out, true
}

func (p *Parser) solveJSON(s string) (*SolveResponse, error) {
	cleaned, dropped, err := NormalizeSolveJSON([]byte(s))
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		p.logger.Debug("response.parse.normalized", "dropped", dropped)
	}
	if err := ValidateSolveJSON(cleaned); err != nil {
		return nil, err
	}
	var out SolveResponse
	if err := json.Unmarshal(cleaned, &out); err != nil {
		return nil, fmt.Errorf("unmarshal solve response: %w", err)
	}
	if out.Problems == nil {
		out.Problems = []entity.ProblemSolution{}
	}
	return &out, nil
}

type xmlProblem struct {
	Text        string `xml:"problem_text"`
	Answer      string `xml:"answer"`
	Explanation string `xml:"explanation"`
}

func newDecoder(s string) *xml.Decoder {
	d := xml.NewDecoder(strings.NewReader(escapeBareLT(s)))
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity
	return d
}

// escapeBareLT rewrites a "<" that cannot open markup, as in "x < 3", to
// "&lt;". CDATA sections are copied untouched.
func escapeBareLT(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "<![CDATA[") {
			end := strings.Index(s[i:], "]]>")
			if end < 0 {
				b.WriteString(s[i:])
				break
			}
			b.WriteString(s[i : i+end+3])
			i += end + 3
			continue
		}
		if s[i] == '<' && !opensMarkup(s[i+1:]) {
			b.WriteString("&lt;")
			i++
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func opensMarkup(rest string) bool {
	if rest == "" {
		return false
	}
	switch rest[0] {
	case '/', '!', '?', '_', ':':
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return unicode.IsLetter(r)
}

// solveXML collects every <problem> element at any depth. A document without
// problems is accepted only when its root is <problems>.
func solveXML(s string) (*SolveResponse, error) {
	d := newDecoder(s)
	out := &SolveResponse{Problems: []entity.ProblemSolution{}}
	root := ""
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if root == "" {
			root = se.Name.Local
		}
		if se.Name.Local != "problem" {
			continue
		}
		var xp xmlProblem
		if err := d.DecodeElement(&xp, &se); err != nil {
			return nil, fmt.Errorf("decode problem: %w", err)
		}
		out.Problems = append(out.Problems, entity.ProblemSolution{
			Problem:     strings.TrimSpace(xp.Text),
			Answer:      strings.TrimSpace(xp.Answer),
			Explanation: strings.TrimSpace(xp.Explanation),
		})
	}
	if len(out.Problems) == 0 && root != "problems" {
		return nil, fmt.Errorf("no <problem> elements in xml with root %q", root)
	}
	return out, nil
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
