// Package streamparser turns a vision model's token stream into a structured
// Analysis. It works in two modes at once: while tokens arrive it fires
// low-latency instant signals (actions, errors, shortcuts, partial text), and
// when the stream ends it runs a deterministic line-grammar parse over the
// whole buffer. The UI can react before the model finishes; the pipeline
// still gets a complete, well-formed result.
package streamparser

import (
	"regexp"
	"strings"
	"time"

	"github.com/glimpsehq/glimpse/internal/clock"
	"github.com/glimpsehq/glimpse/internal/models"
)

// State of the parser. There is no error state: parse problems degrade to
// partial or empty fields instead of aborting the stream.
type State int

const (
	Accumulating State = iota
	Finalized
)

// partialEvery is the buffered-character interval between partial updates.
const partialEvery = 20

// errorConfidence is fixed: error phrasing is unambiguous.
const errorConfidence = 0.95

// Match is an instant mid-stream detection.
type Match struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Callbacks receive instant signals while the stream is in flight. Any field
// may be nil.
type Callbacks struct {
	OnInstantAction func(Match)
	OnInstantError  func(Match)
	OnShortcut      func(string)
	OnPartial       func(buffer string)
}

// Parser accumulates one model response stream. Not safe for concurrent use;
// the pipeline owns exactly one in-flight stream at a time.
type Parser struct {
	buf            strings.Builder
	state          State
	cb             Callbacks
	clock          clock.Clock
	startedAt      time.Time
	actionDetected bool
	errorDetected  bool
	seenShortcuts  map[string]bool
	lastPartial    int
	final          *models.Analysis
}

// New returns a parser in the Accumulating state.
func New(cb Callbacks, clk clock.Clock) *Parser {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Parser{
		cb:            cb,
		clock:         clk,
		seenShortcuts: make(map[string]bool),
	}
}

// State returns the current parser state.
func (p *Parser) State() State { return p.state }

// Feed appends one token and runs the instant detectors. Tokens fed after
// finalization are ignored.
func (p *Parser) Feed(token string) {
	if p.state == Finalized {
		return
	}
	if p.buf.Len() == 0 {
		p.startedAt = p.clock.Now()
	}
	p.buf.WriteString(token)
	buffer := p.buf.String()

	// At most one instant action per stream.
	if !p.actionDetected {
		if text, pos, ok := firstMatch(actionPatterns, buffer); ok {
			p.actionDetected = true
			if p.cb.OnInstantAction != nil {
				p.cb.OnInstantAction(Match{Text: text, Confidence: confidence(buffer, text, pos)})
			}
		}
	}

	// At most one instant error per stream.
	if !p.errorDetected {
		if text, _, ok := firstMatch(errorPatterns, buffer); ok {
			p.errorDetected = true
			if p.cb.OnInstantError != nil {
				p.cb.OnInstantError(Match{Text: text, Confidence: errorConfidence})
			}
		}
	}

	// Shortcuts are not one-shot; every newly seen chord is reported.
	for _, sc := range shortcutPattern.FindAllString(buffer, -1) {
		if !p.seenShortcuts[sc] {
			p.seenShortcuts[sc] = true
			if p.cb.OnShortcut != nil {
				p.cb.OnShortcut(sc)
			}
		}
	}

	if p.buf.Len()/partialEvery > p.lastPartial/partialEvery && p.cb.OnPartial != nil {
		p.cb.OnPartial(buffer)
	}
	p.lastPartial = p.buf.Len()
}

// Finalize ends the stream and parses the buffer against the response
// grammar. Idempotent: repeated calls return the same Analysis.
func (p *Parser) Finalize() *models.Analysis {
	if p.state == Finalized {
		return p.final
	}
	p.state = Finalized

	raw := p.buf.String()
	a := &models.Analysis{
		Actions:         []string{},
		Errors:          []string{},
		Shortcuts:       []string{},
		RawResponseText: raw,
	}
	if !p.startedAt.IsZero() {
		a.ProcessingTimeMs = p.clock.Now().Sub(p.startedAt).Milliseconds()
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case summaryLine.MatchString(line):
			a.Summary = strings.TrimSpace(summaryLine.FindStringSubmatch(line)[1])
		case appLine.MatchString(line):
			a.ApplicationName = strings.TrimSpace(appLine.FindStringSubmatch(line)[1])
		case bulletLine.MatchString(line):
			a.Actions = append(a.Actions, strings.TrimSpace(bulletLine.FindStringSubmatch(line)[1]))
		case errorsLine.MatchString(line):
			if v := strings.TrimSpace(errorsLine.FindStringSubmatch(line)[1]); !strings.EqualFold(v, "none") {
				a.Errors = append(a.Errors, v)
			}
		case shortcutsLine.MatchString(line):
			v := strings.TrimSpace(shortcutsLine.FindStringSubmatch(line)[1])
			if strings.EqualFold(v, "none") {
				continue
			}
			for _, sc := range strings.Split(v, ",") {
				if sc = strings.TrimSpace(sc); sc != "" {
					a.Shortcuts = append(a.Shortcuts, sc)
				}
			}
		}
	}

	// Catch action phrasing the line grammar missed (prose outside bullets).
	for _, re := range actionPatterns {
		for _, m := range re.FindAllString(raw, -1) {
			m = strings.TrimSpace(m)
			if !containsFold(a.Actions, m) {
				a.Actions = append(a.Actions, m)
			}
		}
	}

	p.final = a
	return a
}

// firstMatch returns the earliest match of any pattern in the buffer.
func firstMatch(patterns []*regexp.Regexp, buffer string) (string, int, bool) {
	best := -1
	var text string
	for _, re := range patterns {
		if loc := re.FindStringIndex(buffer); loc != nil {
			if best == -1 || loc[0] < best {
				best = loc[0]
				text = strings.TrimSpace(buffer[loc[0]:loc[1]])
			}
		}
	}
	return text, best, best >= 0
}

// confidence scores a detection: early matches score higher, and matches
// that close out a sentence score higher than ones cut off mid-phrase.
func confidence(buffer, match string, pos int) float64 {
	base := 1.0 - float64(pos)/float64(len(buffer))
	end := pos + len(match)
	complete := 0.7
	for i := end; i < len(buffer); i++ {
		switch buffer[i] {
		case '.', '!', '?', '\n':
			complete = 1.0
		case ' ', '\t':
			continue
		}
		break
	}
	if end >= len(buffer) {
		complete = 0.7
	}
	return base * complete
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) || strings.Contains(strings.ToLower(v), strings.ToLower(s)) || strings.Contains(strings.ToLower(s), strings.ToLower(v)) {
			return true
		}
	}
	return false
}
