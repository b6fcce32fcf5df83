package streamparser

import "regexp"

// The model's response format is fixed by the prompt, so a small pattern
// table is all the grammar we need.

// linePatterns drive the final line-by-line parse.
var (
	summaryLine   = regexp.MustCompile(`^SUMMARY:\s*(.+)$`)
	appLine       = regexp.MustCompile(`^APP:\s*(.+)$`)
	bulletLine    = regexp.MustCompile(`^(?:-|•)\s+(.+)$`)
	errorsLine    = regexp.MustCompile(`^ERRORS:\s*(.+)$`)
	shortcutsLine = regexp.MustCompile(`^SHORTCUTS:\s*(.+)$`)
)

// actionPatterns detect actionable phrasing mid-stream and in the final
// re-scan. Each match captures the whole instruction up to a sentence or
// line boundary.
var actionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bclick(?:\s+on)?\s+[^.!?\n]+`),
	regexp.MustCompile(`(?i)\bpress\s+[^.!?\n]+`),
	regexp.MustCompile(`(?i)\btype\s+[^.!?\n]+`),
	regexp.MustCompile(`(?i)\bnavigate\s+to\s+[^.!?\n]+`),
	regexp.MustCompile(`(?i)\bopen\s+the\s+[^.!?\n]+`),
	regexp.MustCompile(`(?i)\bselect\s+[^.!?\n]+`),
}

// errorPatterns detect error phrasing. Error vocabulary is unambiguous, so
// mid-stream matches carry a fixed high confidence.
var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\berror\b[^.!?\n]*`),
	regexp.MustCompile(`(?i)\bwarning\b[^.!?\n]*`),
	regexp.MustCompile(`(?i)\bfail(?:ed|ure|ing)?\b[^.!?\n]*`),
	regexp.MustCompile(`(?i)\bexception\b[^.!?\n]*`),
	regexp.MustCompile(`(?i)\bcrash(?:ed)?\b[^.!?\n]*`),
}

// shortcutPattern matches Cmd+S-style key chords.
var shortcutPattern = regexp.MustCompile(`\b(?:Cmd|Ctrl|Alt|Option|Shift|Win|Meta)(?:\+(?:Cmd|Ctrl|Alt|Option|Shift|Win|Meta|F\d{1,2}|[A-Za-z0-9]))+\b`)
