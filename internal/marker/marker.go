// ABOUTME: Detects and strips the recall marker in outgoing message text
// ABOUTME: Classifies a message as plain, marker-only, self-recall or suppressed

// Package marker finds the recall marker in outgoing text. Matching is
// case-insensitive. A message that is only the marker asks for the previous
// message to be recalled; a marker embedded in other text asks for that
// message itself to be recalled after it is sent.
package marker

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultToken is the marker agents are told to emit.
const DefaultToken = "[recall]"

// Kind classifies outgoing text.
type Kind int

const (
	// KindNone means the text carries no marker.
	KindNone Kind = iota
	// KindTarget means the text is exactly the marker: the previously sent
	// message and the marker message are both recalled.
	KindTarget
	// KindSelf means the marker was stripped from otherwise sendable text;
	// the cleaned message is recalled after it is sent.
	KindSelf
	// KindSuppressed means nothing is left once the markers are removed, so
	// nothing should be sent.
	KindSuppressed
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTarget:
		return "target"
	case KindSelf:
		return "self"
	case KindSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Result is the outcome of scanning one text segment.
type Result struct {
	Kind Kind
	// Residual is the text with every marker removed and whitespace trimmed.
	// It is empty for KindTarget and KindSuppressed.
	Residual string
}

// Stripped reports whether any marker was found.
func (r Result) Stripped() bool {
	return r.Kind != KindNone
}

// Detector matches one marker token.
type Detector struct {
	token string
	runs  *regexp.Regexp
}

// New creates a detector for token. An empty token uses DefaultToken.
func New(token string) *Detector {
	token = strings.TrimSpace(token)
	if token == "" {
		token = DefaultToken
	}
	quoted := regexp.QuoteMeta(token)
	return &Detector{
		token: token,
		// A run of markers together with the whitespace around them.
		runs: regexp.MustCompile(`\s*(?:(?i:` + quoted + `)\s*)+`),
	}
}

// Token returns the marker token.
func (d *Detector) Token() string {
	return d.token
}

// IsMarker reports whether text, trimmed, is exactly the marker.
func (d *Detector) IsMarker(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), d.token)
}

// Detect scans text for the marker.
func (d *Detector) Detect(text string) Result {
	if d.IsMarker(text) {
		return Result{Kind: KindTarget}
	}
	if !d.runs.MatchString(text) {
		return Result{Kind: KindNone, Residual: text}
	}

	cleaned := d.Strip(text)
	if cleaned == "" {
		return Result{Kind: KindSuppressed}
	}
	return Result{Kind: KindSelf, Residual: cleaned}
}

// Strip removes every marker occurrence and trims the result.
func (d *Detector) Strip(text string) string {
	return strings.TrimSpace(d.runs.ReplaceAllStringFunc(text, joinAround))
}

// joinAround replaces a marker run with a single separator when the run was
// surrounded by whitespace, so "a [recall] b" becomes "a b" and "a[recall]b"
// becomes "ab".
func joinAround(run string) string {
	lead := strings.TrimLeftFunc(run, unicode.IsSpace) != run
	trail := strings.TrimRightFunc(run, unicode.IsSpace) != run
	if !lead && !trail {
		return ""
	}
	if strings.Contains(run, "\n") {
		return "\n"
	}
	return " "
}
