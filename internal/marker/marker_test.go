// ABOUTME: Tests for recall marker detection
// ABOUTME: Covers marker-only, embedded, repeated and suppressed messages

package marker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	d := New(DefaultToken)

	tests := []struct {
		name     string
		input    string
		kind     Kind
		residual string
	}{
		{"plain text", "hello world", KindNone, "hello world"},
		{"empty", "", KindNone, ""},
		{"trailing marker upper case", "hello [RECALL]", KindSelf, "hello"},
		{"leading marker", "[recall] world", KindSelf, "world"},
		{"glued marker", "done[recall]", KindSelf, "done"},
		{"marker only", "[recall]", KindTarget, ""},
		{"marker only mixed case padded", "  [ReCaLl]\n", KindTarget, ""},
		{"marker twice", "[recall] first [Recall] second", KindSelf, "first second"},
		{"marker twice adjacent", "keep [recall] [RECALL] this", KindSelf, "keep this"},
		{"marker between lines", "line one\n[recall]\nline two", KindSelf, "line one\nline two"},
		{"only markers", "[recall][recall]", KindSuppressed, ""},
		{"only markers spaced", " [recall]  [RECALL] ", KindSuppressed, ""},
		{"similar but different", "[recalled]", KindNone, "[recalled]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.input)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.residual, got.Residual)
		})
	}
}

func TestDetect_CustomToken(t *testing.T) {
	d := New("<<undo>>")

	assert.Equal(t, "<<undo>>", d.Token())
	assert.True(t, d.IsMarker("<<UNDO>>"))
	assert.Equal(t, Result{Kind: KindSelf, Residual: "oops"}, d.Detect("oops <<Undo>>"))
	assert.Equal(t, KindNone, d.Detect("[recall]").Kind)
}

func TestNew_EmptyTokenUsesDefault(t *testing.T) {
	assert.Equal(t, DefaultToken, New("  ").Token())
}

func TestStrip(t *testing.T) {
	d := New(DefaultToken)
	assert.Equal(t, "a b", d.Strip("a [recall] b [RECALL]"))
	assert.Equal(t, "untouched", d.Strip("untouched"))
}

func TestResult_Stripped(t *testing.T) {
	assert.False(t, Result{Kind: KindNone}.Stripped())
	assert.True(t, Result{Kind: KindSelf}.Stripped())
	assert.Equal(t, "suppressed", KindSuppressed.String())
}
