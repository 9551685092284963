package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKeepsPlainText(t *testing.T) {
	assert.Equal(t, "hello world", Sanitize("hello world"))
	assert.Equal(t, "line1\nline2\ttabbed", Sanitize("line1\nline2\ttabbed"))
	assert.Equal(t, "héllo wörld 你好", Sanitize("héllo wörld 你好"))
}

func TestSanitizeStripsControls(t *testing.T) {
	assert.Equal(t, "ab", Sanitize("a\x00\x01\x1fb"))
	assert.Equal(t, "ab", Sanitize("a\x7fb"))
}

func TestSanitizeStripsInvisibles(t *testing.T) {
	cases := map[string]rune{
		"zero-width space":        0x200B,
		"zero-width joiner":       0x200D,
		"right-to-left mark":      0x200F,
		"line separator":          0x2028,
		"paragraph separator":     0x2029,
		"rtl override":            0x202E,
		"word joiner":             0x2060,
		"invisible times":         0x2062,
		"ltr isolate":             0x2066,
		"pop directional isolate": 0x2069,
		"interlinear anchor":      0xFFF9,
		"replacement character":   0xFFFD,
	}
	for name, r := range cases {
		assert.Equal(t, "ab", Sanitize("a"+string(r)+"b"), name)
	}
}

func TestSanitizeEmptyAfterStripping(t *testing.T) {
	onlyInvisible := string([]rune{0x200B, 0x200C, 0x202E})
	assert.Equal(t, "", Sanitize(onlyInvisible))
	assert.Equal(t, "", Sanitize("   \n\t  "))
}
