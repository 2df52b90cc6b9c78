package theme

import (
	"os"
	"strings"
)

// Glyphs used by the chat screen. UseASCII swaps them for plain fallbacks.
var (
	SymbolSuccess  string
	SymbolError    string
	SymbolArrowR   string
	SymbolBullet   string
	SymbolEllipsis string
)

// Role labels in the message list.
const (
	SymbolUser = "You"
	SymbolBot  = "Assistant"
)

type glyphs struct {
	success, failure, arrow, bullet, ellipsis string
}

var (
	unicodeGlyphs = glyphs{"✓", "✗", "→", "•", "…"}
	asciiGlyphs   = glyphs{"[OK]", "[ERR]", "->", "*", "..."}
)

// UnicodeTerminal guesses whether the terminal can draw the unicode glyphs.
// COLLOQUY_ASCII_SYMBOLS=1 forces ASCII, as does the Linux virtual console.
func UnicodeTerminal() bool {
	if v := os.Getenv("COLLOQUY_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	if os.Getenv("TERM") == "linux" {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		if v := strings.ToLower(os.Getenv(key)); v != "" {
			if v == "c" || v == "posix" {
				return false
			}
			return strings.Contains(v, "utf-8") || strings.Contains(v, "utf8")
		}
	}
	return true
}

// UseASCII selects the ASCII or unicode glyph set.
func UseASCII(ascii bool) {
	g := unicodeGlyphs
	if ascii {
		g = asciiGlyphs
	}
	SymbolSuccess = g.success
	SymbolError = g.failure
	SymbolArrowR = g.arrow
	SymbolBullet = g.bullet
	SymbolEllipsis = g.ellipsis
}

func init() {
	UseASCII(!UnicodeTerminal())
}
