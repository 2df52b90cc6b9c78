package theme

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUseASCII(t *testing.T) {
	t.Cleanup(func() { UseASCII(!UnicodeTerminal()) })

	UseASCII(true)
	assert.Equal(t, "...", SymbolEllipsis)
	assert.Equal(t, "[ERR]", SymbolError)

	UseASCII(false)
	assert.Equal(t, "…", SymbolEllipsis)
	assert.Equal(t, "→", SymbolArrowR)
}

func TestUnicodeTerminal(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"utf8 locale", map[string]string{"LANG": "en_US.UTF-8"}, true},
		{"forced ascii", map[string]string{"LANG": "en_US.UTF-8", "COLLOQUY_ASCII_SYMBOLS": "1"}, false},
		{"linux console", map[string]string{"TERM": "linux", "LANG": "en_US.UTF-8"}, false},
		{"posix locale", map[string]string{"LC_ALL": "C"}, false},
		{"lc_all wins", map[string]string{"LC_ALL": "en_US.utf8", "LANG": "C"}, true},
		{"nothing set", map[string]string{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"COLLOQUY_ASCII_SYMBOLS", "TERM", "LC_ALL", "LC_CTYPE", "LANG"} {
				t.Setenv(k, tt.env[k])
			}
			assert.Equal(t, tt.want, UnicodeTerminal())
		})
	}
}

func TestRequestStateStyles(t *testing.T) {
	assert.Equal(t, TextInfo.Render("running"), RequestState("running").Render("running"))
	assert.NotEqual(t, Backend(true).GetForeground(), Backend(false).GetForeground())
}
