package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "simple command",
			line: "clangd",
			want: []string{"clangd"},
		},
		{
			name: "command with flags",
			line: "arduino-language-server -clangd /usr/bin/clangd -cli arduino-cli",
			want: []string{"arduino-language-server", "-clangd", "/usr/bin/clangd", "-cli", "arduino-cli"},
		},
		{
			name: "quoted path with spaces",
			line: `"/opt/arduino ide/bin/ls" --stdio`,
			want: []string{"/opt/arduino ide/bin/ls", "--stdio"},
		},
		{
			name: "quotes mid-word",
			line: `--flag="a b"`,
			want: []string{"--flag=a b"},
		},
		{
			name: "empty quoted argument preserved",
			line: `cmd "" next`,
			want: []string{"cmd", "", "next"},
		},
		{
			name: "collapsed whitespace",
			line: "cmd   one\t\ttwo",
			want: []string{"cmd", "one", "two"},
		},
		{
			name: "empty line",
			line: "",
			want: nil,
		},
		{
			name: "whitespace only",
			line: "   \t ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommandLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandLine_UnbalancedQuotes(t *testing.T) {
	_, err := ParseCommandLine(`cmd "unterminated`)
	assert.ErrorIs(t, err, ErrUnbalancedQuotes)
}
