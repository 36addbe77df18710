package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "plain https URL passes through",
			input: "https://example.com/path?q=1",
			want:  "https://example.com/path?q=1",
		},
		{
			name:  "scheme and host are lowercased",
			input: "HTTPS://Example.COM/Path",
			want:  "https://example.com/Path",
		},
		{
			name:  "default https port dropped",
			input: "https://example.com:443/a",
			want:  "https://example.com/a",
		},
		{
			name:  "default http port dropped",
			input: "http://example.com:80",
			want:  "http://example.com",
		},
		{
			name:  "non-default port kept",
			input: "https://example.com:8443/a",
			want:  "https://example.com:8443/a",
		},
		{
			name:  "bare trailing slash removed",
			input: "https://example.com/",
			want:  "https://example.com",
		},
		{
			name:  "trailing slash kept when query present",
			input: "https://example.com/?q=1",
			want:  "https://example.com/?q=1",
		},
		{
			name:  "surrounding whitespace trimmed",
			input: "  https://example.com/x  ",
			want:  "https://example.com/x",
		},
		{name: "empty input", input: "", wantErr: true},
		{name: "relative URL", input: "/just/a/path", wantErr: true},
		{name: "missing host", input: "https:///path", wantErr: true},
		{name: "unsupported scheme", input: "ftp://example.com/file", wantErr: true},
		{name: "javascript scheme", input: "javascript:alert(1)", wantErr: true},
		{name: "not a URL at all", input: "::::", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.input, 2048)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURL_LengthLimit(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("a", 2048)
	_, err := NormalizeURL(long, 2048)
	assert.Error(t, err)

	_, err = NormalizeURL(long, 0)
	assert.NoError(t, err, "zero maxLen disables the length check")
}

func TestValidAlias(t *testing.T) {
	tests := []struct {
		name  string
		alias string
		want  bool
	}{
		{"valid alias", "myLink01", true},
		{"minimum length", "abcd", true},
		{"too short", "abc", false},
		{"too long", "abcdefghijkl", false},
		{"hyphen rejected", "my-link", false},
		{"underscore rejected", "my_link", false},
		{"unicode rejected", "liénk", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidAlias(tt.alias, 4, 11))
		})
	}
}
