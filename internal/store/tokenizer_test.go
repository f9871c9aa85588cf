package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "english words lowercased",
			input: "Hello World",
			want:  []string{"hello", "world"},
		},
		{
			name:  "punctuation splits tokens",
			input: "foo-bar, baz.qux!",
			want:  []string{"foo", "bar", "baz", "qux"},
		},
		{
			name:  "cjk emitted per character",
			input: "总结一下",
			want:  []string{"总", "结", "一", "下"},
		},
		{
			name:  "mixed latin and cjk",
			input: "chapter 3 总结",
			want:  []string{"chapter", "3", "总", "结"},
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
		{
			name:  "whitespace only",
			input: "   \t\n",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.input))
		})
	}
}
