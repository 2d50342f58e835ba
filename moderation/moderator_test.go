package moderation

import (
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"live-queue/errors"
)

const replacementChar = '*'

func TestModerator_Censor(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	dictionary := []string{"badger", "snake", "mushroom"}
	mod, err := NewModerator(dictionary, replacementChar, log)
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{
			name:     "Simple word and space preservation",
			input:    "The badger is here",
			expected: "The ****** is here",
			words:    []string{"badger"},
		},
		{
			name:     "Multiple occurrences",
			input:    "badger badger",
			expected: "****** ******",
			words:    []string{"badger", "badger"},
		},
		{
			name:     "Leet speak and internal punctuation",
			input:    "Look at b.4.d.g.3.r now",
			expected: "Look at *********** now",
			words:    []string{"badger"},
		},
		{
			name:     "Uppercase with separators",
			input:    "S-N-A-K-E here",
			expected: "********* here",
			words:    []string{"snake"},
		},
		{
			name:     "Nothing to censor",
			input:    "When is the next release?",
			expected: "When is the next release?",
			words:    nil,
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
			words:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			got, words := mod.Censor(tt.input)
			req.Equal(tt.expected, got)
			req.Equal(len(tt.words), len(words))
			for i, w := range tt.words {
				req.Equal(w, words[i])
			}
		})
	}
}

func TestLoadEmbedded(t *testing.T) {
	req := require.New(t)

	data, err := LoadEmbedded()

	req.NoError(err)
	req.ElementsMatch([]string{"en", "es"}, data.Languages)
	req.Contains(data.Words, "idiot")
	req.Contains(data.Words, "idiota")
}

func TestLoadAll_EmptyDictionary(t *testing.T) {
	req := require.New(t)
	fsys := fstest.MapFS{
		"censored/en.txt":    {Data: []byte("\n  \r\n")},
		"censored/README.md": {Data: []byte("ignored")},
	}

	_, err := LoadAll(fsys, "censored")

	req.ErrorIs(err, errors.ErrEmptyWords)
}

func TestLoadAll_Deduplicates(t *testing.T) {
	req := require.New(t)
	fsys := fstest.MapFS{
		"censored/en.txt": {Data: []byte("idiot\r\nmoron\n")},
		"censored/fr.txt": {Data: []byte("idiot\ncrétin\n")},
	}

	data, err := LoadAll(fsys, "censored")

	req.NoError(err)
	req.ElementsMatch([]string{"idiot", "moron", "crétin"}, data.Words)
	req.ElementsMatch([]string{"en", "fr"}, data.Languages)
}
