package moderation

import (
	"bufio"
	"bytes"
	"embed"
	"io/fs"
	"live-queue/errors"
	"path"
	"strings"
)

//go:embed censored/*.txt
var censoredFolder embed.FS

// CensoredData carries the loaded dictionary and the languages it came from.
type CensoredData struct {
	Words     []string
	Languages []string
}

// LoadEmbedded reads the dictionaries shipped with the binary.
func LoadEmbedded() (*CensoredData, error) {
	return LoadAll(censoredFolder, "censored")
}

// LoadAll reads every "<lang>.txt" file of dir, one word or phrase per line,
// and deduplicates the result.
func LoadAll(fsys fs.FS, dir string) (*CensoredData, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var languages []string
	uniqueWords := make(map[string]struct{})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		// bufio handles \n and \r\n alike
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				uniqueWords[line] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	if len(uniqueWords) == 0 {
		return nil, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(uniqueWords))
	for w := range uniqueWords {
		words = append(words, w)
	}
	return &CensoredData{Words: words, Languages: languages}, nil
}
