package moderation

import (
	"bufio"
	"chat-sync/errors"
	"embed"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/samber/lo"
)

//go:embed censored/*.txt
var Censored embed.FS

const dictionaryExt = ".txt"

// CensoredData is the merged blacklist and the dictionaries it came from.
type CensoredData struct {
	Words     []string
	Languages []string
}

// CensoredLoader reads one dictionary per language from a directory: "fr.txt" holds the French words,
// one per line, '#' starting a comment line.
type CensoredLoader struct {
	fs fs.FS
}

func NewCensoredLoader(f fs.FS) *CensoredLoader {
	return &CensoredLoader{fs: f}
}

// LoadAll merges every dictionary of dir. Words listed by several languages are kept once, sorted.
func (l *CensoredLoader) LoadAll(dir string) (*CensoredData, error) {
	entries, err := fs.ReadDir(l.fs, dir)
	if err != nil {
		return nil, err
	}
	dictionaries := lo.Filter(entries, func(e fs.DirEntry, _ int) bool {
		return !e.IsDir() && strings.HasSuffix(e.Name(), dictionaryExt)
	})

	data := &CensoredData{}
	for _, entry := range dictionaries {
		words, err := l.readDictionary(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		data.Languages = append(data.Languages, strings.TrimSuffix(entry.Name(), dictionaryExt))
		data.Words = append(data.Words, words...)
	}

	data.Words = lo.Uniq(data.Words)
	if len(data.Words) == 0 {
		return nil, errors.ErrEmptyWords
	}
	slices.Sort(data.Words)
	return data, nil
}

func (l *CensoredLoader) readDictionary(name string) ([]string, error) {
	file, err := l.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var words []string
	// bufio.Scanner drops the '\r' of CRLF dictionaries
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word == "" || strings.HasPrefix(word, "#") {
			continue
		}
		words = append(words, word)
	}
	return words, scanner.Err()
}
