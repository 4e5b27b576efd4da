package moderation

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// chatBodies are sized like real messages: a one-word reply up to a long paragraph.
var chatBodies = map[string]string{
	"short_clean":    "ok see you at 8",
	"short_censored": "you idiot",
	"obfuscated":     "what a s.t.u.p.i.d b4dg3r, honestly",
	"sentence_fr":    "Le blaireau est un animal nocturne qui vit dans les forêts et les prairies de France",
	"paragraph": strings.Repeat("Thanks for the notes from yesterday, I will forward them to the team "+
		"before the review and ping you if something is missing. ", 8),
}

// syntheticDictionary returns the embedded words plus n generated ones, the size of a production blacklist.
func syntheticDictionary(b *testing.B, n int) []string {
	b.Helper()
	data, err := NewCensoredLoader(Censored).LoadAll("censored")
	require.NoError(b, err)
	words := make([]string, 0, len(data.Words)+n)
	words = append(words, data.Words...)
	for i := 0; i < n; i++ {
		words = append(words, fmt.Sprintf("blocked%dword", i))
	}
	return words
}

func BenchmarkModerator_Filter(b *testing.B) {
	mod, err := NewModerator(syntheticDictionary(b, 10_000), '*', logs.GetLoggerFromLevel(slog.LevelError))
	require.NoError(b, err)

	for name, body := range chatBodies {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(body)))
			for i := 0; i < b.N; i++ {
				_, _ = mod.Filter(body)
			}
		})
	}
}

func BenchmarkModerator_Startup(b *testing.B) {
	if testing.Short() {
		b.Skip("builds a 100k words automaton")
	}
	var dictionary strings.Builder
	for i := 0; i < 100_000; i++ {
		fmt.Fprintf(&dictionary, "blocked%dword\r\n", i)
	}
	dir := fstest.MapFS{"words/big.txt": &fstest.MapFile{Data: []byte(dictionary.String())}}
	log := logs.GetLoggerFromLevel(slog.LevelError)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := NewCensoredLoader(dir).LoadAll("words")
		require.NoError(b, err)
		_, err = NewModerator(data.Words, '*', log)
		require.NoError(b, err)
	}
}

func TestModerator_Filter_Chat_Bodies(t *testing.T) {
	req := require.New(t)
	data, err := NewCensoredLoader(Censored).LoadAll("censored")
	req.NoError(err)
	mod, err := NewModerator(data.Words, '*', slog.Default())
	req.NoError(err)

	for name, body := range chatBodies {
		sanitized, _ := mod.Filter(body)
		// Censoring never changes the length of the body
		req.Equal(len([]rune(body)), len([]rune(sanitized)), name)
	}

	sanitized, _ := mod.Filter(chatBodies["short_censored"])
	req.Equal("you *****", sanitized)
	sanitized, _ = mod.Filter(chatBodies["short_clean"])
	req.Equal(chatBodies["short_clean"], sanitized)
}
