package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextChunker(t *testing.T) {
	t.Run("single piece when text fits", func(t *testing.T) {
		chunker := TextChunker{ChunkSize: 200}
		text := "  Analiza matematyczna jest obowiazkowym kursem pierwszego semestru.  "

		pieces := chunker.Split(text)
		require.Len(t, pieces, 1)
		assert.Equal(t, strings.TrimSpace(text), pieces[0])
	})

	t.Run("empty input yields no pieces", func(t *testing.T) {
		chunker := TextChunker{ChunkSize: 100}
		assert.Nil(t, chunker.Split("   \n\t "))
	})

	t.Run("prefers paragraph boundaries", func(t *testing.T) {
		text := `Wydzial Informatyki i Telekomunikacji oferuje studia pierwszego i drugiego stopnia. Programy lacza teorie z praktyka inzynierska.

Katedra Matematyki prowadzi kursy analizy, algebry i statystyki dla wszystkich wydzialow uczelni. Zajecia odbywaja sie w kampusie glownym.

Samorzad studencki organizuje wydarzenia kulturalne i naukowe przez caly rok akademicki. Kazdy student moze dolaczyc do jednej z kilkudziesieciu organizacji.`

		chunker := TextChunker{ChunkSize: 250}
		pieces := chunker.Split(text)

		require.GreaterOrEqual(t, len(pieces), 2, "expected the paragraphs to split")
		for i, piece := range pieces {
			assert.LessOrEqual(t, len(piece), 250, "piece %d exceeds size limit", i)
			assert.NotEmpty(t, piece)
		}

		// order preserved: key phrases appear in document order across pieces
		joined := strings.Join(pieces, " ")
		first := strings.Index(joined, "Wydzial Informatyki")
		second := strings.Index(joined, "Katedra Matematyki")
		third := strings.Index(joined, "Samorzad studencki")
		require.GreaterOrEqual(t, first, 0)
		assert.Greater(t, second, first)
		assert.Greater(t, third, second)
	})

	t.Run("falls back to sentence splits inside long paragraphs", func(t *testing.T) {
		text := "Pierwsze zdanie o kursach na uczelni. Drugie zdanie o prowadzacych zajecia. Trzecie zdanie o salach wykladowych. Czwarte zdanie o planie zajec."

		chunker := TextChunker{ChunkSize: 80}
		pieces := chunker.Split(text)

		require.GreaterOrEqual(t, len(pieces), 2)
		for i, piece := range pieces {
			assert.LessOrEqual(t, len(piece), 80, "piece %d exceeds size limit", i)
		}
	})

	t.Run("hard split as last resort", func(t *testing.T) {
		text := strings.Repeat("x", 250)
		chunker := TextChunker{ChunkSize: 100}

		pieces := chunker.Split(text)
		require.Len(t, pieces, 3)
		assert.Equal(t, 100, len(pieces[0]))
		assert.Equal(t, 100, len(pieces[1]))
		assert.Equal(t, 50, len(pieces[2]))
	})

	t.Run("zero chunk size uses the default", func(t *testing.T) {
		chunker := TextChunker{}
		pieces := chunker.Split("krotki tekst")
		require.Len(t, pieces, 1)
	})
}
