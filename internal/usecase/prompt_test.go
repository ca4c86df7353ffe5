package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"asesor-agent/internal/domain"
)

func TestExtractFinalAnswer(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "marker present",
			raw:  "### Pensamiento\nrazonamiento interno\n### Respuesta Final\nLa respuesta.",
			want: "La respuesta.",
		},
		{
			name: "marker case insensitive",
			raw:  "### pensamiento\n...\n### respuesta final\n  Con espacios.  ",
			want: "Con espacios.",
		},
		{
			name: "marker with extra spacing",
			raw:  "###   Respuesta Final\ntexto",
			want: "texto",
		},
		{
			name: "marker absent returns verbatim",
			raw:  "Salida sin estructura que igual debe llegar al usuario.",
			want: "Salida sin estructura que igual debe llegar al usuario.",
		},
		{
			name: "empty input",
			raw:  "",
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, extractFinalAnswer(tc.raw))
		})
	}
}

func TestSplitSearchQueries(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"simple list", "uno\ndos", []string{"uno", "dos"}},
		{"trims and drops blanks", "  uno  \n\n dos \n   ", []string{"uno", "dos"}},
		{"caps at three", "a\nb\nc\nd", []string{"a", "b", "c"}},
		{"all blank", " \n\t\n", nil},
		{"empty", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, splitSearchQueries(tc.text))
		})
	}
}

func TestRenderHistory(t *testing.T) {
	history := []domain.ConversationTurn{
		{User: "hola", Assistant: "buenas"},
		{User: "sigo", Assistant: "claro"},
		{User: "último", Assistant: "fin"},
	}

	t.Run("keeps last N turns", func(t *testing.T) {
		out := renderHistory(history, 2)
		require.NotContains(t, out, "hola")
		require.Contains(t, out, `Usuario: "sigo"`)
		require.Contains(t, out, `Asesor: "fin"`)
	})

	t.Run("empty history placeholder", func(t *testing.T) {
		require.Equal(t, "No hay historial reciente.", renderHistory(nil, 4))
	})
}

func TestFormatWebResults(t *testing.T) {
	t.Run("numbers results in order", func(t *testing.T) {
		out := formatWebResults("iva chile", []domain.SearchResult{
			{Title: "SII", URL: "https://sii.cl", Snippet: "El IVA es..."},
			{Title: "BCN", URL: "https://bcn.cl", Snippet: "Ley del IVA"},
		})
		require.True(t, strings.HasPrefix(out, "CONTEXTO OBTENIDO DE BÚSQUEDA WEB (GOOGLE):"))
		require.Less(t, strings.Index(out, "--- Resultado Web 1 ---"), strings.Index(out, "--- Resultado Web 2 ---"))
		require.Contains(t, out, "Fuente URL: https://sii.cl")
	})

	t.Run("no results warning carries the query", func(t *testing.T) {
		out := formatWebResults("consulta rara", nil)
		require.Contains(t, out, "no arrojó resultados")
		require.Contains(t, out, "consulta rara")
	})
}

func TestFormatLocalChunks(t *testing.T) {
	t.Run("labels sources", func(t *testing.T) {
		out := formatLocalChunks([]domain.KnowledgeChunk{
			{Text: "Texto del documento.", Source: "ley_renta.pdf"},
		})
		require.True(t, strings.HasPrefix(out, "CONTEXTO OBTENIDO DE DOCUMENTOS LOCALES:"))
		require.Contains(t, out, "Fuente del Documento: ley_renta.pdf")
	})

	t.Run("empty corpus placeholder", func(t *testing.T) {
		require.Equal(t, "No se encontró información relevante en los documentos locales.", formatLocalChunks(nil))
	})
}

func TestBuildFinalPrompt_Structure(t *testing.T) {
	prompt := buildFinalPrompt("¿Qué es el PPM?", "contexto de prueba", nil, 4)

	require.Contains(t, prompt, `Eres "A.I. Asesor"`)
	require.Contains(t, prompt, "### Pensamiento")
	require.Contains(t, prompt, "### Respuesta Final")
	require.Contains(t, prompt, "contexto de prueba")
	require.Contains(t, prompt, "No hay historial reciente.")
	require.Contains(t, prompt, `"¿Qué es el PPM?"`)

	// The required output structure comes before the context block.
	require.Less(t, strings.Index(prompt, "### Respuesta Final"), strings.Index(prompt, "CONTEXTO:"))
}
