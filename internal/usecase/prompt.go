package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"asesor-agent/internal/domain"
)

// User-facing fixed texts. The advisory note is prepended to an answer that
// was produced after a neutral rewrite of a safety-blocked question.
const (
	advisoryNote   = "Nota: Tu pregunta original fue ajustada a una formulación neutral para poder procesarla."
	blockedMessage = "Tu consulta fue bloqueada por los filtros de seguridad y no pudo ser reformulada. Intenta expresarla en términos técnicos y neutrales."
)

// finalAnswerMarker delimits the model's reasoning section from the answer
// the user actually sees.
var finalAnswerMarker = regexp.MustCompile(`(?i)###\s+Respuesta Final`)

// decomposePrompt asks the model to split the question into at most three
// plain search queries, one per line, with a worked example to anchor the
// format.
func decomposePrompt(question string) string {
	return fmt.Sprintf(`Tu única tarea es descomponer la PREGUNTA DEL USUARIO en un máximo de 3 consultas de búsqueda simples para Google. Responde solo con la lista de consultas, una por línea. No añadas numeración ni explicaciones.

PREGUNTA DEL USUARIO: que pasa con mi devolucion del IVA si debo dinero del CAE? y puedo destinar esta devolucion si está retenida a fonasa o a la AFP ?
Respuesta:
retención devolución IVA por deuda CAE Chile
Tesorería General de la República retención de impuestos
pago cotizaciones previsionales con devolución de impuestos

PREGUNTA DEL USUARIO: %s
Respuesta:
`, question)
}

// sanitizePrompt asks the model to rewrite a safety-blocked question into
// neutral technical phrasing while keeping its intent.
func sanitizePrompt(question string) string {
	return fmt.Sprintf(`Tu única tarea es re-escribir la siguiente PREGUNTA ORIGINAL, que fue bloqueada por filtros de seguridad. Elimina palabras sensibles como 'evasión', 'sin declarar', 'perdonazo' o 'trucos', y reemplázalas por terminología técnica y neutral como 'obligaciones tributarias', 'tratamiento fiscal', 'beneficios tributarios' o 'planificación fiscal'. Mantén la intención original de la consulta. Responde solo con la pregunta re-formulada.

PREGUNTA ORIGINAL: Arriendo en efectivo y no lo declaro al SII, ¿qué multas me pueden pasar?
RESPUESTA RE-FORMULADA: ¿Cuáles son las obligaciones tributarias y las posibles contingencias al recibir ingresos por arriendo no declarados ante el SII?

PREGUNTA ORIGINAL: %s
RESPUESTA RE-FORMULADA:
`, question)
}

// buildFinalPrompt assembles the persona, the mandatory two-part output
// structure, the retrieved context, the truncated conversation history and the
// current question into the generation prompt.
func buildFinalPrompt(question, context string, history []domain.ConversationTurn, maxTurns int) string {
	return fmt.Sprintf(`Eres "A.I. Asesor", un experto en tributación de Chile. Tu razonamiento es transparente y te basas en hechos.

**PROCESO DE RAZONAMIENTO Y RESPUESTA:**
Sigue este formato de manera obligatoria.

### Pensamiento
1.  **Preguntas Clave:** Enumera las dudas concretas del usuario.
2.  **Hechos Extraídos del Contexto:** Cita textualmente o resume los fragmentos del GLOSARIO y del CONTEXTO que responden directamente a las preguntas clave. El GLOSARIO tiene la máxima prioridad.
3.  **Síntesis y Plan de Respuesta:** Basado en los hechos, explica cómo conectarás la información para construir una respuesta coherente. Si los hechos apuntan a una recomendación estratégica clara (ej: elegir SpA sobre EIRL para crecer), decláralo aquí. Si la información es insuficiente, indícalo.

### Respuesta Final
Ahora, sintetiza tu 'Plan de Respuesta' en un texto final, claro, profesional y bien redactado para el usuario. **Sé directo y conclusivo si la evidencia lo permite.** No copies el texto del Pensamiento; redáctalo de nuevo. Empieza directamente con la información. Cita tus fuentes y concluye siempre con la advertencia de consultar a un profesional. Si no tienes información suficiente, responde únicamente: `+"`Basado en la información disponible, no tengo una respuesta para tu consulta.`"+`

---
CONTEXTO:
%s
---
HISTORIAL DE CONVERSACIÓN RECIENTE:
%s
---
PREGUNTA ACTUAL DEL USUARIO:
"%s"
`, context, renderHistory(history, maxTurns), question)
}

// renderHistory keeps the last maxTurns turns in chronological order.
func renderHistory(history []domain.ConversationTurn, maxTurns int) string {
	if maxTurns > 0 && len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "Usuario: %q\nAsesor: %q\n", turn.User, turn.Assistant)
	}
	if b.Len() == 0 {
		return "No hay historial reciente."
	}
	return b.String()
}

// formatWebResults renders one query's search hits as a context block.
func formatWebResults(query string, results []domain.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("ADVERTENCIA: La búsqueda en Google no arrojó resultados para '%s'.", query)
	}
	var b strings.Builder
	b.WriteString("CONTEXTO OBTENIDO DE BÚSQUEDA WEB (GOOGLE):\n")
	for i, r := range results {
		fmt.Fprintf(&b, "--- Resultado Web %d ---\n", i+1)
		fmt.Fprintf(&b, "Fuente URL: %s\n", r.URL)
		fmt.Fprintf(&b, "Título: %s\n", r.Title)
		fmt.Fprintf(&b, "Contenido: %s\n\n", r.Snippet)
	}
	return b.String()
}

// formatLocalChunks renders the knowledge-base fragments as a context block.
func formatLocalChunks(chunks []domain.KnowledgeChunk) string {
	if len(chunks) == 0 {
		return "No se encontró información relevante en los documentos locales."
	}
	var b strings.Builder
	b.WriteString("CONTEXTO OBTENIDO DE DOCUMENTOS LOCALES:\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "---\nFuente del Documento: %s\n\n%s\n", c.Source, c.Text)
	}
	return b.String()
}

// extractFinalAnswer returns the text after the final-answer marker. Without
// the marker the raw output is returned verbatim; dropping or truncating
// malformed model output would hide the answer entirely.
func extractFinalAnswer(raw string) string {
	loc := finalAnswerMarker.FindStringIndex(raw)
	if loc == nil {
		return raw
	}
	return strings.TrimSpace(raw[loc[1]:])
}

// splitSearchQueries parses the decomposition output into clean query lines,
// capped at three.
func splitSearchQueries(text string) []string {
	var queries []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		queries = append(queries, line)
		if len(queries) == 3 {
			break
		}
	}
	return queries
}
