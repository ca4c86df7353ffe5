package usecase

import (
	"fmt"
	"regexp"
	"strings"
)

// glossaryEntry pairs a domain acronym with its authoritative definition.
// Matches from the glossary outrank anything retrieved from the web or the
// local corpus, so their definitions are injected ahead of all other context.
type glossaryEntry struct {
	term       string
	definition string
	pattern    *regexp.Regexp
}

// conceptGlossary is evaluated in declaration order so injected definitions
// come out deterministically.
var conceptGlossary = buildGlossary([]struct{ term, definition string }{
	{"IVA", "Impuesto al Valor Agregado (19% en Chile). Grava la venta de bienes y la prestación de servicios. Se declara mensualmente en el Formulario 29."},
	{"IDPC", "Impuesto de Primera Categoría. Es el impuesto que pagan las empresas sobre sus utilidades. La tasa varía según el régimen tributario (ej: 10% para Pro Pyme General)."},
	{"IGC", "Impuesto Global Complementario. Es un impuesto personal, progresivo, que se aplica a la suma de todos los ingresos de una persona natural durante un año (sueldos, honorarios, retiros de utilidades). Se declara en el Formulario 22."},
	{"GASTO RECHAZADO", "Un gasto que el SII no considera necesario para producir la renta de la empresa (ej: gastos personales pagados con fondos de la empresa). Estos gastos no rebajan la base imponible y están sujetos a un impuesto castigo del 40% (Art. 21 LIR)."},
	{"SpA", "Sociedad por Acciones. Tipo de sociedad muy flexible que permite tener uno o más accionistas. Ideal para crecimiento y entrada de inversionistas."},
	{"EIRL", "Empresa Individual de Responsabilidad Limitada. Diseñada para un único dueño. La responsabilidad se limita al capital de la empresa."},
	{"PPM", "Pago Provisional Mensual. Es un pago anticipado del Impuesto a la Renta que las empresas y profesionales independientes realizan mensualmente."},
	{"SII", "Servicio de Impuestos Internos. La entidad fiscalizadora que administra y cobra los impuestos en Chile."},
	{"TGR", "Tesorería General de la República. Entidad que recauda y custodia los fondos públicos."},
	{"AFP", "Administradora de Fondos de Pensiones."},
	{"FONASA", "Fondo Nacional de Salud."},
	{"DFL2", "Decreto con Fuerza de Ley 2. Define las 'viviendas económicas' con beneficios tributarios."},
	{"8.000 UF", "Límite máximo de ganancia exenta de impuestos por la venta de bienes raíces durante toda la vida de un contribuyente."},
})

func buildGlossary(raw []struct{ term, definition string }) []glossaryEntry {
	entries := make([]glossaryEntry, 0, len(raw))
	for _, r := range raw {
		entries = append(entries, glossaryEntry{
			term:       r.term,
			definition: r.definition,
			pattern:    regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(r.term) + `\b`),
		})
	}
	return entries
}

// injectGlossary prepends the definitions of every glossary term mentioned in
// the question, marked as highest priority, ahead of the retrieved context.
// With no matches the context passes through untouched.
func injectGlossary(question, context string) string {
	var definitions strings.Builder
	for _, entry := range conceptGlossary {
		if entry.pattern.MatchString(question) {
			fmt.Fprintf(&definitions, "- %s: %s\n", entry.term, entry.definition)
		}
	}
	if definitions.Len() == 0 {
		return context
	}
	return fmt.Sprintf("GLOSARIO DE CONCEPTOS CLAVE (Máxima Prioridad):\n%s\n---\n%s", definitions.String(), context)
}
