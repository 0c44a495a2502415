package report

import (
	"fmt"
	"strconv"
	"strings"
)

// SampleSize is the number of leading values embedded in the prompt.
const SampleSize = 10

const noStatistics = "Estatísticas não fornecidas"

const promptTemplate = `Gere um relatório técnico, em português do Brasil e com tom profissional e objetivo, sobre as temperaturas coletadas na estufa com chipId %s.
Intervalo de coleta: %s até %s (horário de Brasília, BRT, UTC-3).

Foram coletados %d registros de temperatura.

Estatísticas fornecidas:
%s

Primeiros valores coletados (amostra):
%s

Estruture a resposta exatamente nesta ordem, sem textos introdutórios:
1. Título do relatório.
2. Um parágrafo de resumo sobre o comportamento térmico da estufa no período.
3. Lista das estatísticas em °C: média, mínima, máxima, desvio padrão, variância, coeficiente de variação com e sem outliers e total de outliers, quando disponíveis.
4. Comentário sobre a tendência observada (aquecimento, resfriamento ou estabilidade).
5. Um comentário técnico curto sobre cada estatística apresentada.
`

// BuildPrompt renders the fixed prompt for one request.
func BuildPrompt(pc PromptContext) string {
	stats := noStatistics
	if pc.Statistics != nil {
		stats = pc.Statistics.String()
	}
	return fmt.Sprintf(promptTemplate,
		pc.ChipID,
		pc.Start, pc.End,
		pc.RecordCount,
		stats,
		formatSample(pc.Values, SampleSize),
	)
}

func formatSample(values []float64, n int) string {
	if len(values) > n {
		values = values[:n]
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
