package prompts

import (
	"fmt"
	"strings"

	"transcript-classifier-go/internal/types"
)

// PersonPlaceholder stands in when no target person is configured.
const PersonPlaceholder = "[PESSOA ESPECÍFICA]"

// Summary builds the per-video summary prompt from the full transcript.
func Summary(fullTranscript string) string {
	prompt := `
Você é um assistente especializado em análise de conteúdo. Sua tarefa é criar um resumo abrangente e objetivo do seguinte conteúdo de vídeo transcrito.

**Instruções para o resumo:**
- Identifique o tema principal e subtemas abordados
- Liste as principais pessoas mencionadas
- Descreva o tom geral do conteúdo (neutro, crítico, elogioso, etc.)
- Identifique o contexto (notícia, debate, entrevista, opinião, etc.)
- Mencione os principais pontos ou argumentos apresentados
- Mantenha objetividade e neutralidade

**Formato do resumo:**
- Tema principal: [tema]
- Pessoas mencionadas: [lista de pessoas]
- Contexto: [tipo de conteúdo]
- Tom geral: [tom]
- Principais pontos: [lista de pontos principais]
- Resumo geral: [resumo em 2-3 parágrafos]

**Transcrição completa:**
%s

Por favor, forneça um resumo seguindo o formato especificado.
`
	return fmt.Sprintf(prompt, fullTranscript)
}

// Classification builds the prompt for one segment. summary may be empty;
// the context block is then omitted and classification still proceeds.
func Classification(segment, summary string, target types.Target, fields []types.LabelField) string {
	person := strings.TrimSpace(target.Person)
	if person == "" {
		person = PersonPlaceholder
	}

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, strings.ToLower(f.Name()))
	}
	labelList := joinPT(names)

	var b strings.Builder
	fmt.Fprintf(&b, "\nVocê é um assistente especializado em análise jurídica de conteúdo para identificar possíveis casos de %s em relação à pessoa %s.\n\n", labelList, person)

	if s := strings.TrimSpace(summary); s != "" {
		fmt.Fprintf(&b, "**Contexto do vídeo:**\n%s\n\n", s)
	}
	if c := strings.TrimSpace(target.Context); c != "" {
		fmt.Fprintf(&b, "**Contexto adicional:**\n%s\n\n", c)
	}

	b.WriteString("**Definições jurídicas:**\n\n")
	for _, f := range fields {
		if f.Definition == "" {
			continue
		}
		fmt.Fprintf(&b, "**%s:** %s\n\n", f.Name(), f.Definition)
	}

	fmt.Fprintf(&b, "**Sua tarefa:** Analise o trecho fornecido e determine se contém elementos que se enquadram em %s contra %s.", labelList, person)
	if target.WithExplanation {
		b.WriteString(" Forneça uma explicação clara para cada classificação.")
	}

	b.WriteString("\n\n**Formato da resposta:**\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "%s [Sim/Não]\n", f.Prefix)
	}
	if target.WithExplanation {
		fmt.Fprintf(&b, "%s [explicação detalhada]\n", types.ExplanationPrefix)
	}

	fmt.Fprintf(&b, "\n**Trecho a ser analisado:**\n\"%s\"\n\n", segment)
	b.WriteString("Analise o trecho acima considerando as definições jurídicas e o contexto fornecido.\n")
	return b.String()
}

// joinPT joins with commas and a final "ou".
func joinPT(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " ou " + items[len(items)-1]
}
