package prompts

import (
	"strings"
	"testing"

	"transcript-classifier-go/internal/types"
)

func TestClassificationPrompt(t *testing.T) {
	target := types.Target{Person: "João Silva", Context: "vídeos do YouTube", WithExplanation: true}
	p := Classification("ele roubou a prefeitura", "Tema principal: política", target, types.DefaultLabelFields)

	for _, want := range []string{
		"calúnia, injúria ou difamação em relação à pessoa João Silva",
		"**Contexto do vídeo:**\nTema principal: política",
		"**Contexto adicional:**\nvídeos do YouTube",
		"**Calúnia:** Atribuir falsamente",
		"Calúnia: [Sim/Não]\nInjúria: [Sim/Não]\nDifamação: [Sim/Não]\nExplicação: [explicação detalhada]",
		"\"ele roubou a prefeitura\"",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q\n%s", want, p)
		}
	}
}

func TestClassificationPromptWithoutSummary(t *testing.T) {
	p := Classification("trecho", "", types.Target{}, types.DefaultLabelFields)
	if strings.Contains(p, "Contexto do vídeo") || strings.Contains(p, "Contexto adicional") {
		t.Fatal("empty summary/context must omit their blocks")
	}
	if !strings.Contains(p, PersonPlaceholder) {
		t.Fatal("missing person placeholder")
	}
	if strings.Contains(p, "Explicação:") {
		t.Fatal("explanation format requested while disabled")
	}
}

func TestSummaryPrompt(t *testing.T) {
	p := Summary("texto completo do vídeo")
	if !strings.Contains(p, "Sua tarefa é criar um resumo") || !strings.Contains(p, "texto completo do vídeo") {
		t.Fatalf("unexpected summary prompt: %s", p)
	}
}
