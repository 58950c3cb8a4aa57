package llm

import (
	"context"
	"strings"
	"sync/atomic"
)

const (
	mockClassification = "Calúnia: Não\nInjúria: Não\nDifamação: Não\nExplicação: resposta simulada (modo mock)"
	mockSummary        = "- Tema principal: conteúdo simulado\n- Resumo geral: texto gerado em modo mock."

	summaryMarker = "Sua tarefa é criar um resumo"
)

// Mock answers deterministically without network access. Prompts asking for
// a summary get a summary, everything else gets a well-formed classification.
type Mock struct {
	calls atomic.Int64
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Generate(ctx context.Context, prompt string) (string, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.Contains(prompt, summaryMarker) {
		return mockSummary, nil
	}
	return mockClassification, nil
}

func (m *Mock) Calls() int64 { return m.calls.Load() }
