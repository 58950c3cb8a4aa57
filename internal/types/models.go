package types

import "strings"

// Label is the stored outcome of one label field for one row.
// The zero value is pending (unset cell in the dataset).
type Label string

const (
	LabelPending Label = ""
	LabelYes     Label = "Sim"
	LabelNo      Label = "Não"
	LabelError   Label = "Erro"
)

// ParseLabel maps a raw cell value to a Label. Unknown non-empty values are
// kept verbatim so a checkpoint round-trips untouched.
func ParseLabel(s string) Label {
	v := strings.TrimSpace(s)
	switch strings.ToLower(v) {
	case "":
		return LabelPending
	case "sim", "yes":
		return LabelYes
	case "não", "nao", "no":
		return LabelNo
	case "erro", "error":
		return LabelError
	}
	return Label(v)
}

func (l Label) Pending() bool { return l == LabelPending }

// LabelField ties a response prefix to the dataset column that stores it.
type LabelField struct {
	Key        string `json:"key" yaml:"key"`
	Prefix     string `json:"prefix" yaml:"prefix"`
	Column     string `json:"column" yaml:"column"`
	Definition string `json:"definition,omitempty" yaml:"definition"`
}

// Name is the prefix without its colon ("Calúnia").
func (f LabelField) Name() string { return strings.TrimSuffix(f.Prefix, ":") }

// Default label set: calúnia, injúria, difamação.
var DefaultLabelFields = []LabelField{
	{
		Key: "calunia", Prefix: "Calúnia:", Column: "Calúnia_IA",
		Definition: "Atribuir falsamente a alguém fato definido como crime.\n- Exemplos: Acusar alguém de roubo, fraude, corrupção sem provas",
	},
	{
		Key: "injuria", Prefix: "Injúria:", Column: "Injúria_IA",
		Definition: "Ofender a dignidade ou o decoro de alguém.\n- Exemplos: Xingamentos, ofensas pessoais, ataques ao caráter",
	},
	{
		Key: "difamacao", Prefix: "Difamação:", Column: "Difamação_IA",
		Definition: "Imputar a alguém fato ofensivo à sua reputação.\n- Exemplos: Espalhar boatos prejudiciais, atribuir comportamentos que manchem a reputação",
	},
}

const (
	ExplanationPrefix = "Explicação:"
	ExplanationColumn = "Explicação_IA"
)

// Row is one classification unit. Cells holds every column of the source
// sheet (label columns included) so unknown columns pass through untouched.
type Row struct {
	Index    int               `json:"index"`
	EntityID string            `json:"entity_id"`
	Text     string            `json:"text"`
	Cells    map[string]string `json:"cells"`
}

// Classification is the parsed model answer for one row.
type Classification struct {
	Labels      map[string]Label `json:"labels"`
	Explanation string           `json:"explanation,omitempty"`
}

// ErrorClassification marks every field as error and keeps a note.
func ErrorClassification(fields []LabelField, note string) Classification {
	c := Classification{Labels: make(map[string]Label, len(fields)), Explanation: note}
	for _, f := range fields {
		c.Labels[f.Key] = LabelError
	}
	return c
}

// Target is fixed for one pipeline run.
type Target struct {
	Person          string `json:"target_person"`
	Context         string `json:"analysis_context,omitempty"`
	WithExplanation bool   `json:"with_explanation"`
}
