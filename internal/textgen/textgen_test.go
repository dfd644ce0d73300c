package textgen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator replies with canned responses in order and records calls.
type scriptedGenerator struct {
	replies []string
	calls   []string
}

func (g *scriptedGenerator) Call(_ context.Context, _, user string) (string, error) {
	g.calls = append(g.calls, user)
	if len(g.calls) > len(g.replies) {
		return g.replies[len(g.replies)-1], nil
	}
	return g.replies[len(g.calls)-1], nil
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "Here you go:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		{"prose around", `Sure! {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`},
		{"array", `result: [1,2]`, `[1,2]`},
		{"truncated", `{"a":[1,2`, `{"a":[1,2`},
		{"none", "no json here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestGenerateJSON_RepairsMalformed(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{`{"questions":[{"id":"q1","question":"Who uses it?",}]}`}}

	got, err := GenerateJSON[questionSet](context.Background(), gen, "sys", "user", Options{})
	require.NoError(t, err)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, "q1", got.Questions[0].ID)
	assert.Len(t, gen.calls, 1)
}

func TestGenerateJSON_RetriesWithError(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		`{"questions":[]}`,
		`{"questions":[{"id":"q1","question":"Scope?"}]}`,
	}}

	got, err := GenerateJSON[questionSet](context.Background(), gen, "sys", "describe", Options{})
	require.NoError(t, err)
	assert.Len(t, got.Questions, 1)
	require.Len(t, gen.calls, 2)
	assert.True(t, strings.HasPrefix(gen.calls[1], "describe"))
	assert.Contains(t, gen.calls[1], "Your previous response was:")
	assert.Contains(t, gen.calls[1], "rejected")
}

func TestGenerateJSON_GivesUp(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"not json at all"}}

	_, err := GenerateJSON[questionSet](context.Background(), gen, "sys", "user", Options{Retries: 2})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 3, genErr.Attempts)
	assert.Len(t, gen.calls, 3)
}

func TestGenerateJSON_GeneratorError(t *testing.T) {
	boom := errors.New("boom")
	gen := GeneratorFunc(func(context.Context, string, string) (string, error) { return "", boom })

	_, err := GenerateJSON[questionSet](context.Background(), gen, "sys", "user", Options{})
	assert.ErrorIs(t, err, boom)
}

func TestServicePRD(t *testing.T) {
	reply := "```json\n" + `{"project":"todo","description":"todo app","branchName":"storyloop/todo",
"userStories":[{"id":"US-001","title":"Add item","acceptanceCriteria":["item saved"],"priority":1,"passes":true}]}` + "\n```"
	gen := &scriptedGenerator{replies: []string{reply}}
	svc := NewService(gen)

	questions := []Question{{ID: "q1", Question: "Storage?"}}
	answers := []Answer{{QuestionID: "q1", Answer: "sqlite"}, {QuestionID: "q9", Answer: "extra"}}
	doc, err := svc.PRD(context.Background(), "a todo app", questions, answers)
	require.NoError(t, err)

	assert.Equal(t, "todo", doc.ProjectName)
	require.Len(t, doc.Stories, 1)
	assert.False(t, doc.Stories[0].Passes, "generated stories start unfinished")
	assert.Contains(t, gen.calls[0], "- Storage?\n  sqlite")
	assert.Contains(t, gen.calls[0], "- q9\n  extra")
}

func TestServicePRD_RejectsDuplicateIDs(t *testing.T) {
	dup := `{"project":"x","userStories":[{"id":"A","title":"a"},{"id":"A","title":"b"}]}`
	gen := &scriptedGenerator{replies: []string{dup}}
	svc := NewService(gen, WithRetries(1))

	_, err := svc.PRD(context.Background(), "x", nil, nil)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Len(t, gen.calls, 2)
}

func TestServiceQuestions(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{`{"questions":[{"id":"q1","question":"Who?","options":["me","you"]}]}`}}
	svc := NewService(gen)

	qs, err := svc.Questions(context.Background(), "build a thing")
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, []string{"me", "you"}, qs[0].Options)

	_, err = svc.Questions(context.Background(), "  ")
	assert.Error(t, err)
}

func TestCommandGenerator(t *testing.T) {
	gen := &CommandGenerator{Argv: []string{"cat"}}
	out, err := gen.Call(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "system\n\nuser", out)

	_, err = NewCommandGenerator("nope", "")
	assert.Error(t, err)

	claude, err := NewCommandGenerator("claude", "/tmp")
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "-p"}, claude.Argv)
}
