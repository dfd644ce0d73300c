package textgen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/randalmurphal/storyloop/internal/prd"
)

// Question is a clarifying question asked before the PRD is written.
type Question struct {
	ID       string   `json:"id" validate:"required"`
	Question string   `json:"question" validate:"required"`
	Options  []string `json:"options,omitempty"`
}

// Answer pairs a question id with the user's reply.
type Answer struct {
	QuestionID string `json:"questionId" validate:"required"`
	Answer     string `json:"answer"`
}

type questionSet struct {
	Questions []Question `json:"questions" validate:"required,min=1,max=10,dive"`
}

const questionsSystemPrompt = `You help turn a feature request into a product requirements document.
Ask the clarifying questions whose answers would change the implementation.
Respond with only JSON of the form:
{"questions":[{"id":"q1","question":"...","options":["...","..."]}]}
Ask between 3 and 7 questions. Options are optional suggested answers.`

const prdSystemPrompt = `You write product requirements documents as small, independently verifiable user stories.
Each story must be completable in one focused coding session and have concrete acceptance criteria.
Lower priority numbers are implemented first. All stories start with "passes": false.
Respond with only JSON of the form:
{"project":"...","description":"...","branchName":"...","userStories":[{"id":"US-001","title":"...","description":"...","acceptanceCriteria":["..."],"priority":1,"passes":false}]}`

// Service runs the question and PRD generation calls.
type Service struct {
	gen     Generator
	retries int
	logger  *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRetries sets the repair loop bound.
func WithRetries(n int) ServiceOption {
	return func(s *Service) { s.retries = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service over gen.
func NewService(gen Generator, opts ...ServiceOption) *Service {
	s := &Service{gen: gen, retries: DefaultRetries}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Service) options() Options {
	return Options{Retries: s.retries, Logger: s.logger}
}

// Questions generates clarifying questions for a feature description.
func (s *Service) Questions(ctx context.Context, description string) ([]Question, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("questions: empty description")
	}
	set, err := GenerateJSON[questionSet](ctx, s.gen, questionsSystemPrompt,
		"Feature request:\n"+description, s.options())
	if err != nil {
		return nil, err
	}
	return set.Questions, nil
}

// PRD generates a requirements document from a description and answers.
func (s *Service) PRD(ctx context.Context, description string, questions []Question, answers []Answer) (*prd.Document, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("prd: empty description")
	}
	doc, err := GenerateJSON[prd.Document](ctx, s.gen, prdSystemPrompt,
		prdUserContent(description, questions, answers), s.options())
	if err != nil {
		return nil, err
	}
	for i := range doc.Stories {
		doc.Stories[i].Passes = false
	}
	return &doc, nil
}

func prdUserContent(description string, questions []Question, answers []Answer) string {
	var b strings.Builder
	b.WriteString("Feature request:\n")
	b.WriteString(description)

	if len(answers) > 0 {
		text := make(map[string]string, len(questions))
		for _, q := range questions {
			text[q.ID] = q.Question
		}
		b.WriteString("\n\nClarifications:\n")
		for _, a := range answers {
			q := text[a.QuestionID]
			if q == "" {
				q = a.QuestionID
			}
			fmt.Fprintf(&b, "- %s\n  %s\n", q, a.Answer)
		}
	}
	return b.String()
}
