package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kaptinlin/jsonrepair"
)

// DefaultRetries bounds the repair loop when no option overrides it.
const DefaultRetries = 3

// ErrGenerationFailed is returned when no attempt produced valid JSON.
var ErrGenerationFailed = errors.New("generation failed")

// GenerationError carries the attempt count and the last rejection. It
// matches ErrGenerationFailed.
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrGenerationFailed, e.Attempts, e.Err)
}

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

func (e *GenerationError) Unwrap() error { return e.Err }

var validate = validator.New()

// Validatable types check themselves after decoding.
type Validatable interface {
	Validate() error
}

// Options configures GenerateJSON.
type Options struct {
	// Retries is the number of re-calls after the first attempt.
	Retries int
	Logger  *slog.Logger
}

// GenerateJSON calls gen and decodes the reply into T. Fenced blocks are
// stripped and malformed JSON is repaired. When decoding or validation still
// fails, the generator is called again with its previous reply and the error.
func GenerateJSON[T any](ctx context.Context, gen Generator, systemPrompt, userContent string, opts Options) (T, error) {
	var zero T
	retries := opts.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	content := userContent
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		reply, err := gen.Call(ctx, systemPrompt, content)
		if err != nil {
			return zero, fmt.Errorf("generate: %w", err)
		}

		result, err := decode[T](reply)
		if err == nil {
			return result, nil
		}

		lastErr = err
		logger.Warn("generated JSON rejected", "attempt", attempt+1, "error", err)
		content = retryContent(userContent, reply, err)
	}
	return zero, &GenerationError{Attempts: retries + 1, Err: lastErr}
}

func decode[T any](reply string) (T, error) {
	var result T
	raw := ExtractJSON(reply)
	if raw == "" {
		return result, fmt.Errorf("no JSON found in response")
	}
	if !json.Valid([]byte(raw)) {
		repaired, err := jsonrepair.JSONRepair(raw)
		if err != nil {
			return result, fmt.Errorf("repair JSON: %w", err)
		}
		raw = repaired
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return result, fmt.Errorf("decode JSON: %w", err)
	}
	if err := check(&result); err != nil {
		return result, fmt.Errorf("validate: %w", err)
	}
	return result, nil
}

func check(v any) error {
	if val, ok := v.(Validatable); ok {
		return val.Validate()
	}
	err := validate.Struct(v)
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Not a struct; nothing to validate.
		return nil
	}
	return err
}

func retryContent(original, reply string, err error) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\nYour previous response was:\n")
	b.WriteString(truncate(reply, 4000))
	b.WriteString("\n\nIt was rejected: ")
	b.WriteString(err.Error())
	b.WriteString("\nRespond again with only the corrected JSON.")
	return b.String()
}

// ExtractJSON returns the JSON payload of a reply: the body of the first
// fenced code block if present, else the span from the first { or [ to the
// last matching closer.
func ExtractJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		// Truncated output; let the repair pass close it.
		return s[start:]
	}
	return s[start : end+1]
}
