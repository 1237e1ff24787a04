package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/metrics"
	"go.uber.org/zap"
)

const (
	// MaxAttempts bounds model calls per classification
	MaxAttempts = 2
	// AgentName identifies the classifier in the AI log
	AgentName = "email_classifier"
	// SystemPrompt is sent with every classification
	SystemPrompt = "Return JSON only."
	// Temperature keeps the output close to deterministic
	Temperature = 0.2
	// NoSubject replaces an empty subject in the prompt
	NoSubject = "(No Subject)"
	// DefaultAttemptTimeout bounds a single model call
	DefaultAttemptTimeout = 30 * time.Second
)

var (
	// ErrEmptyBody indicates the email has no body to classify
	ErrEmptyBody = errors.New("email body is empty")
	// ErrInvalidAnnotation indicates the model output broke the JSON contract
	ErrInvalidAnnotation = errors.New("invalid annotation")
	// ErrClassificationFailed indicates no attempt produced a valid annotation
	ErrClassificationFailed = errors.New("classification failed")
)

// Urgency values accepted from the model
var Urgencies = []string{"low", "medium", "high"}

// Categories the prompt offers to the model
var Categories = []string{"meeting", "task", "academic", "finance", "personal", "info", "spam"}

var requiredKeys = []string{"summary", "urgency", "category", "actions", "deadline"}

// Annotation is the structured result attached to an email
type Annotation struct {
	Summary  string     `json:"summary"`
	Urgency  string     `json:"urgency"`
	Category string     `json:"category"`
	Actions  []any      `json:"actions"`
	Deadline *time.Time `json:"deadline"`
}

// Attempt describes one model call, successful or not
type Attempt struct {
	Number  int
	Model   string
	Prompt  string
	Output  string
	Latency time.Duration
	Err     error
}

// Classifier turns an email into an Annotation using a language model
type Classifier struct {
	llm     Completer
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClassifier creates a classifier. A zero timeout uses DefaultAttemptTimeout.
func NewClassifier(llm Completer, model string, timeout time.Duration, logger *zap.Logger) *Classifier {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		llm:     llm,
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

// Model returns the model name sent with each request
func (c *Classifier) Model() string {
	return c.model
}

// BuildPrompt renders the classification prompt
func BuildPrompt(subject, body string) string {
	if strings.TrimSpace(subject) == "" {
		subject = NoSubject
	}

	var b strings.Builder
	b.WriteString("You are the email triage system of an executive's office.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Respond with exactly one JSON object and nothing else.\n")
	b.WriteString("- No markdown, no code fences, no commentary.\n")
	b.WriteString("- Every field below must be present.\n")
	b.WriteString("- When the email is a single line, the summary repeats that line.\n\n")
	b.WriteString("JSON shape:\n")
	b.WriteString("{\n")
	b.WriteString("  \"summary\": \"one or two sentence summary\",\n")
	b.WriteString("  \"urgency\": \"" + strings.Join(Urgencies, "|") + "\",\n")
	b.WriteString("  \"category\": \"" + strings.Join(Categories, "|") + "\",\n")
	b.WriteString("  \"actions\": [],\n")
	b.WriteString("  \"deadline\": \"ISO-8601 timestamp or null\"\n")
	b.WriteString("}\n\n")
	b.WriteString("EMAIL SUBJECT:\n")
	b.WriteString(subject)
	b.WriteString("\n\nEMAIL BODY:\n")
	b.WriteString(body)
	return b.String()
}

// Classify calls the model up to MaxAttempts times and returns the first valid annotation.
// Every attempt is returned for auditing. An empty body fails before any call.
func (c *Classifier) Classify(ctx context.Context, subject, body string) (*Annotation, []Attempt, error) {
	if strings.TrimSpace(body) == "" {
		return nil, nil, ErrEmptyBody
	}
	if c.llm == nil {
		return nil, nil, ErrNotConfigured
	}

	prompt := BuildPrompt(subject, body)
	attempts := make([]Attempt, 0, MaxAttempts)
	var lastErr error

	for n := 1; n <= MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		attempt := c.call(ctx, n, prompt)
		var annotation *Annotation
		if attempt.Err == nil {
			annotation, attempt.Err = ParseAnnotation(attempt.Output)
		}
		attempts = append(attempts, attempt)

		switch {
		case attempt.Err == nil:
			metrics.RecordClassifierAttempt("valid", attempt.Latency)
			return annotation, attempts, nil
		case errors.Is(attempt.Err, ErrInvalidAnnotation):
			metrics.RecordClassifierAttempt("invalid", attempt.Latency)
		default:
			metrics.RecordClassifierAttempt("error", attempt.Latency)
		}

		c.logger.Warn("classification attempt failed",
			zap.Int("attempt", n),
			zap.Duration("latency", attempt.Latency),
			zap.Error(attempt.Err),
		)
		lastErr = attempt.Err

		// no point retrying without credentials
		if errors.Is(attempt.Err, ErrNotConfigured) {
			break
		}
	}

	return nil, attempts, fmt.Errorf("%w after %d attempt(s): %v", ErrClassificationFailed, len(attempts), lastErr)
}

func (c *Classifier) call(ctx context.Context, n int, prompt string) Attempt {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	output, err := c.llm.Complete(attemptCtx, CompletionRequest{
		Model:        c.model,
		SystemPrompt: SystemPrompt,
		UserPrompt:   prompt,
		Temperature:  Temperature,
	})
	return Attempt{
		Number:  n,
		Model:   c.model,
		Prompt:  prompt,
		Output:  output,
		Latency: time.Since(start),
		Err:     err,
	}
}

// ParseAnnotation validates raw model output against the annotation contract.
// Surrounding code fences are tolerated. An unparsable deadline is dropped, not rejected.
func ParseAnnotation(raw string) (*Annotation, error) {
	text := stripCodeFence(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrInvalidAnnotation, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null", ErrInvalidAnnotation)
	}
	for _, key := range requiredKeys {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalidAnnotation, key)
		}
	}

	annotation := &Annotation{}
	summary, err := optionalString(fields["summary"])
	if err != nil {
		return nil, fmt.Errorf("%w: summary must be a string", ErrInvalidAnnotation)
	}
	annotation.Summary = strings.TrimSpace(summary)

	var urgency string
	if err := json.Unmarshal(fields["urgency"], &urgency); err != nil {
		return nil, fmt.Errorf("%w: urgency must be a string", ErrInvalidAnnotation)
	}
	urgency = strings.ToLower(strings.TrimSpace(urgency))
	if !isUrgency(urgency) {
		return nil, fmt.Errorf("%w: urgency %q", ErrInvalidAnnotation, urgency)
	}
	annotation.Urgency = urgency

	category, err := optionalString(fields["category"])
	if err != nil {
		return nil, fmt.Errorf("%w: category must be a string", ErrInvalidAnnotation)
	}
	annotation.Category = strings.ToLower(strings.TrimSpace(category))

	var actions []any
	if err := json.Unmarshal(fields["actions"], &actions); err != nil || actions == nil {
		return nil, fmt.Errorf("%w: actions must be a list", ErrInvalidAnnotation)
	}
	annotation.Actions = actions

	var deadline *string
	if err := json.Unmarshal(fields["deadline"], &deadline); err == nil && deadline != nil {
		annotation.Deadline = ParseDeadline(*deadline)
	}

	return annotation, nil
}

// optionalString reads a JSON string where null means empty.
// Numbers, objects and lists are errors.
func optionalString(raw json.RawMessage) (string, error) {
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	if s == nil {
		return "", nil
	}
	return *s, nil
}

func isUrgency(s string) bool {
	for _, u := range Urgencies {
		if s == u {
			return true
		}
	}
	return false
}

var deadlineLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDeadline parses an ISO-8601 timestamp. Values without a zone are taken as UTC.
// It returns nil when nothing matches.
func ParseDeadline(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
