package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	maildomain "scholarmail-backend/internal/mail/domain"
)

// ClassifyInput carries one message plus the retrieved context the
// classifier may use.
type ClassifyInput struct {
	From    string
	Subject string
	Body    string
	// Knowledge holds knowledge-base snippets relevant to the message.
	Knowledge []string
	// ThreadSummary holds prior decisions in the same conversation.
	ThreadSummary []string
}

// Classifier decides whether and how to reply to an inbound message.
// Implementations are treated as opaque, possibly slow, possibly failing
// external dependencies; callers apply their own timeout.
type Classifier interface {
	Classify(ctx context.Context, input ClassifyInput) (*maildomain.ClassificationResult, error)
}

// KnowledgeSource retrieves knowledge-base snippets for a query text.
type KnowledgeSource interface {
	Query(ctx context.Context, text string, topK int) ([]string, error)
}

// decision is the JSON shape the model is asked to produce.
type decision struct {
	ShouldReply *bool   `json:"should_reply"`
	Category    string  `json:"category"`
	Priority    int     `json:"priority"`
	Confidence  float64 `json:"confidence"`
	Reply       string  `json:"reply"`
	Reason      string  `json:"reason"`
}

const fallbackReply = "Thank you for reaching out. We have received your message and a member of our team will follow up with you shortly."

// SafeDefault is the result substituted when the model's output cannot be
// parsed. Silently dropping a legitimate inbound email is worse than
// sending a generic acknowledgement, so the default replies.
func SafeDefault() *maildomain.ClassificationResult {
	return &maildomain.ClassificationResult{
		ShouldReply: true,
		Category:    "uncategorized",
		Priority:    5,
		Confidence:  0.1,
		Reply:       fallbackReply,
		Reason:      "classifier output could not be parsed",
		Fallback:    true,
	}
}

// ParseDecision extracts the first JSON object from free-form model output
// and maps it to a ClassificationResult. Any parse failure, including a
// missing should_reply field, degrades to SafeDefault.
func ParseDecision(raw string) *maildomain.ClassificationResult {
	text := strings.TrimSpace(raw)

	// Models wrap JSON in markdown fences or prose more often than not.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return SafeDefault()
	}
	text = text[start : end+1]

	var d decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return SafeDefault()
	}
	if d.ShouldReply == nil {
		return SafeDefault()
	}

	result := &maildomain.ClassificationResult{
		ShouldReply: *d.ShouldReply,
		Category:    d.Category,
		Priority:    d.Priority,
		Confidence:  d.Confidence,
		Reply:       d.Reply,
		Reason:      d.Reason,
	}
	if result.Category == "" {
		result.Category = "uncategorized"
	}
	if result.Priority < 1 || result.Priority > 10 {
		result.Priority = 5
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		result.Confidence = 0
	}
	if result.ShouldReply && result.Reply == "" {
		result.Reply = fallbackReply
		result.Fallback = true
	}
	return result
}

// Generator is the raw text-in/text-out surface of an LLM provider.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// generativeClassifier builds the prompt, calls a Generator and parses the
// structured decision out of its free-form response.
type generativeClassifier struct {
	gen Generator
}

// NewClassifier wraps a Generator in the prompt/parse layer.
func NewClassifier(gen Generator) Classifier {
	return &generativeClassifier{gen: gen}
}

func (c *generativeClassifier) Classify(ctx context.Context, input ClassifyInput) (*maildomain.ClassificationResult, error) {
	raw, err := c.gen.Generate(ctx, buildPrompt(input))
	if err != nil {
		return nil, fmt.Errorf("classifier call failed: %w", err)
	}
	return ParseDecision(raw), nil
}

func buildPrompt(input ClassifyInput) string {
	var b strings.Builder

	b.WriteString(`You are the inbound-email assistant for a scholarship and student recruitment platform. Decide whether the email below needs a reply and, if so, draft one.

Respond with ONLY a JSON object, no other text:
{"should_reply": true|false, "category": "admissions|scholarship|payment|document|spam|other", "priority": 1-10, "confidence": 0.0-1.0, "reply": "draft reply text or empty", "reason": "one short sentence"}

Rules:
- Reply to genuine questions from students, parents and partner schools.
- Do not reply to newsletters, receipts, automated notifications or spam.
- Keep the draft reply short, warm and professional.
`)

	if len(input.Knowledge) > 0 {
		b.WriteString("\nKNOWLEDGE BASE:\n")
		for _, k := range input.Knowledge {
			b.WriteString("- ")
			b.WriteString(k)
			b.WriteString("\n")
		}
	}
	if len(input.ThreadSummary) > 0 {
		b.WriteString("\nEARLIER IN THIS CONVERSATION:\n")
		for _, s := range input.ThreadSummary {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	body := input.Body
	if len(body) > 6000 {
		body = body[:6000]
	}
	fmt.Fprintf(&b, "\nEMAIL:\nFrom: %s\nSubject: %s\n\n%s\n\nJSON DECISION:", input.From, input.Subject, body)

	return b.String()
}
