package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/auditgraph/vulnalign-go/internal/apptype"
)

const extractSystemPrompt = `You are a senior smart contract security auditor. You extract structured vulnerability knowledge from audit report excerpts.

Given an excerpt of a security audit report, identify every distinct vulnerability finding it describes and return a JSON array. Each element must have exactly these fields:
- "vulnerability_type": short free-form name of the vulnerability class
- "severity": one of "critical", "high", "medium", "low", "informational"
- "root_cause_analysis": {"logic_flow": [step strings], "violated_invariant": string}
- "code_pattern_abstract": language-agnostic description of the vulnerable code shape
- "impact": what an attacker gains
- "remediation_suggestion": {"technique": string, "code_change": string}
- "false_positive_indicators": conditions under which this pattern is benign

Return [] if the excerpt contains no vulnerability finding. Return only the JSON array, no prose.`

// Extractor turns audit report chunks into structured vulnerability records
// using a chat completion model.
type Extractor struct {
	client *openai.Client
	model  string
}

// NewExtractor builds an extractor over the given OpenAI-compatible client.
func NewExtractor(client *openai.Client, model string) *Extractor {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Extractor{client: client, model: model}
}

// NewExtractorFromEnv constructs an extractor from OPENAI_API_KEY,
// OPENAI_BASE_URL and EXTRACT_MODEL. Returns nil when no key is configured.
func NewExtractorFromEnv() *Extractor {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil
	}
	cfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(os.Getenv("OPENAI_BASE_URL"), "/"); base != "" {
		cfg.BaseURL = base
	}
	return NewExtractor(openai.NewClientWithConfig(cfg), os.Getenv("EXTRACT_MODEL"))
}

// Extract returns the vulnerability records found in one report chunk. An
// empty chunk or a chunk with no findings yields an empty slice, not an error.
func (e *Extractor) Extract(ctx context.Context, chunk Chunk) ([]apptype.VulnerabilityRecord, error) {
	content := strings.TrimSpace(chunk.Content)
	if content == "" {
		return nil, nil
	}
	userPrompt := content
	if chunk.Heading != "" {
		userPrompt = "## " + chunk.Heading + "\n\n" + content
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	raw := stripCodeFence(resp.Choices[0].Message.Content)
	var records []apptype.VulnerabilityRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		// Some models wrap the array in a single object despite instructions.
		var one apptype.VulnerabilityRecord
		if oneErr := json.Unmarshal([]byte(raw), &one); oneErr == nil && one.VulnerabilityType != "" {
			return []apptype.VulnerabilityRecord{one}, nil
		}
		return nil, fmt.Errorf("failed to parse extraction output: %w", err)
	}

	out := records[:0]
	for _, r := range records {
		if strings.TrimSpace(r.VulnerabilityType) == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// stripCodeFence removes a surrounding markdown code fence, if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
