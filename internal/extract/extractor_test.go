package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T, reply string) *Extractor {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Zero(t, req.Temperature)
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: reply}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewExtractor(openai.NewClientWithConfig(cfg), "gpt-4o-mini")
}

func TestExtractParsesRecords(t *testing.T) {
	reply := "```json\n" + `[
	  {
	    "vulnerability_type": "Reentrancy",
	    "severity": "high",
	    "root_cause_analysis": {
	      "logic_flow": ["external call", "state update after call"],
	      "violated_invariant": "balance updated before transfer"
	    },
	    "code_pattern_abstract": "call before effects",
	    "impact": "drain of contract funds",
	    "remediation_suggestion": {
	      "technique": "checks-effects-interactions",
	      "code_change": "move balance update before the external call"
	    },
	    "false_positive_indicators": "reentrancy guard present"
	  }
	]` + "\n```"

	e := newTestExtractor(t, reply)
	records, err := e.Extract(context.Background(), Chunk{Heading: "Reentrancy", Content: "finding text"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Reentrancy", records[0].VulnerabilityType)
	assert.Equal(t, "high", records[0].Severity)
	assert.Equal(t, []string{"external call", "state update after call"}, records[0].RootCauseAnalysis.LogicFlow)
	assert.Equal(t, "checks-effects-interactions", records[0].RemediationSuggestion.Technique)
}

func TestExtractEmptyFindings(t *testing.T) {
	e := newTestExtractor(t, "[]")
	records, err := e.Extract(context.Background(), Chunk{Content: "nothing interesting"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExtractSkipsBlankChunk(t *testing.T) {
	e := newTestExtractor(t, "should never be called")
	records, err := e.Extract(context.Background(), Chunk{Content: "   "})
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestExtractDropsRecordsWithoutType(t *testing.T) {
	reply := `[{"vulnerability_type": "", "severity": "low"}, {"vulnerability_type": "Integer Overflow", "severity": "medium"}]`
	e := newTestExtractor(t, reply)
	records, err := e.Extract(context.Background(), Chunk{Content: "x"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Integer Overflow", records[0].VulnerabilityType)
}

func TestExtractRejectsMalformedOutput(t *testing.T) {
	e := newTestExtractor(t, "I could not find any vulnerabilities, sorry!")
	_, err := e.Extract(context.Background(), Chunk{Content: "x"})
	assert.Error(t, err)
}
