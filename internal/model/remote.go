package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
)

const maxScoreBody = 64 << 10

// HTTPAdapter posts the feature vector to an external scoring API and reads
// the numeric score back from the documented field.
type HTTPAdapter struct {
	client *httpclient.Client
	url    string
	apiKey string
}

type scoreRequest struct {
	Features map[string]float64   `json:"features"`
	Metadata core.RequestMetadata `json:"metadata"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

func (a *HTTPAdapter) Classify(ctx context.Context, md core.RequestMetadata) (float64, bool, error) {
	body, err := json.Marshal(scoreRequest{Features: Features(md), Metadata: md})
	if err != nil {
		return 0, false, fmt.Errorf("model: marshal features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, strings.NewReader(string(body)))
	if err != nil {
		return 0, false, fmt.Errorf("model: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("model: score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("model: scorer returned %d", resp.StatusCode)
	}

	var sr scoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxScoreBody)).Decode(&sr); err != nil {
		return 0, false, fmt.Errorf("model: parse score: %w", err)
	}
	return clamp(sr.Score), true, nil
}

func (a *HTTPAdapter) Name() string { return "http" }

// LLMAdapter asks a chat-completion endpoint to rate the request and parses
// the first floating point number out of the reply. Crude, but it lets small
// local models act as classifiers without a bespoke API.
type LLMAdapter struct {
	client *httpclient.Client
	url    string
	apiKey string
	model  string
}

func newLLMAdapter(u *url.URL, apiKey string, client *httpclient.Client) (*LLMAdapter, error) {
	endpoint := *u
	switch u.Scheme {
	case "llm":
		endpoint.Scheme = "http"
	case "openai":
		endpoint.Scheme = "https"
	}
	if endpoint.Path == "" || endpoint.Path == "/" {
		endpoint.Path = "/v1/chat/completions"
	}

	modelName := u.Query().Get("model")
	if modelName == "" {
		modelName = "default"
	}
	endpoint.RawQuery = ""

	return &LLMAdapter{
		client: client,
		url:    endpoint.String(),
		apiKey: apiKey,
		model:  modelName,
	}, nil
}

const llmPrompt = `Rate how likely the following HTTP request comes from an automated scraper.
Reply with a single number between 0.0 (human) and 1.0 (scraper).

User-Agent: %q
Path: %q
Method: %s
Referer: %q
Accept-Language: %q`

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

var floatPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

func (a *LLMAdapter) Classify(ctx context.Context, md core.RequestMetadata) (float64, bool, error) {
	prompt := fmt.Sprintf(llmPrompt,
		md.UserAgent, md.Path, md.Method, md.Referer, md.Header("Accept-Language"))

	body, err := json.Marshal(chatRequest{
		Model:    a.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return 0, false, fmt.Errorf("model: marshal prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, strings.NewReader(string(body)))
	if err != nil {
		return 0, false, fmt.Errorf("model: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("model: llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("model: llm returned %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxScoreBody)).Decode(&cr); err != nil {
		return 0, false, fmt.Errorf("model: parse llm reply: %w", err)
	}
	if len(cr.Choices) == 0 {
		return 0, false, fmt.Errorf("model: llm reply has no choices")
	}

	match := floatPattern.FindString(cr.Choices[0].Message.Content)
	if match == "" {
		return 0, false, fmt.Errorf("model: no number in llm reply %q", cr.Choices[0].Message.Content)
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false, fmt.Errorf("model: parse llm number: %w", err)
	}
	return clamp(score), true, nil
}

func (a *LLMAdapter) Name() string { return "llm" }
