package narrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"qsolog/internal/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultModel          = "gpt-4o-mini"
	defaultEndpoint       = "https://api.openai.com/v1/chat/completions"
	defaultTimeout        = 60 * time.Second
	defaultTemperature    = 0.2
	recentMaxTokens       = 200
	awardsMaxTokens       = 300
	maxErrorBodyBytes     = 512
	failureLogInterval    = time.Minute
	recentPromptPreamble  = "You are an assistant for a ham radio QSO log. Summarize these recent QSOs into 2-4 short bullet points, highlighting bands, modes, notable DX, and patterns."
	awardsPromptPlan      = "Provide a short, actionable plan (3-6 bullets) to reach awards goals."
	awardsPromptSpecifics = "Be specific about band/mode focus, missing entities (countries/grids), and operating tips."
)

type request struct {
	Model               string            `json:"model"`
	MaxCompletionTokens int               `json:"max_completion_tokens,omitempty"`
	Temperature         float64           `json:"temperature,omitempty"`
	Messages            []message         `json:"messages"`
	ResponseFormat      map[string]string `json:"response_format,omitempty"`
	ReasoningEffort     string            `json:"reasoning_effort,omitempty"`
	Verbosity           string            `json:"verbosity,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// External narrates through a chat-completions endpoint.
type External struct {
	cfg      Config
	client   *http.Client
	logf     func(string, ...any)
	failures *ratelimit.Counter
}

// NewExternal builds an External narrator. Blank config fields get defaults.
func NewExternal(cfg Config, logf func(string, ...any)) *External {
	if logf == nil {
		logf = log.Printf
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	return &External{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		logf:     logf,
		failures: ratelimit.NewCounter(failureLogInterval),
	}
}

// Narrate never returns an error for a known kind: remote failures are logged
// and answered with the Local rendering.
func (e *External) Narrate(ctx context.Context, req Request) (string, error) {
	prompt, maxTokens, err := buildPrompt(req)
	if err != nil {
		return "", err
	}
	if e.cfg.MaxTokens > 0 {
		maxTokens = e.cfg.MaxTokens
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	text, err := e.generate(ctx, prompt, maxTokens)
	if err == nil && text != "" {
		return text, nil
	}
	if err == nil {
		err = errors.New("empty completion")
	}
	if total, ok := e.failures.Inc(); ok {
		e.logf("narrate: model request failed (%d so far), using local summary: %v", total, err)
	}
	return Local{}.Narrate(ctx, req)
}

func buildPrompt(req Request) (string, int, error) {
	switch req.Kind {
	case KindRecent:
		return recentPromptPreamble + "\n\n" + strings.Join(recentLines(req.Records), "\n"), recentMaxTokens, nil
	case KindAwards:
		lines := awardsBaseText(req.Records, req.Thresholds)
		lines = append(lines, "", awardsPromptPlan, awardsPromptSpecifics)
		if goals := strings.TrimSpace(req.Goals); goals != "" {
			lines = append(lines, "User goals: "+goals)
		}
		return strings.Join(lines, "\n"), awardsMaxTokens, nil
	default:
		return "", 0, fmt.Errorf("narrate: unknown request kind %d", req.Kind)
	}
}

func (e *External) generate(ctx context.Context, userContent string, maxTokens int) (string, error) {
	body := request{
		Model:               e.cfg.Model,
		MaxCompletionTokens: maxTokens,
		Messages:            make([]message, 0, 2),
	}
	if sp := strings.TrimSpace(e.cfg.SystemPrompt); sp != "" {
		body.Messages = append(body.Messages, message{Role: "system", Content: sp})
	}
	body.Messages = append(body.Messages, message{Role: "user", Content: userContent})
	// gpt-5 models reject temperature and expect the reasoning knobs instead.
	if strings.HasPrefix(e.cfg.Model, "gpt-5") {
		body.ResponseFormat = map[string]string{"type": "text"}
		body.ReasoningEffort = "minimal"
		body.Verbosity = "low"
	} else {
		body.Temperature = e.cfg.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(raw) > maxErrorBodyBytes {
			raw = raw[:maxErrorBodyBytes]
		}
		return "", fmt.Errorf("HTTP %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("model error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("response had no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
