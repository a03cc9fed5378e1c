package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/soundstarrain/yuketang-assistant/internal/question"
)

var (
	// ErrNotConfigured is returned when base URL or API key is missing
	ErrNotConfigured = errors.New("solver is not configured")
	// ErrInvalidTemperature is returned for a negative sampling temperature
	ErrInvalidTemperature = errors.New("temperature must not be negative")
	// ErrUpstream wraps non-2xx responses from the completion endpoint
	ErrUpstream = errors.New("completion request failed")
	// ErrEmptyResponse is returned when the model answers with no content
	ErrEmptyResponse = errors.New("completion response empty")
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultTimeout     = 120 * time.Second

	// fallbackAnswer labels free-text replies that did not follow the JSON format
	fallbackAnswer = "参考解析"
)

const systemPrompt = "你是一个专业的题目解答助手，擅长解答各类学科题目。"

const formatInstructions = `请严格按照以下 JSON 格式回答，不要添加任何其他文本：
{"answer": "答案内容（选项字母如A/B/C/D或填空内容，多选题必须列出所有正确答案，如A,B,C）", "solution": "问题的简洁清晰的解答过程"}

特别提醒：
- 如果这是多选题，必须给出全部的正确答案，不要遗漏任何选项！
- 如果这是单选题，只需给出一个答案
- 如果这是主观题，请给出完整的答案内容

格式要求说明（仅适用于 solution 字段内容）：
1. 如果需要输出数学公式，使用 KaTeX 兼容格式（行内公式用 $公式$）
2. 如果需要输出代码，使用 Markdown 代码块
3. 其他内容使用 Markdown 格式`

// Config holds the completion endpoint settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float64 // nil 表示 DefaultTemperature；0 為合法值
	Timeout     time.Duration
}

// Answer is the parsed model reply for one question.
type Answer struct {
	Answer   string  `json:"answer"`
	Solution string  `json:"solution"`
	Duration float64 `json:"duration"` // seconds, one decimal
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	http        *http.Client
	logger      *slog.Logger
	now         func() time.Time
}

// NewClient validates cfg and builds a client. An empty model, nil
// temperature or non-positive timeout falls back to the defaults.
// A temperature below zero is rejected.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		if *cfg.Temperature < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTemperature, *cfg.Temperature)
		}
		temperature = *cfg.Temperature
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		endpoint:    base + "/chat/completions",
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: temperature,
		logger:      logger,
		now:         time.Now,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}, nil
}

// Solve asks the model for one question. It matches
// orchestrator.SolveFunc[question.Question, Answer].
func (c *Client) Solve(ctx context.Context, q question.Question) (Answer, error) {
	start := c.now()

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(q)},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Answer{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Answer{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Answer{}, fmt.Errorf("read response: %w", err)
	}

	var decoded chatResponse
	decodeErr := json.Unmarshal(body, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && decoded.Error != nil && decoded.Error.Message != "" {
			return Answer{}, fmt.Errorf("%w: %s", ErrUpstream, decoded.Error.Message)
		}
		return Answer{}, fmt.Errorf("%w: status %s", ErrUpstream, resp.Status)
	}
	if decodeErr != nil {
		return Answer{}, fmt.Errorf("decode response: %w", decodeErr)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return Answer{}, ErrEmptyResponse
	}

	answer := ParseAnswer(decoded.Choices[0].Message.Content)
	answer.Duration = roundSeconds(c.now().Sub(start))
	c.logger.Debug("question solved", "key", q.Key(), "duration", answer.Duration)
	return answer, nil
}

// BuildPrompt renders the user message for q.
func BuildPrompt(q question.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "题型：[%s]\n", q.Kind())
	fmt.Fprintf(&b, "题干：[%s] %s\n\n", strings.TrimSpace(q.Meta), strings.TrimSpace(q.Body))
	fmt.Fprintf(&b, "选项：\n%s\n\n", strings.TrimSpace(q.Options))
	b.WriteString(formatInstructions)
	return b.String()
}

// ParseAnswer extracts {"answer","solution"} from model output. It accepts a
// bare JSON object, JSON embedded in prose or a code fence, and falls back to
// treating the whole text as the solution.
func ParseAnswer(text string) Answer {
	var a Answer
	if err := json.Unmarshal([]byte(text), &a); err == nil && (a.Answer != "" || a.Solution != "") {
		return a
	}

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first >= 0 && last > first {
		var inner Answer
		if err := json.Unmarshal([]byte(text[first:last+1]), &inner); err == nil && (inner.Answer != "" || inner.Solution != "") {
			return inner
		}
	}

	return Answer{Answer: fallbackAnswer, Solution: text}
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*10) / 10
}
