package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/c54335/contract-delivery-tracker/config"
	"github.com/c54335/contract-delivery-tracker/model"
	"github.com/c54335/contract-delivery-tracker/pkg/logger"
)

const obligationPrompt = `你是政府採購契約的履約管理助理。請從下列契約文字中找出所有乙方應交付或提送的項目，
並以 JSON 陣列回覆，不要加入其他說明。每個元素包含：
  "item": 交付項目名稱
  "clause": 依據條文原文
  "due_text": 期限的原文描述
  "baseline": 起算基準，"sign_date"（簽約日）或 "award_date"（決標日）
  "days": 起算後的天數（整數；無法判斷時為 null）

契約文字：
`

// GeminiRequest is the generateContent request body
type GeminiRequest struct {
	Contents []GeminiContent `json:"contents"`
}

type GeminiContent struct {
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiResponse is the part of the generateContent response we read
type GeminiResponse struct {
	Candidates []struct {
		Content GeminiContent `json:"content"`
	} `json:"candidates"`
}

// obligation is one element of the model's JSON answer
type obligation struct {
	Item     string `json:"item"`
	Clause   string `json:"clause"`
	DueText  string `json:"due_text"`
	Baseline string `json:"baseline"`
	Days     *int   `json:"days"`
}

// errServerStatus marks responses worth retrying
var errServerStatus = errors.New("server error")

// GeminiObligationService extracts deliverables from contract text with a Gemini model
type GeminiObligationService struct {
	config     *config.ObligationConfig
	httpClient *http.Client
	retryDelay time.Duration
}

func NewGeminiObligationService(cfg *config.ObligationConfig) *GeminiObligationService {
	return &GeminiObligationService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		retryDelay: time.Second,
	}
}

// ExtractObligations sends the leading part of text to the model and parses its answer.
// Transport failures are returned as errors; an answer that cannot be parsed yields the
// single extraction-failed record.
func (s *GeminiObligationService) ExtractObligations(ctx context.Context, text string) ([]model.Deliverable, error) {
	if s.config.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.config.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	prompt := obligationPrompt + truncateRunes(text, s.config.MaxChars)
	body, err := json.Marshal(GeminiRequest{
		Contents: []GeminiContent{{Parts: []GeminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	answer, err := s.generate(ctx, body)
	if err != nil {
		return nil, err
	}

	records, err := parseObligations(answer)
	if err != nil {
		logger.Warn(ctx, "unparseable obligation answer", "error", err)
		return failedExtraction(err.Error()), nil
	}
	return records, nil
}

// generate posts body, retrying transport failures and 5xx responses
func (s *GeminiObligationService) generate(ctx context.Context, body []byte) (string, error) {
	retries := max(s.config.Retries, 0)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			logger.Warn(ctx, "retrying obligation extraction", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}

		answer, err := s.post(ctx, body)
		if err == nil {
			return answer, nil
		}
		lastErr = err

		var urlErr *url.Error
		if !errors.Is(err, errServerStatus) && !errors.As(err, &urlErr) {
			return "", err
		}
	}
	return "", lastErr
}

func (s *GeminiObligationService) post(ctx context.Context, body []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?%s",
		strings.TrimRight(s.config.APIURL, "/"),
		s.config.Model,
		url.Values{"key": {s.config.APIKey}}.Encode(),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: status %d: %s", errServerStatus, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini API error: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result GeminiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		// The answer itself is judged by the caller.
		return string(respBody), nil
	}
	if len(result.Candidates) == 0 {
		return "", nil
	}
	texts := lo.Map(result.Candidates[0].Content.Parts, func(p GeminiPart, _ int) string {
		return p.Text
	})
	return strings.Join(texts, ""), nil
}

// parseObligations reads a JSON array, optionally wrapped in a Markdown code fence
func parseObligations(answer string) ([]model.Deliverable, error) {
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start < 0 || end < start {
		return nil, errors.New("no JSON array in model output")
	}

	var items []obligation
	if err := json.Unmarshal([]byte(answer[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("invalid JSON in model output: %w", err)
	}

	records := make([]model.Deliverable, 0, len(items))
	for i, it := range items {
		name := strings.TrimSpace(it.Item)
		if name == "" {
			return nil, fmt.Errorf("element %d has no item name", i)
		}
		kind := model.BaselineSignDate
		if strings.TrimSpace(it.Baseline) != "" {
			parsed, err := model.ParseBaselineKind(it.Baseline)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			kind = parsed
		}
		if it.Days != nil && *it.Days < 0 {
			return nil, fmt.Errorf("element %d has negative days", i)
		}
		records = append(records, model.Deliverable{
			ItemName:     name,
			BasisClause:  strings.TrimSpace(it.Clause),
			DueText:      strings.TrimSpace(it.DueText),
			BaselineKind: kind,
			DurationDays: it.Days,
		})
	}
	return records, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
