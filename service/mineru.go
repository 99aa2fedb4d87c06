package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/c54335/contract-delivery-tracker/config"
	"github.com/c54335/contract-delivery-tracker/pkg/logger"
)

// documentStore is the part of DocumentStorage the extractor needs
type documentStore interface {
	PutDocument(ctx context.Context, tenant, sessionID, filename string, data []byte, contentType string) (string, error)
	PresignedURL(ctx context.Context, objectName string) (string, error)
}

// MineruExtractor extracts contract text with the MinerU document parsing API.
// The document is handed over as a presigned object storage URL.
type MineruExtractor struct {
	config       *config.MineruConfig
	storage      documentStore
	httpClient   *http.Client
	pollInterval time.Duration
}

// MineruTaskRequest represents the request to create an extraction task
type MineruTaskRequest struct {
	URL          string `json:"url"`
	ModelVersion string `json:"model_version"`
	DataID       string `json:"data_id,omitempty"`
}

// MineruTaskResponse represents the response from task creation
type MineruTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// MineruTaskStatusResponse represents the task status query response
type MineruTaskStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID          string `json:"task_id"`
		State           string `json:"state"` // pending, running, done, failed, converting
		FullZipURL      string `json:"full_zip_url,omitempty"`
		ErrorMsg        string `json:"err_msg,omitempty"`
		ExtractProgress struct {
			ExtractedPages int `json:"extracted_pages"`
			TotalPages     int `json:"total_pages"`
		} `json:"extract_progress,omitempty"`
	} `json:"data"`
}

// contentBlock is one entry of MinerU's content_list.json
type contentBlock struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	PageIdx int    `json:"page_idx"`
}

func NewMineruExtractor(cfg *config.MineruConfig, storage documentStore) *MineruExtractor {
	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MineruExtractor{
		config:  cfg,
		storage: storage,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		pollInterval: interval,
	}
}

// ExtractText uploads doc, runs a MinerU task on it and returns the page text.
// The whole call is bounded by the configured timeout.
func (s *MineruExtractor) ExtractText(ctx context.Context, doc Document) (string, error) {
	if s.config.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.config.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	objectName, err := s.storage.PutDocument(ctx, doc.Tenant, doc.SessionID, doc.Filename, doc.Data, doc.ContentType)
	if err != nil {
		return "", err
	}
	docURL, err := s.storage.PresignedURL(ctx, objectName)
	if err != nil {
		return "", err
	}

	task, err := s.CreateTask(ctx, docURL, doc.SessionID)
	if err != nil {
		return "", err
	}
	logger.Info(ctx, "mineru task created", "task_id", task.Data.TaskID, "object", objectName)

	zipURL, err := s.waitForResult(ctx, task.Data.TaskID)
	if err != nil {
		return "", err
	}
	return s.FetchText(ctx, zipURL)
}

// CreateTask creates a new extraction task
func (s *MineruExtractor) CreateTask(ctx context.Context, docURL, dataID string) (*MineruTaskResponse, error) {
	reqBody, err := json.Marshal(MineruTaskRequest{
		URL:          docURL,
		ModelVersion: s.config.ModelVersion,
		DataID:       dataID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL+"/extract/task", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result MineruTaskResponse
	if err := s.do(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}
	return &result, nil
}

// GetTaskStatus queries the status of a task
func (s *MineruExtractor) GetTaskStatus(ctx context.Context, taskID string) (*MineruTaskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/extract/task/%s", s.config.APIURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result MineruTaskStatusResponse
	if err := s.do(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}
	return &result, nil
}

func (s *MineruExtractor) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Accept", "*/*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	return nil
}

// waitForResult polls the task until it finishes and returns the result archive URL
func (s *MineruExtractor) waitForResult(ctx context.Context, taskID string) (string, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= s.config.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}

		status, err := s.GetTaskStatus(ctx, taskID)
		if err != nil {
			logger.Warn(ctx, "mineru poll failed", "task_id", taskID, "attempt", attempt, "error", err)
			continue
		}

		switch status.Data.State {
		case "done":
			if status.Data.FullZipURL == "" {
				return "", fmt.Errorf("task %s finished without a result archive", taskID)
			}
			return status.Data.FullZipURL, nil
		case "failed":
			return "", fmt.Errorf("task %s failed: %s", taskID, status.Data.ErrorMsg)
		case "running":
			logger.Debug(ctx, "mineru progress",
				"task_id", taskID,
				"extracted_pages", status.Data.ExtractProgress.ExtractedPages,
				"total_pages", status.Data.ExtractProgress.TotalPages,
			)
		}
	}

	return "", fmt.Errorf("task %s polling timeout after %d attempts", taskID, s.config.MaxPollAttempts)
}

// FetchText downloads the result archive and concatenates its page text
func (s *MineruExtractor) FetchText(ctx context.Context, zipURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download ZIP: %w", err)
	}
	defer resp.Body.Close()

	zipData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read ZIP: %w", err)
	}
	return textFromArchive(zipData)
}

// textFromArchive prefers content_list.json and falls back to the Markdown rendering
func textFromArchive(zipData []byte) (string, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return "", fmt.Errorf("failed to open ZIP: %w", err)
	}

	var markdown *zip.File
	for _, file := range zipReader.File {
		switch {
		case strings.HasSuffix(file.Name, "content_list.json"):
			content, err := readZipFile(file)
			if err != nil {
				return "", err
			}
			var blocks []contentBlock
			if err := json.Unmarshal(content, &blocks); err != nil {
				return "", fmt.Errorf("failed to parse %s: %w", file.Name, err)
			}
			return joinPages(blocks), nil
		case strings.HasSuffix(file.Name, ".md") && markdown == nil:
			markdown = file
		}
	}

	if markdown != nil {
		content, err := readZipFile(markdown)
		if err != nil {
			return "", err
		}
		return string(content), nil
	}
	return "", errors.New("no text content found in ZIP")
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// joinPages concatenates block text in page order. Pages without text add nothing.
func joinPages(blocks []contentBlock) string {
	pages := make(map[int][]string)
	for _, b := range blocks {
		if text := strings.TrimSpace(b.Text); text != "" {
			pages[b.PageIdx] = append(pages[b.PageIdx], text)
		}
	}

	order := make([]int, 0, len(pages))
	for idx := range pages {
		order = append(order, idx)
	}
	sort.Ints(order)

	parts := make([]string, 0, len(order))
	for _, idx := range order {
		parts = append(parts, strings.Join(pages[idx], "\n"))
	}
	return strings.Join(parts, "\n")
}
