package collaborator

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/mtlprog/reviewflow/internal/config"
	"github.com/mtlprog/reviewflow/internal/pipeline"
)

// MinerU task states.
const (
	mineruStateDone   = "done"
	mineruStateFailed = "failed"
)

const maxZipSize = 64 << 20

var errMineruFailed = errors.New("mineru extraction failed")

// FileLinker turns a contract file reference into a URL MinerU can download.
type FileLinker interface {
	PresignedURL(ctx context.Context, fileRef string) (string, error)
}

type mineruTaskRequest struct {
	URL          string `json:"url"`
	ModelVersion string `json:"model_version"`
	DataID       string `json:"data_id,omitempty"`
}

type mineruTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

type mineruStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID     string `json:"task_id"`
		State      string `json:"state"`
		FullZipURL string `json:"full_zip_url,omitempty"`
		ErrorMsg   string `json:"err_msg,omitempty"`
	} `json:"data"`
}

// MineruExtractor extracts clauses by converting the contract to markdown with MinerU.
type MineruExtractor struct {
	cfg        config.MineruConfig
	files      FileLinker
	httpClient *http.Client
}

// NewMineruExtractor creates a MinerU-backed ClauseExtractor.
func NewMineruExtractor(cfg config.MineruConfig, files FileLinker) *MineruExtractor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultMineruPollInterval
	}
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = config.DefaultMineruModelVersion
	}
	return &MineruExtractor{
		cfg:   cfg,
		files: files,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// ExtractClauses submits the contract to MinerU, waits for the result and parses it.
// The wait is bounded by ctx.
func (m *MineruExtractor) ExtractClauses(ctx context.Context, in pipeline.ExtractionInput) (*pipeline.ClauseSet, error) {
	fileURL, err := m.files.PresignedURL(ctx, in.Contract.FileRef)
	if err != nil {
		return nil, err
	}

	taskID, err := m.createTask(ctx, fileURL, in.Task.ID)
	if err != nil {
		return nil, err
	}

	log := slog.With("task_id", in.Task.ID, "mineru_task_id", taskID)
	log.Info("mineru extraction submitted")

	zipURL, err := m.waitForResult(ctx, taskID)
	if err != nil {
		return nil, err
	}

	markdown, err := m.fetchMarkdown(ctx, zipURL)
	if err != nil {
		return nil, err
	}

	clauses := ParseClauses(in.Contract.FileRef, markdown)
	log.Info("mineru extraction finished", "clauses", len(clauses.Clauses))
	return clauses, nil
}

func (m *MineruExtractor) createTask(ctx context.Context, fileURL, dataID string) (string, error) {
	body, err := json.Marshal(mineruTaskRequest{
		URL:          fileURL,
		ModelVersion: m.cfg.ModelVersion,
		DataID:       dataID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal mineru request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIURL+"/extract/task", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create mineru request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp mineruTaskResponse
	if err := m.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("%w: %s", errMineruFailed, resp.Message)
	}
	return resp.Data.TaskID, nil
}

func (m *MineruExtractor) status(ctx context.Context, taskID string) (*mineruStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/extract/task/%s", m.cfg.APIURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("create mineru request: %w", err)
	}

	var resp mineruStatusResponse
	if err := m.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: %s", errMineruFailed, resp.Message)
	}
	return &resp, nil
}

func (m *MineruExtractor) waitForResult(ctx context.Context, taskID string) (string, error) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		resp, err := m.status(ctx, taskID)
		if err != nil {
			return "", err
		}

		switch resp.Data.State {
		case mineruStateDone:
			if resp.Data.FullZipURL == "" {
				return "", fmt.Errorf("%w: task %s finished without a result", errMineruFailed, taskID)
			}
			return resp.Data.FullZipURL, nil
		case mineruStateFailed:
			return "", fmt.Errorf("%w: task %s: %s", errMineruFailed, taskID, resp.Data.ErrorMsg)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for mineru task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// fetchMarkdown downloads the result archive and returns its markdown document.
func (m *MineruExtractor) fetchMarkdown(ctx context.Context, zipURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download mineru result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download mineru result: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxZipSize))
	if err != nil {
		return "", fmt.Errorf("read mineru result: %w", err)
	}

	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open mineru result: %w", err)
	}

	var fallback *zip.File
	for _, file := range archive.File {
		if path.Ext(file.Name) != ".md" {
			continue
		}
		if path.Base(file.Name) == "full.md" {
			return readZipFile(file)
		}
		if fallback == nil {
			fallback = file
		}
	}
	if fallback != nil {
		return readZipFile(fallback)
	}
	return "", fmt.Errorf("%w: no markdown document in result", errMineruFailed)
}

func readZipFile(file *zip.File) (string, error) {
	rc, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer rc.Close()

	var sb strings.Builder
	if _, err := io.Copy(&sb, rc); err != nil {
		return "", fmt.Errorf("read %s: %w", file.Name, err)
	}
	return sb.String(), nil
}

func (m *MineruExtractor) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIToken)
	req.Header.Set("Accept", "*/*")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send mineru request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read mineru response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse mineru response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
