package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TriggerResponse — ответ на запуск pipeline.
type TriggerResponse struct {
	RunID     string `json:"run_id"`
	RunNumber int    `json:"run_number"`
	Message   string `json:"message"`
	File      string `json:"file"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID            string `json:"id"`
	Number        int    `json:"run_number"`
	PipelineName  string `json:"pipeline_name"`
	CorrelationID string `json:"correlation_id"`
	SourceRef     string `json:"source_ref"`
	Status        string `json:"status"`
	StartedAt     string `json:"started_at,omitempty"`
	FinishedAt    string `json:"finished_at,omitempty"`
	DurationMs    *int64 `json:"duration_ms,omitempty"`
	WorkerID      string `json:"worker_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// StepResponse — шаг run из API.
type StepResponse struct {
	Number       int     `json:"step_number"`
	Name         string  `json:"step_name"`
	Status       string  `json:"status"`
	StartedAt    string  `json:"started_at,omitempty"`
	FinishedAt   string  `json:"finished_at,omitempty"`
	RowsAffected  *int    `json:"rows_affected,omitempty"`
	RowsProcessed *int    `json:"rows_processed,omitempty"`
	RowsTotal     *int    `json:"rows_total,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
}

// RunDetailResponse — run вместе с шагами.
type RunDetailResponse struct {
	RunResponse
	Steps []StepResponse `json:"steps"`
}

// LogResponse — событие журнала из API.
type LogResponse struct {
	ID           int64   `json:"id"`
	RunID        string  `json:"run_id"`
	PipelineName string  `json:"pipeline_name"`
	LogAt        string  `json:"log_at"`
	Level        string  `json:"level"`
	StepNumber   *int    `json:"step_number,omitempty"`
	StepName     *string `json:"step_name,omitempty"`
	Message      string  `json:"message"`
	Details      *string `json:"details,omitempty"`
}

// TargetResponse — заказ в целевой таблице.
type TargetResponse struct {
	OrderID        string  `json:"order_id"`
	CustomerID     string  `json:"customer_id"`
	Amount         float64 `json:"amount"`
	OrderDate      *string `json:"order_date,omitempty"`
	AmountCategory string  `json:"amount_category"`
	MigratedAt     string  `json:"migrated_at"`
}

// --- Request types ---

// TriggerRequest — запуск pipeline по ссылке на источник.
type TriggerRequest struct {
	Source string `json:"source,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Pipeline string
	Status   string
	Limit    int
}

// ListLogsOpts — параметры фильтрации журнала.
type ListLogsOpts struct {
	RunID    string
	Pipeline string
	Level    string
	Limit    int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для orderpipe API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// --- Pipeline ---

// Trigger запускает pipeline. Пустой source — источник по умолчанию сервера.
func (c *Client) Trigger(source string) (*TriggerResponse, error) {
	resp, err := c.do(http.MethodPost, "/api/v1/pipeline/trigger", TriggerRequest{Source: source})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeTrigger(resp)
}

// Upload загружает локальный файл и запускает pipeline на нём.
func (c *Client) Upload(path string) (*TriggerResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to create form: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/pipeline/trigger", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeTrigger(resp)
}

func decodeTrigger(resp *http.Response) (*TriggerResponse, error) {
	if err := checkError(resp); err != nil {
		return nil, err
	}
	var tr TriggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &tr, nil
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Pipeline != "" {
		params.Set("pipeline", opts.Pipeline)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run с шагами.
func (c *Client) GetRun(id string) (*RunDetailResponse, error) {
	var run RunDetailResponse
	if err := c.get("/api/v1/runs/"+url.PathEscape(id), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRunLogs возвращает журнал run.
func (c *Client) ListRunLogs(id string) ([]LogResponse, error) {
	var logs []LogResponse
	err := c.list("/api/v1/runs/"+url.PathEscape(id)+"/logs", nil, &logs)
	return logs, err
}

// --- Logs ---

// ListLogs возвращает события журнала, новые первыми.
func (c *Client) ListLogs(opts ListLogsOpts) ([]LogResponse, error) {
	params := url.Values{}
	if opts.RunID != "" {
		params.Set("run_id", opts.RunID)
	}
	if opts.Pipeline != "" {
		params.Set("pipeline", opts.Pipeline)
	}
	if opts.Level != "" {
		params.Set("level", opts.Level)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var logs []LogResponse
	err := c.list("/api/v1/logs", params, &logs)
	return logs, err
}

// --- Targets ---

// GetTarget возвращает заказ из целевой таблицы.
func (c *Client) GetTarget(orderID string) (*TargetResponse, error) {
	var target TargetResponse
	if err := c.get("/api/v1/targets/"+url.PathEscape(orderID), &target); err != nil {
		return nil, err
	}
	return &target, nil
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
