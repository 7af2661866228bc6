// Package backend は外部の家計簿バックエンドREST APIのクライアントを提供する。
// エンドポイントごとに1メソッドを持ち、1回のリクエストだけを送る。
// リトライとキャッシュは行わない。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Recorder はバックエンド呼び出しの計測値を受け取る。
// metrics.Collector が実装する。
type Recorder interface {
	ObserveBackendRequest(endpoint string, status int, elapsed time.Duration)
}

// HTTPError はバックエンドが2xx以外を返したことを表す。
type HTTPError struct {
	Status int
	Body   string
}

// Error はerrorインターフェースを実装する。
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// IsNotFound はエラーがバックエンドの404であるかを返す。
// 404は「まだ存在しない」を意味する分岐条件として使われる。
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == http.StatusNotFound
}

// Client はバックエンドAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	recorder   Recorder
}

// NewClient はClient の新しいインスタンスを生成する。
// recorder は nil でもよい。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, recorder Recorder) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		recorder:   recorder,
	}
}

// do は1回のHTTPリクエストを送り、2xxならJSONボディを out にデコードする。
// endpoint はログとメトリクス用のラベル。
func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(endpoint, 0, start)
		c.logger.Error("backend request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.observe(endpoint, resp.StatusCode, start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
		level := slog.LevelError
		if resp.StatusCode == http.StatusNotFound {
			// 404は分岐に使われるため通常のエラーとして扱わない
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "backend returned non-2xx status",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
		return herr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		c.logger.Error("failed to parse backend response",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) observe(endpoint string, status int, start time.Time) {
	if c.recorder == nil {
		return
	}
	c.recorder.ObserveBackendRequest(endpoint, status, time.Since(start))
}

// Health はバックエンドの /health が2xxを返すかを返す。
// 到達できない場合もエラーではなく false を返す。
func (c *Client) Health(ctx context.Context) bool {
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, nil, nil); err != nil {
		return false
	}
	return true
}
