package httpclient

import (
	"DealerWatch/internal/config"
	"DealerWatch/internal/model"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// NewHTTPClient 通用HTTP客户端构建方法（支持代理、超时、自动解压）
func NewHTTPClient(cfg *config.SourceConfig, logger *logrus.Logger) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			logger.WithError(err).WithField("proxy", cfg.Proxy).Warn("代理地址解析失败，将不使用代理")
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
			logger.WithField("proxy", cfg.Proxy).Info("HTTP客户端已配置代理")
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15
	}
	return &http.Client{
		Timeout:   time.Duration(timeout) * time.Second,
		Transport: &compressedTransport{transport: transport, logger: logger},
	}
}

// compressedTransport 主动声明 gzip/br 并在返回前解压
type compressedTransport struct {
	transport http.RoundTripper
	logger    *logrus.Logger
}

func (c *compressedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept-Encoding", "gzip, br")
	resp, err := c.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.WithError(err).Warn("gzip解压失败，返回原始响应")
			return resp, nil
		}
		resp.Body = &decodedReadCloser{Reader: gzReader, closers: []io.Closer{gzReader, resp.Body}}
	case "br":
		resp.Body = &decodedReadCloser{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}
	default:
		return resp, nil
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	return resp, nil
}

// decodedReadCloser 解压 reader + 原始响应体，Close 时依次关闭
type decodedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedReadCloser) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Client 带限速与指数退避重试的出站客户端，车源抓取、车牌识别、图片下载共用
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	retries   int
	baseDelay time.Duration
	authToken string
	maxBody   int64
	logger    *logrus.Logger
}

func NewClient(cfg *config.SourceConfig, logger *logrus.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	base := time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	retries := cfg.RetryCount
	if retries < 0 {
		retries = 0
	}
	return &Client{
		http:      NewHTTPClient(cfg, logger),
		limiter:   rate.NewLimiter(limit, 1),
		retries:   retries,
		baseDelay: base,
		authToken: cfg.AuthToken,
		logger:    logger,
	}
}

// WithMaxBody 返回共用限速器、响应体最多读取 n 字节的副本；超出时按格式错误失败
func (c *Client) WithMaxBody(n int64) *Client {
	cp := *c
	cp.maxBody = n
	return &cp
}

// GetJSON GET 并把响应体解析到 out
func (c *Client) GetJSON(ctx context.Context, rawURL string, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, rawURL, nil, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w: %v", model.ErrInvalidFormat, err)
	}
	return nil
}

// PostJSON POST JSON 请求体，并把响应体解析到 out
func (c *Client) PostJSON(ctx context.Context, rawURL string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, rawURL, payload, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w: %v", model.ErrInvalidFormat, err)
	}
	return nil
}

// GetBytes 下载原始内容（图片等）
func (c *Client) GetBytes(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, "*/*")
}

func (c *Client) do(ctx context.Context, method, rawURL string, payload []byte, accept string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			c.logger.WithFields(logrus.Fields{
				"url":     rawURL,
				"attempt": attempt,
				"delay":   delay.String(),
			}).WithError(lastErr).Debug("请求失败，等待重试")
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", model.ErrTimeout, ctx.Err())
			case <-time.After(delay):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrTimeout, err)
		}

		body, retry, err := c.once(ctx, method, rawURL, payload, accept)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, lastErr
}

// once 单次请求；返回是否值得重试
func (c *Client) once(ctx context.Context, method, rawURL string, payload []byte, accept string) ([]byte, bool, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, false, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", accept)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, true, fmt.Errorf("%w: %v", model.ErrTimeout, err)
		}
		return nil, true, fmt.Errorf("%w: %v", model.ErrUpstream, err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if c.maxBody > 0 {
		reader = io.LimitReader(resp.Body, c.maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, true, fmt.Errorf("读取响应失败: %w: %v", model.ErrUpstream, err)
	}
	if c.maxBody > 0 && int64(len(body)) > c.maxBody {
		return nil, false, fmt.Errorf("响应超过%d字节: %w", c.maxBody, model.ErrInvalidFormat)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("%w: status %d", model.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: %s", model.ErrNotFound, rawURL)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: status %d", model.ErrUpstream, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, false, fmt.Errorf("%w: status %d", model.ErrUpstream, resp.StatusCode)
	}
	return body, false, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
