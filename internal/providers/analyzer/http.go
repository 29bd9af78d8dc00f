package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider submits the vehicle media to the analysis backend as a
// multipart request and returns the raw result document.
type HTTPProvider struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

func NewHTTP(cfg Config, log *zap.Logger) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		log: log.Named("providers.analyzer"),
	}
}

func (p *HTTPProvider) Analyze(ctx context.Context, req Request) (Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	meta, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}
	if err := writer.WriteField("request", string(meta)); err != nil {
		return Result{}, fmt.Errorf("write request field: %w", err)
	}

	for i, media := range req.Media {
		if err := p.attach(writer, i, media); err != nil {
			return Result{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("finalize multipart body: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/analyze"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	started := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			p.log.Warn("analysis backend timed out",
				zap.String("report_id", req.ReportID),
				zap.Duration("elapsed", time.Since(started)),
			)
			return Result{}, ErrTimeout
		}
		p.log.Warn("analysis backend unreachable",
			zap.String("report_id", req.ReportID),
			zap.Error(err),
		)
		return Result{}, ErrUnavailable
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Result{}, ErrUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.log.Warn("analysis backend rejected request",
			zap.String("report_id", req.ReportID),
			zap.Int("status", resp.StatusCode),
		)
		return Result{}, ErrUnavailable
	}
	if !json.Valid(payload) {
		return Result{}, ErrUnavailable
	}

	return Result{Payload: payload}, nil
}

func (p *HTTPProvider) attach(writer *multipart.Writer, index int, media MediaRef) error {
	file, err := os.Open(media.Path)
	if err != nil {
		return fmt.Errorf("open media file: %w", err)
	}
	defer file.Close()

	field := fmt.Sprintf("media_%d", index)
	part, err := writer.CreateFormFile(field, filepath.Base(media.Path))
	if err != nil {
		return fmt.Errorf("create media part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy media part: %w", err)
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
