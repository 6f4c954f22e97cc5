package scoring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/risk"
)

var tracer = otel.Tracer("riskboard-scoring")

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 30

// Client uploads files to the scoring service.
type Client struct {
	url        string
	fileField  string
	classifier risk.Classifier
	http       *http.Client
}

// NewClient builds a client from configuration.
func NewClient(cfg domain.ScoringConfig, c risk.Classifier) *Client {
	path := cfg.Path
	if path == "" {
		path = "/predict"
	}
	field := cfg.FileField
	if field == "" {
		field = "file"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		url:        strings.TrimRight(cfg.Endpoint, "/") + "/" + strings.TrimLeft(path, "/"),
		fileField:  field,
		classifier: c,
		http:       &http.Client{Timeout: timeout},
	}
}

// URL returns the upload URL.
func (c *Client) URL() string {
	return c.url
}

// Score posts the file as a multipart form and interprets the response.
func (c *Client) Score(ctx context.Context, up Upload) Outcome {
	ctx, span := tracer.Start(ctx, "scoring.upload",
		trace.WithAttributes(
			attribute.String("scoring.url", c.url),
			attribute.String("file.name", up.FileName),
			attribute.Int("file.bytes", len(up.Data)),
		),
	)
	defer span.End()

	start := time.Now()
	status, body, err := c.post(ctx, up)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("scoring request failed",
			"url", c.url,
			"file", up.FileName,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return Outcome{Err: TransportError(err)}
	}

	out := InterpretResponse(status, body, c.classifier)
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int("scoring.rows", len(out.Transactions)),
	)
	if out.Err != nil {
		span.SetStatus(codes.Error, out.Err.Message)
	}

	slog.Debug("scoring response",
		"url", c.url,
		"status", status,
		"rows", len(out.Transactions),
		"result", StatusText(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out
}

func (c *Client) post(ctx context.Context, up Upload) (int, []byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(c.fileField, up.FileName)
	if err != nil {
		return 0, nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(up.Data); err != nil {
		return 0, nil, fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
