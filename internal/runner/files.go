package runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/providers"
)

const (
	fileMaxBytes        = 20 * 1024 * 1024
	fileDownloadTimeout = 30 * time.Second
)

// sanitizeFiles fills missing content types and inlines the files the
// chosen adapter cannot consume by URL. Messages are copied before any file
// is mutated so retries on other adapters see the original.
func (r *Runner) sanitizeFiles(ctx context.Context, messages []domain.Message, adapter providers.Adapter, model string) ([]domain.Message, *providers.Error) {
	out := messages
	copied := false
	for mi, m := range messages {
		for pi, p := range m.Content {
			if p.File == nil {
				continue
			}
			f := *p.File
			if err := f.Validate(); err != nil {
				return nil, providers.NewError(providers.KindInvalidFile,
					adapter.Name(), model, err.Error())
			}
			if f.IsInline() && f.ContentType == "" {
				sniffInlineType(&f)
			}
			if adapter.RequiresDownloadingFile(&f, model) {
				if err := r.downloadFile(ctx, &f); err != nil {
					return nil, providers.NewError(providers.KindInvalidFile,
						adapter.Name(), model, err.Error())
				}
			}
			if f == *p.File {
				continue
			}
			if !copied {
				out = copyMessages(messages)
				copied = true
			}
			out[mi].Content[pi].File = &f
		}
	}
	return out, nil
}

func copyMessages(messages []domain.Message) []domain.Message {
	out := make([]domain.Message, len(messages))
	for i, m := range messages {
		out[i] = domain.Message{Role: m.Role, Content: make([]domain.Part, len(m.Content))}
		copy(out[i].Content, m.Content)
	}
	return out
}

func sniffInlineType(f *domain.File) {
	data, err := f.Bytes()
	if err != nil {
		return
	}
	if len(data) > 512 {
		data = data[:512]
	}
	if ct := http.DetectContentType(data); ct != "application/octet-stream" {
		f.ContentType = ct
	}
}

// downloadFile inlines a URL file, sniffing the content type when the
// server does not report one.
func (r *Runner) downloadFile(ctx context.Context, f *domain.File) error {
	if f.IsInline() {
		return nil
	}
	reqCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, fileDownloadTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("invalid file url: %w", err)
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, fileMaxBytes+1))
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if len(data) > fileMaxBytes {
		return fmt.Errorf("file exceeds %d bytes", fileMaxBytes)
	}
	f.Data = base64.StdEncoding.EncodeToString(data)
	if f.ContentType == "" {
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			f.ContentType = ct
		} else {
			sniffInlineType(f)
		}
	}
	return nil
}
