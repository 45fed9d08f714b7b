package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Fetcher reads model artifacts from a local path or an http(s) URL.
type Fetcher struct {
	Client  *http.Client
	Retries uint64
	// BackOff builds the retry schedule for one fetch. Nil means exponential.
	BackOff func() backoff.BackOff
	Log     *zap.Logger
}

// NewFetcher returns a fetcher with an HTTP client bounded by timeout.
func NewFetcher(timeout time.Duration, retries uint64, log *zap.Logger) *Fetcher {
	return &Fetcher{
		Client:  &http.Client{Timeout: timeout},
		Retries: retries,
		Log:     log,
	}
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Fetch returns the full contents of source.
func (f *Fetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	if source == "" {
		return nil, errors.New("empty model source")
	}
	if !isRemote(source) {
		data, err := os.ReadFile(strings.TrimPrefix(source, "file://"))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", source, err)
		}
		return data, nil
	}

	var b backoff.BackOff
	if f.BackOff != nil {
		b = f.BackOff()
	} else {
		b = backoff.NewExponentialBackOff()
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, f.Retries), ctx)

	var data []byte
	err := backoff.Retry(func() error {
		var err error
		data, err = f.get(ctx, source)
		if err != nil && f.Log != nil {
			f.Log.Warn("model fetch attempt failed", zap.String("source", source), zap.Error(err))
		}
		return err
	}, b)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", source, err)
	}
	return data, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	return io.ReadAll(resp.Body)
}

// FetchMetadata loads and parses a JSON metadata document.
func (f *Fetcher) FetchMetadata(ctx context.Context, source string) (Metadata, error) {
	data, err := f.Fetch(ctx, source)
	if err != nil {
		return Metadata{}, err
	}

	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return metadata, nil
}

// ONNXSource locates the model and its metadata.
type ONNXSource struct {
	ModelSource    string
	MetadataSource string
	// Metadata is used as-is when MetadataSource is empty.
	Metadata Metadata
	Session  SessionOptions
}

// NewONNXLoader returns a Loader that fetches and materializes an ONNX model.
func NewONNXLoader(src ONNXSource, fetcher *Fetcher, log *zap.Logger) Loader {
	return func(ctx context.Context) (Handle, error) {
		metadata := src.Metadata
		if src.MetadataSource != "" {
			log.Info("fetching model metadata", zap.String("source", src.MetadataSource))
			m, err := fetcher.FetchMetadata(ctx, src.MetadataSource)
			if err != nil {
				return nil, err
			}
			metadata = m
		}

		log.Info("fetching model", zap.String("source", src.ModelSource))
		data, err := fetcher.Fetch(ctx, src.ModelSource)
		if err != nil {
			return nil, err
		}
		log.Info("model fetched", zap.Int("bytes", len(data)))

		return NewSession(data, metadata, src.Session)
	}
}
