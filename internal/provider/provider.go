// Package provider resolves public file-hosting URLs to downloadable byte streams.
package provider

import (
	"context"
	"fmt"
	"io"

	"medialoader/internal/entity"
	"medialoader/internal/errs"
)

// Provider is a remote service able to serve some URLs.
type Provider interface {
	Name() string
	CanHandle(url string) bool
	// FetchMetadata reads the file name and size without transferring it.
	FetchMetadata(ctx context.Context, url string) (entity.DownloadInfo, error)
	// OpenDownload starts the transfer. The caller owns Body.
	OpenDownload(ctx context.Context, url string) (*Download, error)
}

// Download is an open provider stream plus its metadata.
type Download struct {
	Info entity.DownloadInfo
	Body io.ReadCloser
}

// Select returns the first provider that claims url.
func Select(providers []Provider, url string) (Provider, error) {
	for _, p := range providers {
		if p.CanHandle(url) {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", errs.ErrProviderNotFound, url)
}
