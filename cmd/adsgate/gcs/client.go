// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs uploads store backups to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// objectWriter opens a writer for one object in the bucket.
type objectWriter func(ctx context.Context, object string) io.WriteCloser

type Client struct {
	storageClient *storage.Client
	newWriter     objectWriter
	ProjectID     string
	BucketName    string
}

// NewClient authenticates with a service account key file.
func NewClient(ctx context.Context, projectID, bucketName, saKeyPath string) (*Client, error) {
	if bucketName == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	if _, err := os.Stat(saKeyPath); err != nil {
		return nil, fmt.Errorf("service account key not found at path: %s: %w", saKeyPath, err)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(saKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	c := &Client{
		storageClient: storageClient,
		ProjectID:     projectID,
		BucketName:    bucketName,
	}
	c.newWriter = func(ctx context.Context, object string) io.WriteCloser {
		w := storageClient.Bucket(bucketName).Object(object).NewWriter(ctx)
		w.ContentType = "application/octet-stream"
		w.CacheControl = "no-cache, no-store, must-revalidate"
		return w
	}
	return c, nil
}

// Upload streams r into object and returns the bytes written. The object
// only becomes visible when the writer closes cleanly.
func (c *Client) Upload(ctx context.Context, r io.Reader, object string) (int64, error) {
	w := c.newWriter(ctx, object)
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return n, fmt.Errorf("failed to copy backup to GCS object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	return n, nil
}

// UploadFile uploads a local file.
func (c *Client) UploadFile(ctx context.Context, localPath, object string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer f.Close()
	return c.Upload(ctx, f, object)
}

// URL returns the gs:// address of object.
func (c *Client) URL(object string) string {
	return "gs://" + c.BucketName + "/" + object
}

// Close releases the storage client.
func (c *Client) Close() error {
	if c.storageClient == nil {
		return nil
	}
	return c.storageClient.Close()
}

// ObjectName names a backup taken at t under prefix.
func ObjectName(prefix string, t time.Time) string {
	name := "adsgate-" + t.UTC().Format("20060102T150405Z") + ".badger"
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
