// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAds/cmd/adsgate/config"
	"github.com/AleutianAI/AleutianAds/cmd/adsgate/gcs"
	"github.com/AleutianAI/AleutianAds/pkg/ux"
	"github.com/AleutianAI/AleutianAds/services/adsapi"
)

func runStorePrune(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer env.close()

	maxAge := pruneMaxAge
	if maxAge <= 0 {
		maxAge = env.cfg.Gateway.SnapshotMaxAge
	}
	if maxAge <= 0 {
		return errors.New("--max-age must be positive")
	}

	store, err := env.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := adsapi.PruneStore(cmd.Context(), store, time.Now(), maxAge)
	if err != nil {
		return err
	}
	return env.out.Result("store prune", res, []ux.Field{
		{Key: "max age", Value: maxAge},
		{Key: "snapshots", Value: res.Snapshots},
		{Key: "session markers", Value: res.SessionMarkers},
		{Key: "malformed", Value: res.Malformed},
	})
}

// backupReport is the output of `store backup`.
type backupReport struct {
	File    string `json:"file,omitempty"`
	Object  string `json:"object,omitempty"`
	Bytes   int64  `json:"bytes"`
	Version uint64 `json:"version"`
}

// backupSource is the part of a store that can stream a backup.
type backupSource interface {
	Backup(w io.Writer) (uint64, error)
}

// uploader is the part of the GCS client used for backups.
type uploader interface {
	UploadFile(ctx context.Context, localPath, object string) (int64, error)
	URL(object string) string
}

func runStoreBackup(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer env.close()

	var up uploader
	if backupToGCS {
		b := env.cfg.Backup
		if !b.GCSEnabled() {
			return errors.New("--gcs needs backup.bucket and backup.credentials_file in " + env.cfgPath)
		}
		client, err := gcs.NewClient(cmd.Context(), b.ProjectID, b.Bucket, config.ExpandHome(b.CredentialsFile))
		if err != nil {
			return err
		}
		defer client.Close()
		up = client
	}

	store, err := env.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := backupStore(cmd.Context(), store, up, backupOutput, env.cfg.Backup.Prefix, time.Now())
	if err != nil {
		return err
	}

	fields := []ux.Field{{Key: "bytes", Value: report.Bytes}, {Key: "version", Value: report.Version}}
	if report.File != "" {
		fields = append(fields, ux.Field{Key: "file", Value: report.File})
	}
	if report.Object != "" {
		fields = append(fields, ux.Field{Key: "uploaded", Value: report.Object})
	}
	return env.out.Result("store backup", report, fields)
}

// backupStore writes a full backup to output, or to a temporary file when
// output is empty and up is set, then uploads it with up. The temporary
// file is removed after the upload.
func backupStore(ctx context.Context, src backupSource, up uploader, output, prefix string, now time.Time) (backupReport, error) {
	var report backupReport
	object := gcs.ObjectName(prefix, now)

	keep := output != "" || up == nil
	var f *os.File
	var err error
	if output == "" && up == nil {
		output = gcs.ObjectName("", now)
	}
	if output != "" {
		f, err = os.OpenFile(output, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	} else {
		f, err = os.CreateTemp("", "adsgate-backup-*.badger")
	}
	if err != nil {
		return report, fmt.Errorf("create backup file: %w", err)
	}
	if !keep {
		defer os.Remove(f.Name())
	}

	version, err := src.Backup(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if keep {
			_ = os.Remove(f.Name())
		}
		return report, err
	}

	info, err := os.Stat(f.Name())
	if err != nil {
		return report, err
	}
	report.Bytes = info.Size()
	report.Version = version
	if keep {
		report.File = f.Name()
	}

	if up != nil {
		if _, err := up.UploadFile(ctx, f.Name(), object); err != nil {
			return report, err
		}
		report.Object = up.URL(object)
	}
	return report, nil
}
