// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LocalBackend implements Backend over the local filesystem, adapted from
// Lens/skills-repository's LocalStorage with a DeletePrefix addition (needed
// by the resource store's delete-tree operation, spec §4.2).
type LocalBackend struct {
	basePath string
}

// NewLocalBackend creates basePath if missing and returns a LocalBackend
// rooted there.
func NewLocalBackend(basePath string) (*LocalBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage directory")
	}
	return &LocalBackend{basePath: basePath}, nil
}

func (s *LocalBackend) path(key string) string {
	return filepath.Join(s.basePath, key)
}

// Upload writes reader's content to key, creating parent directories. The
// write lands via a temp file + rename so a reader never observes a
// partially written document (spec §4.2 set_json_data, §8 invariant 7).
func (s *LocalBackend) Upload(ctx context.Context, key string, reader io.Reader) error {
	p := s.path(key)
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create directory")
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}

// UploadBytes writes data to key.
func (s *LocalBackend) UploadBytes(ctx context.Context, key string, data []byte) error {
	return s.Upload(ctx, key, bytes.NewReader(data))
}

// Download opens key for reading; caller must Close the result.
func (s *LocalBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, errors.Wrap(err, "open file")
	}
	return f, nil
}

// DownloadBytes reads key entirely into memory.
func (s *LocalBackend) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	return downloadBytesVia(ctx, s, key)
}

// Delete removes key, tolerating a missing file.
func (s *LocalBackend) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "delete file")
	}
	return nil
}

// DeletePrefix removes every file under prefix, tolerating a missing tree —
// the resource store's delete() operation (spec §4.2).
func (s *LocalBackend) DeletePrefix(ctx context.Context, prefix string) error {
	if err := os.RemoveAll(s.path(prefix)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "delete tree")
	}
	return nil
}

// Exists reports whether key is present.
func (s *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetURL returns a file:// style reference; local storage has no presigned
// URL concept, so callers expecting one should check the backend kind first.
func (s *LocalBackend) GetURL(ctx context.Context, key string) (string, error) {
	return "file://" + s.path(key), nil
}

// ListObjects walks prefix and returns every file beneath it.
func (s *LocalBackend) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	root := s.path(prefix)

	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, relErr := filepath.Rel(s.basePath, p)
			if relErr != nil {
				return relErr
			}
			objects = append(objects, ObjectInfo{Key: rel, Size: info.Size()})
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "list objects")
	}
	return objects, nil
}
