// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package store implements the filesystem resource store (spec §1 C2, §4.2):
// per-entity directories holding an index.json document, tolerant reads, and
// atomic whole-document writes.
package store

import (
	"context"
	"encoding/json"
	"path"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/transformerlab/orchestrator-core/internal/apierrors"
	"github.com/transformerlab/orchestrator-core/pkg/storage"
)

const indexFile = "index.json"

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeID reduces id to a filesystem-safe ASCII form with no path
// separators (spec §4.2: "an id sanitized to a filesystem-safe form").
func SanitizeID(id string) string {
	return unsafeIDChars.ReplaceAllString(id, "_")
}

// Store is a generic per-entity resource store: a directory per id holding
// index.json. T is the decoded document shape (Job, Experiment, Dataset, ...).
type Store[T any] struct {
	backend    storage.Backend
	dirName    string
	newDefault func(id string) T
}

// New builds a Store rooted at "<dirName>/" under backend, where newDefault
// produces the document written the first time a resource directory is
// touched without an index.json (spec §4.2 get()).
func New[T any](backend storage.Backend, dirName string, newDefault func(id string) T) *Store[T] {
	return &Store[T]{backend: backend, dirName: dirName, newDefault: newDefault}
}

func (s *Store[T]) key(id string) string {
	return path.Join(s.dirName, SanitizeID(id), indexFile)
}

// Dir returns the resource directory for id, e.g. for artifact subpaths.
func (s *Store[T]) Dir(id string) string {
	return path.Join(s.dirName, SanitizeID(id))
}

// Create writes a default document for id, failing if one already exists
// (spec §4.2: "create(id) writes index.json if and only if it does not
// exist; else raises Exists").
func (s *Store[T]) Create(ctx context.Context, id string) (T, error) {
	var zero T
	exists, err := s.backend.Exists(ctx, s.key(id))
	if err != nil {
		return zero, err
	}
	if exists {
		return zero, apierrors.NewValidation("resource %q already exists", id)
	}
	doc := s.newDefault(id)
	if err := s.writeJSON(ctx, id, doc); err != nil {
		return zero, err
	}
	return doc, nil
}

// Get reads id's document, writing and returning the default document when
// the directory exists but index.json is missing, and a tolerant {} decode
// when index.json is corrupt (spec §4.2, §8 invariant 7).
func (s *Store[T]) Get(ctx context.Context, id string) (T, error) {
	raw, err := s.backend.DownloadBytes(ctx, s.key(id))
	if err != nil {
		exists, existsErr := s.backend.Exists(ctx, s.Dir(id))
		if existsErr == nil && exists {
			doc := s.newDefault(id)
			if writeErr := s.writeJSON(ctx, id, doc); writeErr != nil {
				var zero T
				return zero, writeErr
			}
			return doc, nil
		}
		var zero T
		return zero, apierrors.NewNotFound("resource %q not found", id)
	}
	return s.decodeTolerant(raw), nil
}

// Exists reports whether id's document is present.
func (s *Store[T]) Exists(ctx context.Context, id string) (bool, error) {
	return s.backend.Exists(ctx, s.key(id))
}

// GetField returns the named top-level field of id's document as a raw
// decoded value (spec §4.2 "get field").
func (s *Store[T]) GetField(ctx context.Context, id, field string) (interface{}, error) {
	raw, err := s.backend.DownloadBytes(ctx, s.key(id))
	if err != nil {
		return nil, apierrors.NewNotFound("resource %q not found", id)
	}
	m := decodeTolerantMap(raw)
	return m[field], nil
}

// SetField merges a single field into id's document and writes the whole
// document back (spec §4.2 "set field").
func (s *Store[T]) SetField(ctx context.Context, id, field string, value interface{}) error {
	raw, err := s.backend.DownloadBytes(ctx, s.key(id))
	if err != nil {
		return apierrors.NewNotFound("resource %q not found", id)
	}
	m := decodeTolerantMap(raw)
	m[field] = value
	return s.writeMap(ctx, id, m)
}

// SetWhole replaces id's document entirely (spec §4.2 "set whole", §8
// invariant 7: "writing a resource JSON replaces the document entirely").
func (s *Store[T]) SetWhole(ctx context.Context, id string, doc T) error {
	return s.writeJSON(ctx, id, doc)
}

// Delete recursively removes id's resource directory (spec §4.2).
func (s *Store[T]) Delete(ctx context.Context, id string) error {
	return s.backend.DeletePrefix(ctx, s.Dir(id))
}

// MigrateLegacySnapshot collapses any legacy index-<timestamp>.json +
// latest.txt pair into a single index.json, idempotently (spec §3: "A
// migration step collapses any legacy ... snapshots to a single index.json").
func (s *Store[T]) MigrateLegacySnapshot(ctx context.Context, id string) error {
	latestKey := path.Join(s.Dir(id), "latest.txt")
	exists, err := s.backend.Exists(ctx, latestKey)
	if err != nil || !exists {
		return nil
	}
	latestBytes, err := s.backend.DownloadBytes(ctx, latestKey)
	if err != nil {
		return nil
	}
	snapshotName := strings.TrimSpace(string(latestBytes))
	if snapshotName == "" {
		return nil
	}
	snapshotKey := path.Join(s.Dir(id), snapshotName)
	snapshotExists, err := s.backend.Exists(ctx, snapshotKey)
	if err != nil || !snapshotExists {
		return nil
	}
	raw, err := s.backend.DownloadBytes(ctx, snapshotKey)
	if err != nil {
		return nil
	}
	if err := s.backend.UploadBytes(ctx, s.key(id), raw); err != nil {
		return err
	}
	_ = s.backend.Delete(ctx, latestKey)
	_ = s.backend.Delete(ctx, snapshotKey)
	return nil
}

func (s *Store[T]) writeJSON(ctx context.Context, id string, doc T) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal document")
	}
	return s.backend.UploadBytes(ctx, s.key(id), raw)
}

func (s *Store[T]) writeMap(ctx context.Context, id string, m map[string]interface{}) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal document")
	}
	return s.backend.UploadBytes(ctx, s.key(id), raw)
}

// decodeTolerant parses raw into T, stripping trailing '%' and whitespace
// (some shells/editors append these) and falling back to the zero value on
// decode failure instead of raising (spec §4.2: "Reads are tolerant ... on
// decode error return {}").
func (s *Store[T]) decodeTolerant(raw []byte) T {
	var doc T
	cleaned := cleanJSON(raw)
	if err := json.Unmarshal(cleaned, &doc); err != nil {
		var empty T
		_ = json.Unmarshal([]byte("{}"), &empty)
		return empty // the typed analogue of "{}": an empty document, never a nil pointer
	}
	return doc
}

func decodeTolerantMap(raw []byte) map[string]interface{} {
	m := map[string]interface{}{}
	cleaned := cleanJSON(raw)
	_ = json.Unmarshal(cleaned, &m)
	return m
}

func cleanJSON(raw []byte) []byte {
	s := strings.TrimRight(string(raw), "% \t\r\n")
	return []byte(s)
}
