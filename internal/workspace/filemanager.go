// Package workspace implements the per-process workspace: a numbered file
// store, a bounded markdown memory blob, and an append-only JSONL operation
// log, composed so that every mutation is logged.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"fable/internal/errors"
	"fable/internal/logging"
)

// FileType is the coarse category derived from a file's extension.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
	FileTypeText  FileType = "text"
	FileTypeAudio FileType = "audio"
	FileTypeOther FileType = "other"
)

var extensionTypes = map[string]FileType{
	".png": FileTypeImage, ".jpg": FileTypeImage, ".jpeg": FileTypeImage,
	".gif": FileTypeImage, ".webp": FileTypeImage, ".bmp": FileTypeImage,
	".mp4": FileTypeVideo, ".mov": FileTypeVideo, ".avi": FileTypeVideo,
	".mkv": FileTypeVideo, ".webm": FileTypeVideo,
	".txt": FileTypeText, ".md": FileTypeText, ".json": FileTypeText,
	".yaml": FileTypeText, ".yml": FileTypeText, ".csv": FileTypeText,
	".mp3": FileTypeAudio, ".wav": FileTypeAudio, ".flac": FileTypeAudio,
	".ogg": FileTypeAudio, ".m4a": FileTypeAudio,
}

// TypeForExtension maps an extension (with leading dot) to a FileType.
// Unknown extensions map to other.
func TypeForExtension(ext string) FileType {
	if t, ok := extensionTypes[strings.ToLower(ext)]; ok {
		return t
	}
	return FileTypeOther
}

// FileMetadata describes one stored file.
type FileMetadata struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	Description string         `json:"description"`
	FileType    FileType       `json:"file_type"`
	Extension   string         `json:"extension"`
	FilePath    string         `json:"file_path"`
	SizeBytes   int64          `json:"size_bytes"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by,omitempty"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata"`
}

func (m *FileMetadata) clone() *FileMetadata {
	cp := *m
	cp.Tags = append([]string(nil), m.Tags...)
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// metadataIndex is the on-disk shape of .file_metadata.json.
type metadataIndex struct {
	Counter uint64                   `json:"counter"`
	Files   map[string]*FileMetadata `json:"files"`
}

const (
	metadataFileName = ".file_metadata.json"
	contentCacheSize = 64
)

// FileManager owns the workspace directory and its metadata index. File
// numbering is strictly monotonic and independent of deletions; deleted ids
// are never reissued.
type FileManager struct {
	mu      sync.Mutex
	dir     string
	counter uint64
	files   map[string]*FileMetadata
	cache   *lru.Cache[string, []byte]
	logger  logging.Logger
}

// NewFileManager opens (or creates) the workspace directory and loads the
// metadata index from disk.
func NewFileManager(dir string, logger logging.Logger) (*FileManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	cache, err := lru.New[string, []byte](contentCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create content cache: %w", err)
	}
	fm := &FileManager{
		dir:    dir,
		files:  make(map[string]*FileMetadata),
		cache:  cache,
		logger: logging.OrNop(logger),
	}
	if err := fm.loadIndex(); err != nil {
		return nil, err
	}
	return fm, nil
}

func (fm *FileManager) loadIndex() error {
	path := filepath.Join(fm.dir, metadataFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read metadata index: %w", err)
	}
	var index metadataIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("parse metadata index: %w", err)
	}
	fm.counter = index.Counter
	if index.Files != nil {
		fm.files = index.Files
	}
	return nil
}

// persistIndexLocked rewrites the metadata index atomically (temp + rename).
func (fm *FileManager) persistIndexLocked() error {
	index := metadataIndex{Counter: fm.counter, Files: fm.files}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata index: %w", err)
	}
	path := filepath.Join(fm.dir, metadataFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metadata index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename metadata index: %w", err)
	}
	return nil
}

// StoreFile writes content under the next file number and indexes it.
func (fm *FileManager) StoreFile(content []byte, filename, description, createdBy string, tags []string, metadata map[string]any) (*FileMetadata, error) {
	if filename == "" {
		return nil, errors.Validation("filename is required")
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	fm.counter++
	ext := strings.ToLower(filepath.Ext(filename))
	id := fmt.Sprintf("file_%06d", fm.counter)
	diskName := fmt.Sprintf("file_%06d%s", fm.counter, ext)
	path := filepath.Join(fm.dir, diskName)

	if err := os.WriteFile(path, content, 0o644); err != nil {
		fm.counter--
		return nil, fmt.Errorf("write file content: %w", err)
	}

	meta := &FileMetadata{
		ID:          id,
		Filename:    filename,
		Description: description,
		FileType:    TypeForExtension(ext),
		Extension:   ext,
		FilePath:    path,
		SizeBytes:   int64(len(content)),
		CreatedAt:   time.Now(),
		CreatedBy:   createdBy,
		Tags:        append([]string(nil), tags...),
		Metadata:    metadata,
	}
	if meta.Tags == nil {
		meta.Tags = []string{}
	}
	if meta.Metadata == nil {
		meta.Metadata = map[string]any{}
	}
	fm.files[id] = meta
	if err := fm.persistIndexLocked(); err != nil {
		delete(fm.files, id)
		_ = os.Remove(path)
		return nil, err
	}
	fm.cache.Add(id, append([]byte(nil), content...))
	return meta.clone(), nil
}

// StoreFileFromPath reads a file from disk and stores it under workspace numbering.
func (fm *FileManager) StoreFileFromPath(srcPath, description, createdBy string, tags []string, metadata map[string]any) (*FileMetadata, error) {
	content, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	return fm.StoreFile(content, filepath.Base(srcPath), description, createdBy, tags, metadata)
}

// GetFile returns the metadata for a stored file.
func (fm *FileManager) GetFile(id string) (*FileMetadata, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	meta, ok := fm.files[id]
	if !ok {
		return nil, errors.NotFound("file", id)
	}
	return meta.clone(), nil
}

// GetFileContent returns the stored bytes, via the LRU content cache.
func (fm *FileManager) GetFileContent(id string) ([]byte, error) {
	fm.mu.Lock()
	meta, ok := fm.files[id]
	if !ok {
		fm.mu.Unlock()
		return nil, errors.NotFound("file", id)
	}
	if content, ok := fm.cache.Get(id); ok {
		fm.mu.Unlock()
		return append([]byte(nil), content...), nil
	}
	path := meta.FilePath
	fm.mu.Unlock()

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file content: %w", err)
	}
	fm.mu.Lock()
	fm.cache.Add(id, append([]byte(nil), content...))
	fm.mu.Unlock()
	return content, nil
}

// ListFilter narrows ListFiles results. Tags require every tag to match.
type ListFilter struct {
	FileType  *FileType
	Tags      []string
	CreatedBy string
	Limit     int
}

// ListFiles returns matching files, newest first.
func (fm *FileManager) ListFiles(filter ListFilter) []*FileMetadata {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	out := make([]*FileMetadata, 0, len(fm.files))
	for _, meta := range fm.files {
		if filter.FileType != nil && meta.FileType != *filter.FileType {
			continue
		}
		if filter.CreatedBy != "" && meta.CreatedBy != filter.CreatedBy {
			continue
		}
		if !hasAllTags(meta.Tags, filter.Tags) {
			continue
		}
		out = append(out, meta.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// SearchFiles substring-matches query against filename and description,
// case-insensitive, newest first.
func (fm *FileManager) SearchFiles(query string, fileType *FileType, limit int) []*FileMetadata {
	if limit <= 0 {
		limit = 10
	}
	needle := strings.ToLower(query)

	fm.mu.Lock()
	defer fm.mu.Unlock()

	out := make([]*FileMetadata, 0)
	for _, meta := range fm.files {
		if fileType != nil && meta.FileType != *fileType {
			continue
		}
		haystack := strings.ToLower(meta.Filename + " " + meta.Description)
		if strings.Contains(haystack, needle) {
			out = append(out, meta.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MetadataUpdate carries the optional fields of UpdateFileMetadata.
type MetadataUpdate struct {
	Description *string
	Tags        []string
	Metadata    map[string]any
}

// UpdateFileMetadata rewrites the mutable metadata fields of a file.
func (fm *FileManager) UpdateFileMetadata(id string, update MetadataUpdate) (*FileMetadata, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	meta, ok := fm.files[id]
	if !ok {
		return nil, errors.NotFound("file", id)
	}
	if update.Description != nil {
		meta.Description = *update.Description
	}
	if update.Tags != nil {
		meta.Tags = append([]string(nil), update.Tags...)
	}
	if update.Metadata != nil {
		meta.Metadata = update.Metadata
	}
	if err := fm.persistIndexLocked(); err != nil {
		return nil, err
	}
	return meta.clone(), nil
}

// DeleteFile removes the content file and its index entry. The file number is
// not reissued.
func (fm *FileManager) DeleteFile(id string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	meta, ok := fm.files[id]
	if !ok {
		return errors.NotFound("file", id)
	}
	if err := os.Remove(meta.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file content: %w", err)
	}
	delete(fm.files, id)
	fm.cache.Remove(id)
	return fm.persistIndexLocked()
}

// Count returns the number of indexed files.
func (fm *FileManager) Count() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return len(fm.files)
}

// Counter exposes the monotone file counter.
func (fm *FileManager) Counter() uint64 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.counter
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
