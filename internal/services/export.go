package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
)

const exportContentType = "application/json"

const exportKeyPrefix = "exports/tasks/"

// ObjectStore is the slice of object storage needed for exports.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]types.StoredObject, error)
	Bucket() string
}

// ExportService writes snapshots of filtered task listings to object storage.
type ExportService struct {
	tasks   *TaskService
	objects ObjectStore
	now     func() time.Time
	newID   func() string
}

func NewExportService(tasks *TaskService, objects ObjectStore) *ExportService {
	return &ExportService{
		tasks:   tasks,
		objects: objects,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

type taskSnapshot struct {
	ExportedAt time.Time         `json:"exportedAt"`
	ExportedBy string            `json:"exportedBy"`
	Filter     *types.TaskFilter `json:"filter,omitempty"`
	Count      int               `json:"count"`
	Tasks      []types.Task      `json:"tasks"`
}

// Export lists tasks with filter and stores them as one JSON document.
func (s *ExportService) Export(ctx context.Context, filter *types.TaskFilter, requestedBy string) (types.TaskExport, error) {
	tasks, err := s.tasks.List(ctx, filter)
	if err != nil {
		return types.TaskExport{}, err
	}

	now := s.now()
	body, err := json.Marshal(taskSnapshot{
		ExportedAt: now,
		ExportedBy: requestedBy,
		Filter:     filter,
		Count:      len(tasks),
		Tasks:      tasks,
	})
	if err != nil {
		return types.TaskExport{}, err
	}

	key := exportKey(now, s.newID())
	if err := s.objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), exportContentType); err != nil {
		return types.TaskExport{}, fmt.Errorf("upload export %s: %w", key, err)
	}

	return types.TaskExport{
		Bucket: s.objects.Bucket(),
		Key:    key,
		Count:  len(tasks),
	}, nil
}

// Open streams a previously written export. Keys outside the export prefix
// are rejected as not found.
func (s *ExportService) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	key = strings.TrimPrefix(key, "/")
	if !strings.HasPrefix(key, exportKeyPrefix) || strings.Contains(key, "..") {
		return nil, fmt.Errorf("export %q: %w", key, store.ErrNotFound)
	}
	return s.objects.Get(ctx, key)
}

// List returns the stored exports, newest first.
func (s *ExportService) List(ctx context.Context) ([]types.StoredObject, error) {
	objects, err := s.objects.List(ctx, exportKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	slices.SortFunc(objects, func(a, b types.StoredObject) int {
		if c := b.LastModified.Compare(a.LastModified); c != 0 {
			return c
		}
		return strings.Compare(b.Key, a.Key)
	})
	return objects, nil
}

func exportKey(at time.Time, id string) string {
	return fmt.Sprintf("%s%d/%02d/%02d/%s.json", exportKeyPrefix, at.Year(), at.Month(), at.Day(), id)
}
