package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/your-org/facegate/internal/apperr"
)

// BlobStore holds uploaded media, face crops and face images by key.
type BlobStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}

// Object key layout.
func UploadKey(jobID, fileName string) string {
	return fmt.Sprintf("uploads/%s/%s", jobID, sanitizeKeyPart(fileName))
}

func CropKey(jobID, clusterID string, index int) string {
	return fmt.Sprintf("jobs/%s/%s/%d.jpg", jobID, sanitizeKeyPart(clusterID), index)
}

func FaceImageKey(faceID string) string {
	return fmt.Sprintf("faces/%s.jpg", faceID)
}

func FaceAngleKey(faceID, angle string) string {
	return fmt.Sprintf("faces/%s/%s.jpg", faceID, sanitizeKeyPart(angle))
}

func sanitizeKeyPart(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "file"
	}
	return s
}

// MemoryBlobStore keeps objects in a map. It is used when no object store
// endpoint is configured and in tests.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (s *MemoryBlobStore) PutObject(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryBlobStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get object %s: %w", key, apperr.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryBlobStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryBlobStore) ListObjects(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryBlobStore) Ping(context.Context) error { return nil }
