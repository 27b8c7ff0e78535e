package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/pkg/logger"
)

// AuditRepo is the durable audit sink; nil keeps audit file-only.
type AuditRepo interface {
	Insert(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, executorID string, limit int, from, to *time.Time) ([]*model.AuditLog, error)
}

// AuditService consumes audit entries asynchronously: JSONL file always,
// Postgres when configured, and an in-memory ring for queries when the
// database is absent.
type AuditService struct {
	logChan chan *model.AuditLog
	logFile *os.File
	buffer  *auditBuffer
	repo    AuditRepo
}

func NewAuditService(logDir string, repo AuditRepo) (*AuditService, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	filename := filepath.Join(logDir, "audit-"+time.Now().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	svc := &AuditService{
		logChan: make(chan *model.AuditLog, 1000),
		logFile: f,
		buffer:  newAuditBuffer(1000),
		repo:    repo,
	}

	go svc.processLogs()

	return svc, nil
}

// Log enqueues an entry. Drops under backpressure rather than blocking
// request handling.
func (s *AuditService) Log(entry *model.AuditLog) {
	if s.buffer != nil {
		s.buffer.Add(entry)
	}
	select {
	case s.logChan <- entry:
	default:
		logger.Warn("audit log buffer full, dropping entry", "path", entry.Path)
	}
}

func (s *AuditService) List(ctx context.Context, executorID string, limit int, from, to *time.Time) ([]*model.AuditLog, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, executorID, limit, from, to)
		if err == nil {
			return records, nil
		}
	}
	if s.buffer == nil {
		return nil, nil
	}
	return s.buffer.List(executorID, limit), nil
}

func (s *AuditService) Close() {
	close(s.logChan)
	s.logFile.Close()
}

func (s *AuditService) processLogs() {
	encoder := json.NewEncoder(s.logFile)
	for entry := range s.logChan {
		if err := encoder.Encode(entry); err != nil {
			logger.Error("failed to write audit entry", "error", err)
		}
		if s.repo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.repo.Insert(ctx, entry); err != nil {
				logger.Error("failed to persist audit entry", "error", err)
			}
			cancel()
		}
	}
}

// auditBuffer is a fixed-size ring of recent entries.
type auditBuffer struct {
	mu      sync.RWMutex
	entries []*model.AuditLog
	next    int
	size    int
}

func newAuditBuffer(capacity int) *auditBuffer {
	return &auditBuffer{entries: make([]*model.AuditLog, capacity)}
}

func (b *auditBuffer) Add(entry *model.AuditLog) {
	b.mu.Lock()
	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
	if b.size < len(b.entries) {
		b.size++
	}
	b.mu.Unlock()
}

func (b *auditBuffer) List(executorID string, limit int) []*model.AuditLog {
	if limit <= 0 || limit > b.size {
		limit = b.size
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*model.AuditLog
	for i := 1; i <= b.size && len(out) < limit; i++ {
		idx := (b.next - i + len(b.entries)) % len(b.entries)
		entry := b.entries[idx]
		if entry == nil {
			continue
		}
		if executorID != "" && entry.ExecutorID != executorID {
			continue
		}
		out = append(out, entry)
	}
	return out
}
