package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/pkg/validator"
)

// ObjectStore is the object storage collaborator attachments are written to.
type ObjectStore interface {
	// Put stores size bytes from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// URL returns the public URL of key.
	URL(ctx context.Context, key string) (string, error)
}

type AttachmentService struct {
	store   ObjectStore
	maxSize int64
	now     func() time.Time
}

// NewAttachmentService accepts a nil store; uploads then fail with
// ErrStorageDisabled.
func NewAttachmentService(store ObjectStore, maxSize int64) *AttachmentService {
	if maxSize <= 0 {
		maxSize = domain.MaxAttachmentSize
	}
	return &AttachmentService{
		store:   store,
		maxSize: maxSize,
		now:     time.Now,
	}
}

type UploadInput struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

func (s *AttachmentService) Upload(ctx context.Context, actor domain.Actor, input UploadInput) (*domain.Attachment, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}

	errs := make(validator.ValidationErrors)
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(input.Name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		errs.Add("file", "File name is required")
	}
	if input.Size > s.maxSize {
		errs.Add("file", fmt.Sprintf("File is %s; the limit is %s",
			humanize.IBytes(uint64(input.Size)), humanize.IBytes(uint64(s.maxSize))))
	}
	if err := invalid(errs); err != nil {
		return nil, err
	}

	key, err := s.objectKey(actor, name)
	if err != nil {
		return nil, err
	}

	body := io.LimitReader(input.Body, s.maxSize+1)
	if err := s.store.Put(ctx, key, body, input.Size, input.MimeType); err != nil {
		return nil, unavailable("storing attachment", err)
	}

	url, err := s.store.URL(ctx, key)
	if err != nil {
		return nil, unavailable("resolving attachment url", err)
	}

	return &domain.Attachment{
		Name:     name,
		URL:      url,
		MimeType: input.MimeType,
		Size:     input.Size,
	}, nil
}

// objectKey is {owner}/{unix-ms}-{random}{.ext}.
func (s *AttachmentService) objectKey(actor domain.Actor, name string) (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating object key: %w", err)
	}
	ext := strings.ToLower(path.Ext(name))
	return fmt.Sprintf("%s/%d-%s%s", actor.ID, s.now().UnixMilli(), hex.EncodeToString(b[:]), ext), nil
}
