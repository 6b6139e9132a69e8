package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/fundora/apiserver/internal/storage"
	"github.com/google/uuid"
)

const (
	// MaxReceiptBytes caps a receipt upload.
	MaxReceiptBytes = 10 << 20
	// MaxProfileImageBytes caps a profile picture upload.
	MaxProfileImageBytes = 5 << 20

	receiptPrefix = "receipts"
	profilePrefix = "profiles"
)

var (
	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	}
	receiptExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
		".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
		".csv": true, ".txt": true,
	}
)

// Upload is a file received from a client.
type Upload struct {
	Filename string
	Data     []byte
}

// ObjectStore is the storage the services write uploads to.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Uploader validates uploads and stores them under generated keys.
type Uploader struct {
	store ObjectStore
}

func NewUploader(store ObjectStore) *Uploader {
	return &Uploader{store: store}
}

// SaveReceipt stores a receipt and returns its object key.
func (u *Uploader) SaveReceipt(ctx context.Context, upload Upload) (string, error) {
	return u.save(ctx, receiptPrefix, upload, receiptExtensions, MaxReceiptBytes)
}

// SaveProfileImage stores a profile picture and returns its object key.
func (u *Uploader) SaveProfileImage(ctx context.Context, upload Upload) (string, error) {
	return u.save(ctx, profilePrefix, upload, imageExtensions, MaxProfileImageBytes)
}

// Open returns a reader for a stored object.
func (u *Uploader) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return u.store.Get(ctx, key)
}

func (u *Uploader) save(ctx context.Context, prefix string, upload Upload, allowed map[string]bool, limit int) (string, error) {
	if err := validateUpload(upload, allowed, limit); err != nil {
		return "", err
	}

	ext := uploadExtension(upload.Filename)
	key := path.Join(prefix, uuid.NewString()+ext)
	if err := u.store.Put(ctx, key, bytes.NewReader(upload.Data), int64(len(upload.Data)), ContentType(key, upload.Data)); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return key, nil
}

func validateUpload(upload Upload, allowed map[string]bool, limit int) error {
	if len(upload.Data) == 0 {
		return invalid("uploaded file is empty")
	}
	if len(upload.Data) > limit {
		return invalid("uploaded file too large")
	}
	name := strings.TrimSpace(upload.Filename)
	if name == "" || strings.ContainsAny(name, "\x00") {
		return invalid("invalid file name")
	}
	ext := uploadExtension(name)
	if !allowed[ext] {
		return invalid("file type %q is not allowed", ext)
	}
	return nil
}

func uploadExtension(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	return strings.ToLower(path.Ext(base))
}

// ContentType guesses an object's media type from its key, falling back
// to sniffing data.
func ContentType(key string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}

// isMissingObject reports whether err means the stored object is gone.
func isMissingObject(err error) bool {
	return errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidKey)
}
