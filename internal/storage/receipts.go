package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store is the blob collaborator for receipt files: upload by path plus
// time-limited signed access URLs.
type Store interface {
	Upload(ctx context.Context, filePath string, r io.Reader) error
	SignedURL(filePath string, ttl time.Duration) (string, error)
}

var (
	ErrInvalidPath  = errors.New("invalid storage path")
	ErrNoSigningKey = errors.New("storage signing key not configured")
)

// DiskStore keeps receipt files on the local filesystem and signs access
// URLs with an HMAC so links expire without any per-request database state.
type DiskStore struct {
	root    string
	baseURL string
}

func NewDiskStore(root, baseURL string) *DiskStore {
	return &DiskStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

// cleanPath rejects traversal and absolute paths. Receipt paths are always
// {companyId}/{paymentId}.{ext}.
func cleanPath(filePath string) (string, error) {
	cleaned := path.Clean("/" + filePath)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.Contains(cleaned, "..") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

func (s *DiskStore) Upload(ctx context.Context, filePath string, r io.Reader) error {
	cleaned, err := cleanPath(filePath)
	if err != nil {
		return err
	}

	dest := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating receipt directory: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating receipt file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(dest)
		return fmt.Errorf("writing receipt file: %w", err)
	}
	return nil
}

func (s *DiskStore) SignedURL(filePath string, ttl time.Duration) (string, error) {
	cleaned, err := cleanPath(filePath)
	if err != nil {
		return "", err
	}

	key := signingKey()
	if len(key) == 0 {
		return "", ErrNoSigningKey
	}

	expires := time.Now().Add(ttl).Unix()
	sig := sign(key, cleaned, expires)
	return fmt.Sprintf("%s/receipts/%s?exp=%d&sig=%s", s.baseURL, cleaned, expires, sig), nil
}

// ServeHTTP verifies signature and expiry, then streams the file. Mounted
// under /receipts/* with the wildcard path holding the storage path.
func (s *DiskStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filePath := strings.TrimPrefix(r.URL.Path, "/receipts/")
	cleaned, err := cleanPath(filePath)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	expires, err := strconv.ParseInt(r.URL.Query().Get("exp"), 10, 64)
	if err != nil || time.Now().Unix() > expires {
		http.Error(w, "Link expired", http.StatusForbidden)
		return
	}

	key := signingKey()
	expected := sign(key, cleaned, expires)
	if len(key) == 0 || !hmac.Equal([]byte(expected), []byte(r.URL.Query().Get("sig"))) {
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	full := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if _, err := os.Stat(full); err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeFile(w, r, full)
}

func signingKey() []byte {
	return []byte(viper.GetString("storage.secret_key"))
}

func sign(key []byte, filePath string, expires int64) string {
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s\n%d", filePath, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
