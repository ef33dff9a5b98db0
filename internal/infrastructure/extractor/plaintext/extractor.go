package plaintext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// maxDocumentBytes bounds a single ingested file.
const maxDocumentBytes = 16 << 20

// ReadFile returns the trimmed UTF-8 text of path.
func ReadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer f.Close()
	return Read(ctx, f, path)
}

// Read rejects binary input; name only appears in errors.
func Read(ctx context.Context, r io.Reader, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(io.LimitReader(r, maxDocumentBytes+1))
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	if len(raw) > maxDocumentBytes {
		return "", domain.WrapError(domain.ErrInvalidInput, "read source document", fmt.Errorf("%s exceeds %d bytes", name, maxDocumentBytes))
	}
	if !utf8.Valid(raw) {
		return "", domain.WrapError(domain.ErrInvalidInput, "read source document", errors.New("unsupported binary format: "+name))
	}
	return strings.TrimSpace(string(raw)), nil
}
