package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/lotas/codeatlas/internal/export"
)

// encodeDocument serialises doc as an lz4-framed JSON export.
func encodeDocument(doc *export.Document) ([]byte, error) {
	raw, err := export.JSON(doc)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress tree: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress tree: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeDocument(blob []byte) (*export.Document, error) {
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(blob)))
	if err != nil {
		return nil, fmt.Errorf("decompress tree: %w", err)
	}
	return export.ParseJSON(raw)
}
