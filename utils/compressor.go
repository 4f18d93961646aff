package utils

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/pkg/errors"
)

// CompressData gzips data.
func CompressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, errors.Wrap(err, "gzip write")
	}
	if err := gz.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip close")
	}
	return buf.Bytes(), nil
}

// DecompressData reverses CompressData.
func DecompressData(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "gzip header")
	}
	defer gz.Close()

	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, errors.Wrap(err, "gzip read")
	}
	return out, nil
}
