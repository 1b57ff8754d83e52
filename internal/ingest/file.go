package ingest

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Stdin is the path that selects standard input.
const Stdin = "-"

// ReadFile parses the batch stored at path. Gzip input, such as rotated
// auth.log.2.gz files, is detected by its magic bytes.
func ReadFile(path string, platform Platform, opts Options, logger *slog.Logger) (Result, error) {
	src, closeFn, err := Open(path)
	if err != nil {
		return Result{}, err
	}
	defer closeFn()
	if logger != nil {
		logger.Info("reading batch", "path", path, "platform", platform)
	}
	res, err := Read(src, platform, opts, logger)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// Open returns a reader over path with gzip transparently removed. The
// returned func releases the underlying file.
func Open(path string) (io.Reader, func() error, error) {
	var f *os.File
	if path == Stdin {
		f = os.Stdin
	} else {
		opened, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		f = opened
	}
	closeFile := func() error {
		if f == os.Stdin {
			return nil
		}
		return f.Close()
	}

	buf := bufio.NewReader(f)
	magic, err := buf.Peek(2)
	if err != nil && err != io.EOF {
		_ = closeFile()
		return nil, nil, err
	}
	if !isGzip(magic) && !strings.HasSuffix(path, ".gz") {
		return buf, closeFile, nil
	}
	zr, err := gzip.NewReader(buf)
	if err != nil {
		_ = closeFile()
		return nil, nil, fmt.Errorf("%s: gzip: %w", path, err)
	}
	return zr, func() error {
		_ = zr.Close()
		return closeFile()
	}, nil
}

func isGzip(magic []byte) bool {
	return len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b
}
