package parse

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/casefile/internal/soc"
)

// ImportFile reads path line by line and stores each non-blank line as
// a raw line under source. Lines are stored verbatim apart from leading
// and trailing whitespace. Returns the number of lines imported.
func (s *Service) ImportFile(ctx context.Context, path, source string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	imported := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rl := &soc.RawLine{
			ID:     ulid.Make().String(),
			Source: source,
			Line:   line,
		}
		if err := s.store.InsertRawLine(ctx, rl); err != nil {
			return imported, fmt.Errorf("insert raw line: %w", err)
		}
		imported++
	}
	if err := sc.Err(); err != nil {
		return imported, fmt.Errorf("read log file: %w", err)
	}

	s.logger.Info(ctx, "log file imported", "path", path, "source", source, "lines", imported)
	return imported, nil
}
