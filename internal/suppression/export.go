package suppression

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ignite/bounce-monitor/internal/domain"
)

// exportBatchSize bounds memory while streaming large registries.
const exportBatchSize = 5000

// Export streams the registry to w as a flat delimited file, newest first:
//
//	address,type,source,reason,timestamp
//
// Fields containing the delimiter are stripped of it rather than quoted;
// the consumer on the MTA side does no quote handling.
func (s *Service) Export(ctx context.Context, w io.Writer, typ domain.SuppressionType, delimiter string) (int, error) {
	if delimiter == "" {
		delimiter = ","
	}

	written := 0
	offset := 0
	for {
		entries, _, err := s.repo.List(ctx, ListFilter{
			Type:   typ,
			Limit:  exportBatchSize,
			Offset: offset,
		})
		if err != nil {
			return written, fmt.Errorf("list for export: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		for _, e := range entries {
			line := strings.Join([]string{
				e.Email,
				string(e.Type),
				string(e.Source),
				strings.ReplaceAll(e.Reason, delimiter, " "),
				e.SuppressedAt.UTC().Format(time.RFC3339),
			}, delimiter)
			if _, err := fmt.Fprintln(w, line); err != nil {
				return written, fmt.Errorf("write export row: %w", err)
			}
			written++
		}

		offset += len(entries)
		if len(entries) < exportBatchSize {
			break
		}
	}
	return written, nil
}

// ExportToFile writes the registry to a timestamped file in dir and returns
// the path, the number of rows written (after the type filter) and the
// pre-export statistics snapshot.
func (s *Service) ExportToFile(ctx context.Context, dir string, typ domain.SuppressionType, delimiter string) (string, int, *Stats, error) {
	stats, err := s.GetStats(ctx)
	if err != nil {
		return "", 0, nil, fmt.Errorf("stats before export: %w", err)
	}

	name := fmt.Sprintf("suppressions_%s.csv", time.Now().UTC().Format("20060102T150405"))
	if typ != "" {
		name = fmt.Sprintf("suppressions_%s_%s.csv", typ, time.Now().UTC().Format("20060102T150405"))
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, nil, fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	written, err := s.Export(ctx, f, typ, delimiter)
	if err != nil {
		os.Remove(path)
		return "", 0, nil, err
	}
	return path, written, stats, nil
}
