package tracking

import (
	"context"
	"fmt"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/importer"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
)

// FileFetcher retrieves a spreadsheet by its remote path, satisfied by the
// WebDAV client.
type FileFetcher interface {
	Download(ctx context.Context, filePath string) ([]byte, error)
}

// FileDispatcher turns a remote tracking spreadsheet into a dispatched batch.
type FileDispatcher struct {
	svc   *Service
	files FileFetcher
	log   logger.Logger
}

func NewFileDispatcher(svc *Service, files FileFetcher, log logger.Logger) *FileDispatcher {
	return &FileDispatcher{
		svc:   svc,
		files: files,
		log:   log,
	}
}

// DispatchFile downloads a tracking spreadsheet, parses its URL rows, and
// fans out a batch for the given pipeline. kind may be empty, in which case
// it is resolved from the file name.
func (d *FileDispatcher) DispatchFile(
	ctx context.Context,
	kind pipeline.Kind,
	filePath string,
) (*models.Batch, []importer.ImportError, error) {
	if kind == "" {
		resolved, ok := pipeline.KindForPath(filePath)
		if !ok {
			return nil, nil, fmt.Errorf("dispatch file %s: no pipeline claims this file name", filePath)
		}
		kind = resolved
	}

	content, err := d.files.Download(ctx, filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("dispatch file %s: %w", filePath, err)
	}

	rows, importErrs, err := importer.ParseWorkbook(content)
	if err != nil {
		return nil, nil, fmt.Errorf("dispatch file %s: %w", filePath, err)
	}
	for _, ie := range importErrs {
		d.log.Warn("tracking sheet row rejected",
			logger.String("file_path", filePath),
			logger.Int("row", ie.Row),
			logger.String("reason", ie.Error))
	}
	if len(rows) == 0 {
		return nil, importErrs, fmt.Errorf("dispatch file %s: no usable rows", filePath)
	}

	seeds := make([]Seed, 0, len(rows))
	for _, row := range rows {
		seeds = append(seeds, Seed{TargetURL: row.URL, Index: row.Index})
	}

	batch, err := d.svc.Dispatch(ctx, kind, filePath, seeds)
	if err != nil {
		return nil, importErrs, err
	}
	return batch, importErrs, nil
}
