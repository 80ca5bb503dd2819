package artifact

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sourceplane/fareflow/internal/model"
)

// StageCode uploads the code of every job in def to its CodeURI, reading
// scripts relative to root. Locations ending in .tar.gz get a gzipped tar
// holding the script; anything else gets the script as is.
// It returns the staged locations in step order.
func StageCode(ctx context.Context, store Store, root string, def *model.Definition) ([]string, error) {
	var staged []string
	for _, step := range def.AllSteps() {
		job := step.Job
		if job == nil || job.Code == "" || job.CodeURI == "" {
			continue
		}

		script, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(job.Code)))
		if err != nil {
			return staged, fmt.Errorf("failed to read code of %s: %w", step.Name, err)
		}

		data := script
		if strings.HasSuffix(job.CodeURI, ".tar.gz") {
			if data, err = sourceArchive(path.Base(job.Code), script); err != nil {
				return staged, fmt.Errorf("failed to pack code of %s: %w", step.Name, err)
			}
		}
		if err := store.Put(ctx, job.CodeURI, data); err != nil {
			return staged, fmt.Errorf("failed to stage code of %s: %w", step.Name, err)
		}
		staged = append(staged, job.CodeURI)
	}
	return staged, nil
}

func sourceArchive(name string, script []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(script))}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(script); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
