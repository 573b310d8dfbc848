// Package ocr fetches the text the external OCR service produced for a document.
package ocr

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/joseph-ayodele/plan-analyzer/constants"
)

// Fetcher returns the OCR text stored at an OCR result location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (string, error)
}

// ErrNoArtifact means the result location holds no usable text artifact.
var ErrNoArtifact = errors.New("no OCR text artifact found")

// SelectArtifact picks the canonical text artifact from a result listing:
// the first .mmd that is not the detection dump, then the first .md, then
// the first .txt.
func SelectArtifact(names []string) (string, bool) {
	for _, want := range constants.OCRArtifactExtensions {
		for _, n := range names {
			if constants.NormalizeExt(path.Ext(n)) != want {
				continue
			}
			if want == "mmd" && constants.IsOCRDetectionDump(n) {
				continue
			}
			return n, true
		}
	}
	return "", false
}

// Router sends gs:// locations to GCS and everything else to the folder API.
type Router struct {
	Folder Fetcher
	GCS    Fetcher // optional
}

func (r Router) Fetch(ctx context.Context, location string) (string, error) {
	if strings.HasPrefix(location, "gs://") {
		if r.GCS == nil {
			return "", errors.New("ocr: gs:// location but no GCS fetcher configured")
		}
		return r.GCS.Fetch(ctx, location)
	}
	if r.Folder == nil {
		return "", errors.New("ocr: no folder fetcher configured")
	}
	return r.Folder.Fetch(ctx, location)
}
