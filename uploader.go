// Package kodoupload assembles the Domains Manager, HTTP request
// pipeline, and the form/resumable drivers into a single entry point
// for uploading files to Kodo.
package kodoupload

import (
	"context"
	"io"
	"os"

	"github.com/xushiwei/kodoupload/domains"
	"github.com/xushiwei/kodoupload/pipeline"
	"github.com/xushiwei/kodoupload/recorder"
	"github.com/xushiwei/kodoupload/region"
	"github.com/xushiwei/kodoupload/uploader/form"
	"github.com/xushiwei/kodoupload/uploader/resumable"
	"github.com/xushiwei/kodoupload/uploadresult"
	"github.com/xushiwei/kodoupload/workerpool"
)

// ResumableThreshold is the file size past which Manager.PutFile
// switches from the single-shot form driver to the resumable driver,
// matching the long-standing 4 MiB default other Kodo SDKs use.
const ResumableThreshold = 4 << 20

// Manager ties the Domains Manager, pipeline, and both upload drivers
// together behind one PutFile call.
type Manager struct {
	Domains   *domains.Manager
	Pipeline  *pipeline.Client
	Form      *form.Uploader
	Resumable *resumable.Uploader
}

// Config configures NewManager.
type Config struct {
	Regions []region.Region
	// Bucket is the destination bucket resumable uploads are made
	// into; it is part of the resumable upload session's URL path. The
	// form driver doesn't need it: the server derives the bucket from
	// the upload token for that protocol.
	Bucket      string
	UseHTTPS    bool
	RecordDir   string
	BlockSize   int64
	Concurrency int
	Retries     int
}

// NewManager builds a Manager from cfg, defaulting Regions to every
// built-in region and RecordDir to qiniu_sdk/records under the OS cache
// directory (or the temp dir when there is none) when left unset.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Regions) == 0 {
		cfg.Regions = region.All()
	}
	if cfg.RecordDir == "" {
		cfg.RecordDir = defaultRecordDir()
	}

	// A dedicated two-worker pool: one worker runs the refresh loop,
	// which runs forever; the other first runs the builder's default
	// pre-resolution and then opportunistic persistence, which queues
	// behind the pre-resolution until it finishes.
	pool := workerpool.New(2)
	dm := domains.NewBuilder().WithWorkerPool(pool).Build()
	dm.StartBackgroundRefresh()

	pc := pipeline.NewClient(dm, pipeline.WithDefaultRetries(cfg.Retries), pipeline.WithHTTPS(cfg.UseHTTPS))

	zones := region.UpZonesFor(cfg.UseHTTPS, cfg.Regions...).Lists()

	rec, err := recorder.New(cfg.RecordDir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		Domains:   dm,
		Pipeline:  pc,
		Form:      form.NewUploader(pc, zones),
		Resumable: resumable.NewUploader(pc, cfg.Bucket, zones, rec, cfg.BlockSize, cfg.Concurrency),
	}, nil
}

func defaultRecordDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return dir + "/qiniu_sdk/records"
}

// PutFile uploads the file at path under key, authorized by
// uploadToken, choosing the form driver for files at or below
// ResumableThreshold and the resumable driver above it.
func (m *Manager) PutFile(ctx context.Context, uploadToken, path, key string) (*uploadresult.PutRet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if info.Size() <= ResumableThreshold {
		return m.Form.Put(ctx, uploadToken, key, func() (io.Reader, error) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			return f, nil
		}, info.Size(), nil)
	}

	return m.Resumable.Put(ctx, uploadToken, path, key, f, info.Size(), info.ModTime().Unix(), nil)
}
