// Package pipeline drives a job through the ingestion state machine:
// extraction, parsing, import, and training, sequenced by a worker pool
// and reporting progress/cancellation through the job store.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/connect-llm/slackcorpus/pkg/extractor"
	"github.com/connect-llm/slackcorpus/pkg/indexer"
	"github.com/connect-llm/slackcorpus/pkg/jobstore"
	"github.com/connect-llm/slackcorpus/pkg/ollama"
	"github.com/connect-llm/slackcorpus/pkg/progress"
	"github.com/connect-llm/slackcorpus/pkg/slackexport"
	"github.com/connect-llm/slackcorpus/pkg/slackmodel"
)

// exportFileSuffix names the extension the parser can read; other tree
// entries (huddle_transcripts, lists, attachment blobs) are ignored, per
// spec.md §4.3's tree layout.
const exportFileSuffix = ".txt"

// Controller sequences one job at a time through the state machine,
// bounded by a worker pool and a per-job cancel-flag registry.
type Controller struct {
	jobs       *jobstore.Store
	importer   *indexer.Importer
	trainer    *indexer.Trainer
	models     *ollama.Client
	hub        *progress.Hub
	embedModel string
	dataDir    string

	sem *semaphore.Weighted

	mu      sync.Mutex
	cancels map[string]*atomic.Bool
}

// New builds a Controller with workerPoolSize concurrent job slots. hub
// may be nil, in which case job-status updates are persisted but not
// pushed to any progress-stream subscribers.
func New(jobs *jobstore.Store, importer *indexer.Importer, trainer *indexer.Trainer, models *ollama.Client, hub *progress.Hub, embedModel, dataDir string, workerPoolSize int) *Controller {
	if workerPoolSize < 1 {
		workerPoolSize = 1
	}
	return &Controller{
		jobs:       jobs,
		importer:   importer,
		trainer:    trainer,
		models:     models,
		hub:        hub,
		embedModel: embedModel,
		dataDir:    dataDir,
		sem:        semaphore.NewWeighted(int64(workerPoolSize)),
		cancels:    make(map[string]*atomic.Bool),
	}
}

// advance wraps jobstore.Advance, publishing the resulting job snapshot
// to any progress-stream subscribers so pollers and the push channel stay
// in lock-step.
func (c *Controller) advance(ctx context.Context, jobID string, status slackmodel.JobStatus, line string, percent int) error {
	if err := c.jobs.Advance(ctx, jobID, status, line, percent); err != nil {
		return err
	}
	c.publish(ctx, jobID)
	return nil
}

func (c *Controller) publish(ctx context.Context, jobID string) {
	if c.hub == nil {
		return
	}
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		log.Printf("pipeline: fetch job %s for progress publish: %v", jobID, err)
		return
	}
	c.hub.Publish(progress.FromJob(*job))
}

// cancelFlag returns the registry entry for jobID, creating it if absent.
func (c *Controller) cancelFlag(jobID string) *atomic.Bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	flag, ok := c.cancels[jobID]
	if !ok {
		flag = &atomic.Bool{}
		c.cancels[jobID] = flag
	}
	return flag
}

// Cancel requests cooperative cancellation of a running job. The request
// is observed at the next cancel checkpoint inside the active stage.
func (c *Controller) Cancel(jobID string) {
	c.cancelFlag(jobID).Store(true)
}

// Start launches a job's run in a background goroutine, acquiring a
// worker slot first; Start blocks until a slot is free or ctx is done.
// Per spec.md §4.6, `start` from UPLOADED/ERROR/CANCELLED goes to
// EXTRACTING, or to IMPORTING when extract_path is already populated
// (resume, skipping re-extraction).
func (c *Controller) Start(ctx context.Context, jobID string) error {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker slot for job %s: %w", jobID, err)
	}

	flag := c.cancelFlag(jobID)
	flag.Store(false)

	go func() {
		defer c.sem.Release(1)
		runCtx := context.Background()
		c.run(runCtx, job, flag)
	}()

	return nil
}

func (c *Controller) run(ctx context.Context, job *slackmodel.Job, cancelled *atomic.Bool) {
	cancel := cancelled.Load

	extractPath := job.ExtractPath
	if extractPath == "" {
		root, err := c.runExtraction(ctx, job.ID, job.ArchivePath, cancel)
		if err != nil {
			c.fail(ctx, job.ID, err)
			return
		}
		extractPath = root
	} else {
		if err := c.advance(ctx, job.ID, slackmodel.JobImporting, "Resuming from extracted tree", 0); err != nil {
			c.fail(ctx, job.ID, err)
			return
		}
	}

	if err := c.runImport(ctx, job.ID, extractPath, cancel); err != nil {
		c.fail(ctx, job.ID, err)
		return
	}

	if err := c.ensureModelReady(ctx); err != nil {
		c.fail(ctx, job.ID, err)
		return
	}

	if err := c.runTraining(ctx, job.ID, cancel); err != nil {
		c.fail(ctx, job.ID, err)
		return
	}
}

func (c *Controller) fail(ctx context.Context, jobID string, err error) {
	if extractor.IsCancelled(err) || indexer.IsCancelled(err) {
		if recErr := c.jobs.RecordCancel(ctx, jobID); recErr != nil {
			fmt.Fprintf(os.Stderr, "pipeline: record cancel for job %s: %v\n", jobID, recErr)
		}
		c.publish(ctx, jobID)
		return
	}
	if recErr := c.jobs.RecordError(ctx, jobID, err.Error()); recErr != nil {
		fmt.Fprintf(os.Stderr, "pipeline: record error for job %s: %v\n", jobID, recErr)
	}
	c.publish(ctx, jobID)
}

func (c *Controller) runExtraction(ctx context.Context, jobID, archivePath string, cancel func() bool) (string, error) {
	if err := c.advance(ctx, jobID, slackmodel.JobExtracting, "Extracting archive", 0); err != nil {
		return "", err
	}

	reportProgress := func(done, total, percent int) {
		line := fmt.Sprintf("Extracting files... %d/%d", done, total)
		if advErr := c.advance(ctx, jobID, slackmodel.JobExtracting, line, percent); advErr != nil {
			fmt.Fprintf(os.Stderr, "pipeline: report extraction progress for job %s: %v\n", jobID, advErr)
		}
	}

	root, err := extractor.Extract(archivePath, c.dataDir, jobID, reportProgress, cancel)
	if err != nil {
		return "", err
	}

	if err := c.jobs.SetExtractPath(ctx, jobID, root); err != nil {
		return "", err
	}
	if err := c.advance(ctx, jobID, slackmodel.JobExtracted, "Extraction complete", 100); err != nil {
		return "", err
	}
	if err := c.advance(ctx, jobID, slackmodel.JobImporting, "Starting import", 0); err != nil {
		return "", err
	}
	return root, nil
}

func (c *Controller) runImport(ctx context.Context, jobID, extractRoot string, cancel func() bool) error {
	files, err := discoverExportFiles(extractRoot)
	if err != nil {
		return fmt.Errorf("discover export files: %w", err)
	}

	reportProgress := func(line string, percent int) {
		if advErr := c.advance(ctx, jobID, slackmodel.JobImporting, line, percent); advErr != nil {
			fmt.Fprintf(os.Stderr, "pipeline: report import progress for job %s: %v\n", jobID, advErr)
		}
	}

	for _, path := range files {
		if cancel() {
			return indexer.Cancelled()
		}

		f, err := os.Open(path)
		if err != nil {
			if recErr := c.importer.RecordFailedImports(ctx, jobID, []slackmodel.FailedImport{{
				FilePath: path, LineNumber: -1, Description: err.Error(),
			}}); recErr != nil {
				fmt.Fprintf(os.Stderr, "pipeline: record failed import for %s: %v\n", path, recErr)
			}
			continue
		}

		var conv *slackmodel.Conversation
		var messages []slackmodel.Message
		var failed []slackmodel.FailedImport

		parseErr := slackexport.ParseFile(f, path, slackexport.Callbacks{
			OnConversation: func(c slackmodel.Conversation) { cc := c; conv = &cc },
			OnMessage:      func(m slackmodel.Message) { messages = append(messages, m) },
			OnFailedImport: func(fi slackmodel.FailedImport) { failed = append(failed, fi) },
		})
		f.Close()
		if parseErr != nil {
			failed = append(failed, slackmodel.FailedImport{FilePath: path, LineNumber: -1, Description: parseErr.Error()})
		}

		if len(failed) > 0 {
			if err := c.importer.RecordFailedImports(ctx, jobID, failed); err != nil {
				return fmt.Errorf("record failed imports for %s: %w", path, err)
			}
		}

		if conv == nil && len(messages) == 0 {
			continue
		}

		if _, err := c.importer.Import(ctx, jobID, conv, messages, reportProgress, cancel); err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
	}

	if err := c.advance(ctx, jobID, slackmodel.JobImported, "Import complete", 100); err != nil {
		return err
	}
	return c.advance(ctx, jobID, slackmodel.JobTraining, "Starting training", 0)
}

func (c *Controller) ensureModelReady(ctx context.Context) error {
	if c.models == nil {
		return nil
	}
	if err := c.models.Ping(ctx); err != nil {
		return fmt.Errorf("ping embedding server: %w", err)
	}
	has, err := c.models.HasModel(ctx, c.embedModel)
	if err != nil {
		return fmt.Errorf("check embedding model availability: %w", err)
	}
	if has {
		return nil
	}
	if err := c.models.PullModel(ctx, c.embedModel); err != nil {
		return fmt.Errorf("pull embedding model %s: %w", c.embedModel, err)
	}
	return nil
}

func (c *Controller) runTraining(ctx context.Context, jobID string, cancel func() bool) error {
	reportProgress := func(line string, percent int) {
		if advErr := c.advance(ctx, jobID, slackmodel.JobTraining, line, percent); advErr != nil {
			fmt.Fprintf(os.Stderr, "pipeline: report training progress for job %s: %v\n", jobID, advErr)
		}
	}

	stats, fails, err := c.trainer.Train(ctx, jobID, reportProgress, cancel)
	if err != nil {
		return err
	}
	if len(fails) > 0 {
		if err := c.importer.RecordFailedImports(ctx, jobID, fails); err != nil {
			return fmt.Errorf("record training failures: %w", err)
		}
	}

	line := fmt.Sprintf("Training complete: %d vectors written, %d batches failed", stats.VectorsWritten, stats.BatchesFailed)
	return c.advance(ctx, jobID, slackmodel.JobComplete, line, 100)
}

// discoverExportFiles walks the extract root for channel/DM transcript
// files, skipping huddle_transcripts/lists and attachment blobs per
// spec.md §4.3's tree layout, in a deterministic (sorted) order.
func discoverExportFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			base := filepath.Base(path)
			if base == "huddle_transcripts" || base == "lists" || base == "files" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, exportFileSuffix) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
