// Package jobstore is the single source of truth for ingestion job
// lifecycle, backed by the document store's "uploads" collection. Every
// pipeline transition is a write here; the HTTP layer reads through it.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/google/uuid"

	"github.com/connect-llm/slackcorpus/pkg/slackmodel"
)

const collUploads = "uploads"

// ErrInvalidTransition is returned by Advance when the requested status
// change is not permitted from the job's current status.
var ErrInvalidTransition = errors.New("invalid job transition")

// ErrNotFound is returned when a job id has no matching record.
var ErrNotFound = errors.New("job not found")

// transitions encodes the table in spec.md §4.6: which statuses may move
// to which other statuses via Advance. Side transitions (ERROR,
// CANCELLED) go through RecordError/RecordCancel instead, since those are
// permitted from any active stage.
var transitions = map[slackmodel.JobStatus][]slackmodel.JobStatus{
	slackmodel.JobUploading:  {slackmodel.JobUploaded},
	slackmodel.JobUploaded:   {slackmodel.JobExtracting, slackmodel.JobImporting},
	slackmodel.JobExtracting: {slackmodel.JobExtracted},
	slackmodel.JobExtracted:  {slackmodel.JobImporting},
	slackmodel.JobImporting:  {slackmodel.JobImported},
	slackmodel.JobImported:   {slackmodel.JobTraining},
	slackmodel.JobTraining:   {slackmodel.JobComplete},
	slackmodel.JobError:      {slackmodel.JobExtracting, slackmodel.JobImporting},
	slackmodel.JobCancelled:  {slackmodel.JobExtracting, slackmodel.JobImporting},
}

// isPermitted allows the transitions table's moves plus same-status
// updates: a stage reports its own progress by re-advancing into the
// status it is already in (spec.md §4.2/§4.4), which the table alone
// does not encode since it has no self-loops.
func isPermitted(from, to slackmodel.JobStatus) bool {
	if from == to {
		return true
	}
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Store manages Job records. Writes to the same job id are serialised
// through a per-job mutex so concurrent status transitions on one job
// can't race each other.
type Store struct {
	coll *mongo.Collection

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
}

// New builds a Store over the uploads collection of db.
func New(db *mongo.Database) *Store {
	return &Store{
		coll:  db.Collection(collUploads),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[jobID] = lock
	}
	return lock
}

// NewJobID allocates a job id up front, so a caller that needs the id to
// name the staged archive file (spec's `<job_id>_<filename>` convention)
// can do so before the record exists.
func NewJobID() string {
	return uuid.NewString()
}

// Create inserts a new job in UPLOADING under jobID (from NewJobID) and
// returns it for convenience.
func (s *Store) Create(ctx context.Context, jobID, filename string, size int64, archivePath string) (string, error) {
	now := time.Now().UTC()
	job := slackmodel.Job{
		ID:          jobID,
		Filename:    filename,
		SizeBytes:   size,
		ArchivePath: archivePath,
		Status:      slackmodel.JobUploading,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.coll.InsertOne(ctx, job); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return jobID, nil
}

// MarkUploaded transitions a freshly-created job from UPLOADING to
// UPLOADED once the archive bytes have landed on disk.
func (s *Store) MarkUploaded(ctx context.Context, jobID string) error {
	return s.Advance(ctx, jobID, slackmodel.JobUploaded, "Upload complete", 100)
}

// Advance performs an atomic, transition-guarded status update, clamping
// stageProgress to [0, 100] and bumping updated_at. Returns
// ErrInvalidTransition if the move is not permitted from the job's
// current status.
func (s *Store) Advance(ctx context.Context, jobID string, newStatus slackmodel.JobStatus, progressLine string, stageProgress int) error {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}

	if !isPermitted(job.Status, newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, newStatus)
	}

	if stageProgress < 0 {
		stageProgress = 0
	}
	if stageProgress > 100 {
		stageProgress = 100
	}

	update := bson.M{
		"status":           newStatus,
		"current_stage":    stageOf(newStatus),
		"stage_progress":   stageProgress,
		"progress":         progressLine,
		"progress_percent": overallPercent(newStatus, stageProgress),
		"updated_at":       time.Now().UTC(),
	}
	if newStatus == slackmodel.JobExtracted {
		// extract_path is set separately via SetExtractPath once the
		// extractor knows the resolved root; Advance never clears it.
	}

	_, err = s.coll.UpdateByID(ctx, jobID, bson.M{"$set": update})
	if err != nil {
		return fmt.Errorf("advance job %s to %s: %w", jobID, newStatus, err)
	}
	return nil
}

// SetExtractPath records the resolved extraction root once known.
func (s *Store) SetExtractPath(ctx context.Context, jobID, extractPath string) error {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.coll.UpdateByID(ctx, jobID, bson.M{"$set": bson.M{
		"extract_path": extractPath,
		"updated_at":   time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("set extract_path for job %s: %w", jobID, err)
	}
	return nil
}

// RecordError moves a job to ERROR, preserving extract_path, and is
// permitted from any active stage.
func (s *Store) RecordError(ctx context.Context, jobID, message string) error {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.coll.UpdateByID(ctx, jobID, bson.M{"$set": bson.M{
		"status":     slackmodel.JobError,
		"error":      message,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("record error for job %s: %w", jobID, err)
	}
	return nil
}

// RecordCancel moves a job to CANCELLED, preserving extract_path, and is
// permitted from any active stage.
func (s *Store) RecordCancel(ctx context.Context, jobID string) error {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.coll.UpdateByID(ctx, jobID, bson.M{"$set": bson.M{
		"status":     slackmodel.JobCancelled,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("record cancel for job %s: %w", jobID, err)
	}
	return nil
}

// Get fetches a job by id.
func (s *Store) Get(ctx context.Context, jobID string) (*slackmodel.Job, error) {
	return s.get(ctx, jobID)
}

func (s *Store) get(ctx context.Context, jobID string) (*slackmodel.Job, error) {
	var job slackmodel.Job
	err := s.coll.FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return &job, nil
}

// List returns every job, most recently created first.
func (s *Store) List(ctx context.Context) ([]slackmodel.Job, error) {
	cursor, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []slackmodel.Job
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return jobs, nil
}

// ClearAll truncates the uploads collection, used by the admin clear-all
// operation. Staged archive/extract files on disk are the caller's
// responsibility to remove alongside this.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("clear uploads: %w", err)
	}
	return nil
}

func stageOf(status slackmodel.JobStatus) slackmodel.Stage {
	switch status {
	case slackmodel.JobExtracting:
		return slackmodel.StageExtracting
	case slackmodel.JobImporting:
		return slackmodel.StageImporting
	case slackmodel.JobTraining:
		return slackmodel.StageTraining
	default:
		return slackmodel.StageNone
	}
}

// overallPercent maps a stage and its own 0-100 progress onto the job's
// overall 0-100 percent, with extraction/import/training each weighted a
// third, so progress_percent is monotone across stages up to COMPLETE.
func overallPercent(status slackmodel.JobStatus, stageProgress int) int {
	switch status {
	case slackmodel.JobUploading, slackmodel.JobUploaded:
		return 0
	case slackmodel.JobExtracting:
		return stageProgress / 3
	case slackmodel.JobExtracted:
		return 33
	case slackmodel.JobImporting:
		return 33 + stageProgress/3
	case slackmodel.JobImported:
		return 66
	case slackmodel.JobTraining:
		return 66 + stageProgress/3
	case slackmodel.JobComplete:
		return 100
	default:
		return stageProgress
	}
}
