// Package indexer persists export-parser output into the document store
// (import phase) and, in a subsequent phase, generates embeddings and
// writes them to the vector store (training phase). Both phases share
// a batch-then-accumulate pattern: process a bounded slice of records,
// fold the outcome into a running stats struct, repeat until exhausted.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/connect-llm/slackcorpus/pkg/chroma"
	"github.com/connect-llm/slackcorpus/pkg/docstore"
	"github.com/connect-llm/slackcorpus/pkg/embeddings"
	"github.com/connect-llm/slackcorpus/pkg/slackmodel"
)

// emptyTextPlaceholder stands in for join messages and file shares with
// no attached text, which the export parser produces with an empty Text
// field (see
// slackexport.matchBody). Embedding an empty string fails the whole
// batch it's in; embedding this placeholder instead keeps every message
// in lock-step with a vector record without dropping its batch-mates.
const emptyTextPlaceholder = "[no message text]"

// ImportStats accumulates counts across an import-phase run. It carries
// no mutex: the caller owns serialization, since the pipeline controller
// runs one worker per job at a time.
type ImportStats struct {
	ConversationsUpserted int
	MessagesUpserted      int
	UsersUpserted         int
	FailedImports         int
}

// CancelFunc reports whether the owning job has been asked to cancel.
type CancelFunc func() bool

// ProgressFunc receives a human-readable progress line and percent after
// each batch.
type ProgressFunc func(line string, percent int)

// Importer runs the import phase: conversations/messages/users/
// failed-imports into the document store.
type Importer struct {
	store     *docstore.Store
	batchSize int
}

// NewImporter builds an Importer writing through store in batches of
// batchSize messages.
func NewImporter(store *docstore.Store, batchSize int) *Importer {
	return &Importer{store: store, batchSize: batchSize}
}

// Import persists a single conversation's parsed messages. The caller is
// responsible for invoking Import once per parsed file; Import writes the
// messages in batches of batchSize and reports progress after each batch.
func (imp *Importer) Import(ctx context.Context, jobID string, conv *slackmodel.Conversation, messages []slackmodel.Message, progress ProgressFunc, cancel CancelFunc) (ImportStats, error) {
	var stats ImportStats

	if err := imp.store.EnsureIndexes(ctx); err != nil {
		return stats, fmt.Errorf("ensure indexes: %w", err)
	}

	if conv != nil {
		if err := imp.store.UpsertConversation(ctx, *conv); err != nil {
			return stats, fmt.Errorf("upsert conversation %s: %w", conv.ID, err)
		}
		stats.ConversationsUpserted++
	}

	total := len(messages)
	for start := 0; start < total; start += imp.batchSize {
		if cancel != nil && cancel() {
			return stats, errCancelled
		}

		end := start + imp.batchSize
		if end > total {
			end = total
		}
		batch := messages[start:end]

		inserted, err := imp.store.UpsertMessages(ctx, batch)
		if err != nil {
			return stats, fmt.Errorf("upsert message batch [%d:%d]: %w", start, end, err)
		}
		stats.MessagesUpserted += inserted

		for _, m := range batch {
			if m.User == "" {
				continue
			}
			if err := imp.store.UpsertUser(ctx, m.User, m.ConversationID, m.TS); err != nil {
				log.Printf("upsert user %s for conversation %s: %v", m.User, m.ConversationID, err)
				continue
			}
			stats.UsersUpserted++
		}

		if progress != nil {
			progress(fmt.Sprintf("Imported %d of %d messages", end, total), percentOf(end, total))
		}
	}

	return stats, nil
}

// RecordFailedImports writes failed-import rows without halting the job.
func (imp *Importer) RecordFailedImports(ctx context.Context, jobID string, fails []slackmodel.FailedImport) error {
	for i := range fails {
		fails[i].JobID = jobID
		fails[i].CapturedAt = time.Now().UTC()
		if fails[i].LineNumber == 0 {
			fails[i].LineNumber = -1
		}
		if fails[i].ID == "" {
			fails[i].ID = uuid.NewString()
		}
		if err := imp.store.InsertFailedImport(ctx, fails[i]); err != nil {
			return fmt.Errorf("record failed import %d of %d: %w", i+1, len(fails), err)
		}
	}
	return nil
}

// errCancelled signals cooperative cancellation mid-phase.
var errCancelled = fmt.Errorf("indexing cancelled")

// IsCancelled reports whether err represents a cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, errCancelled)
}

// Cancelled returns the sentinel IsCancelled recognises, for callers
// outside this package (the pipeline controller) that detect a
// cancellation request between phases rather than inside Import/Train.
func Cancelled() error {
	return errCancelled
}

// TrainStats accumulates counts across a training-phase run.
type TrainStats struct {
	VectorsWritten int
	BatchesFailed  int
}

// Trainer runs the training phase: stream messages in deterministic
// order, embed, and upsert into the vector store.
type Trainer struct {
	store     *docstore.Store
	embedder  *embeddings.Embedder
	vectors   *chroma.Client
	batchSize int

	mu  sync.Mutex
	dim int
}

// NewTrainer builds a Trainer over store/embedder/vectors with the given
// batch size.
func NewTrainer(store *docstore.Store, embedder *embeddings.Embedder, vectors *chroma.Client, batchSize int) *Trainer {
	return &Trainer{store: store, embedder: embedder, vectors: vectors, batchSize: batchSize}
}

// Train streams every message through the embedding endpoint and writes
// vectors to the vector store, retrying transient embedding failures with
// exponential backoff and recording permanent per-batch failures as
// FailedImport rows rather than halting the job.
func (tr *Trainer) Train(ctx context.Context, jobID string, progress ProgressFunc, cancel CancelFunc) (TrainStats, []slackmodel.FailedImport, error) {
	var stats TrainStats
	var fails []slackmodel.FailedImport

	total, err := tr.store.CountMessages(ctx)
	if err != nil {
		return stats, fails, fmt.Errorf("count messages: %w", err)
	}

	var done int64
	err = tr.store.StreamMessages(ctx, tr.batchSize, func(batch []slackmodel.Message) error {
		if cancel != nil && cancel() {
			return errCancelled
		}

		if err := tr.trainBatch(ctx, batch); err != nil {
			log.Printf("job %s: permanent failure embedding batch starting at %s: %v", jobID, batch[0].ConversationID, err)
			fails = append(fails, slackmodel.FailedImport{
				FilePath:    batch[0].ConversationID,
				LineNumber:  -1,
				Description: fmt.Sprintf("embedding batch failed: %v", err),
			})
			stats.BatchesFailed++
		} else {
			stats.VectorsWritten += len(batch)
		}

		done += int64(len(batch))
		if progress != nil {
			progress(fmt.Sprintf("Trained %d of %d messages", done, total), percentOf(int(done), int(total)))
		}
		return nil
	})
	if err != nil {
		return stats, fails, err
	}

	return stats, fails, nil
}

func (tr *Trainer) trainBatch(ctx context.Context, batch []slackmodel.Message) error {
	texts := make([]string, len(batch))
	for i, m := range batch {
		if m.Text == "" {
			texts[i] = emptyTextPlaceholder
			continue
		}
		texts[i] = m.Text
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 16 * time.Second

	vectors, err := backoff.Retry(ctx, func() ([][]float32, error) {
		return tr.embedder.EmbedBatch(ctx, texts)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(5)))
	if err != nil {
		return fmt.Errorf("embed batch after retries: %w", err)
	}

	for _, v := range vectors {
		if err := tr.checkDimension(len(v)); err != nil {
			return err
		}
	}

	records := make([]chroma.Record, len(batch))
	for i, m := range batch {
		records[i] = chroma.Record{
			ID:        messageID(m),
			Embedding: vectors[i],
			Metadata: chroma.Metadata{
				ConversationID: m.ConversationID,
				Username:       m.User,
				TS:             m.TS.Format(time.RFC3339),
				Snippet:        m.Text,
			},
		}
	}

	if err := tr.vectors.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	return nil
}

// checkDimension asserts the embedding endpoint returns a stable vector
// dimension across every batch in a training run. A change mid-job means
// the endpoint swapped models underneath the job; records already
// written would no longer compare against records still to come, so
// this fails the batch rather than writing inconsistent vectors.
func (tr *Trainer) checkDimension(n int) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.dim == 0 {
		tr.dim = n
		return nil
	}
	if tr.dim != n {
		return fmt.Errorf("embedding dimension changed mid-job: got %d, expected %d", n, tr.dim)
	}
	return nil
}

// messageID derives the vector store's key from a message's identity
// (conversation id, ts, ingestion ordinal), the same triple the search
// engine's candidateKey builds, so a message's lexical and vector
// candidates share one key.
func messageID(m slackmodel.Message) string {
	return fmt.Sprintf("%s|%s|%d", m.ConversationID, m.TS.Format(time.RFC3339Nano), m.Ordinal)
}

func percentOf(done, total int) int {
	if total <= 0 {
		return 100
	}
	percent := done * 100 / total
	if percent > 100 {
		percent = 100
	}
	return percent
}
