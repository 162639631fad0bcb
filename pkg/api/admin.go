package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/connect-llm/slackcorpus/pkg/jobstore"
	"github.com/connect-llm/slackcorpus/pkg/slackmodel"
)

// maxUploadMemory bounds the portion of a multipart upload buffered in
// memory before spilling to a temp file; the archive bytes themselves
// stream straight through to disk.
const maxUploadMemory = 32 << 20

// jobStatusView is the {status, progress, progress_percent, error}
// projection spec.md §6.2 specifies for both the list and single-job
// status endpoints.
type jobStatusView struct {
	Status          slackmodel.JobStatus `json:"status"`
	Progress        string               `json:"progress"`
	ProgressPercent int                  `json:"progress_percent"`
	Error           string               `json:"error,omitempty"`
}

func jobStatusViewFrom(job slackmodel.Job) jobStatusView {
	return jobStatusView{
		Status:          job.Status,
		Progress:        job.Progress,
		ProgressPercent: job.ProgressPercent,
		Error:           job.Error,
	}
}

func (s *Server) writeJobLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeError(w, http.StatusInternalServerError, fmt.Sprintf("look up job: %v", err))
}

// handleUpload streams a multipart-uploaded archive to
// <DATA_DIR>/uploads/<job_id>_<filename> and creates the Job in UPLOADED.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("archive")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing archive file: %v", err))
		return
	}
	defer file.Close()

	jobID := jobstore.NewJobID()
	archivePath := filepath.Join(s.cfg.Storage.DataDir, "uploads", fmt.Sprintf("%s_%s", jobID, header.Filename))

	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("stage upload directory: %v", err))
		return
	}

	dst, err := os.Create(archivePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("stage uploaded archive: %v", err))
		return
	}
	written, copyErr := io.Copy(dst, file)
	closeErr := dst.Close()
	if copyErr != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("write uploaded archive: %v", copyErr))
		return
	}
	if closeErr != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("finalize uploaded archive: %v", closeErr))
		return
	}

	ctx := r.Context()
	if _, err := s.jobs.Create(ctx, jobID, header.Filename, written, archivePath); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create job: %v", err))
		return
	}
	if err := s.jobs.MarkUploaded(ctx, jobID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("mark job uploaded: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"job_id": jobID})
}

// handleImportStatusAll returns every job's status keyed by job id.
func (s *Server) handleImportStatusAll(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list jobs: %v", err))
		return
	}
	out := make(map[string]jobStatusView, len(jobs))
	for _, job := range jobs {
		out[job.ID] = jobStatusViewFrom(job)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleJobStatus returns one job's status.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.writeJobLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobStatusViewFrom(*job))
}

// handleJobStream upgrades to a WebSocket streaming every status change
// for one job, the additive push channel alongside handleJobStatus.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, r.PathValue("job_id"))
}

// handleJobStart enqueues a pipeline run for a job, resuming from
// extract_path if one is already recorded.
func (s *Server) handleJobStart(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if err := s.pipeline.Start(r.Context(), jobID); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("start job: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "started"})
}

// handleJobRestart is equivalent to handleJobStart, per spec.md §6.2:
// starting a job from ERROR or CANCELLED follows the same resume-aware
// path the pipeline controller already handles.
func (s *Server) handleJobRestart(w http.ResponseWriter, r *http.Request) {
	s.handleJobStart(w, r)
}

// handleJobCancel sets the job's cancel flag; the pipeline controller
// observes it at the next checkpoint.
func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	s.pipeline.Cancel(jobID)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancel requested"})
}

// handleClearAll truncates the document store, vector store, and job
// store entirely.
func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.docs.ClearAll(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("clear document store: %v", err))
		return
	}
	if err := s.vectors.Truncate(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("clear vector store: %v", err))
		return
	}
	if err := s.jobs.ClearAll(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("clear job store: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// clearRequest names the selective targets handleClear truncates.
type clearRequest struct {
	Targets []string `json:"targets"`
}

// handleClear truncates one or more of "messages", "uploads",
// "embeddings". Clearing "messages" always clears the vector store in
// tandem, per spec.md §6.2's dual-write invariant.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ctx := r.Context()
	cleared := make([]string, 0, len(req.Targets))
	for _, target := range req.Targets {
		switch target {
		case "messages":
			if err := s.docs.Clear(ctx, "messages"); err != nil {
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("clear messages: %v", err))
				return
			}
			if err := s.vectors.Truncate(ctx); err != nil {
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("clear vectors alongside messages: %v", err))
				return
			}
		case "embeddings":
			if err := s.vectors.Truncate(ctx); err != nil {
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("clear embeddings: %v", err))
				return
			}
		case "uploads":
			if err := s.jobs.ClearAll(ctx); err != nil {
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("clear uploads: %v", err))
				return
			}
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown clear target %q", target))
			return
		}
		cleared = append(cleared, target)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": cleared})
}
