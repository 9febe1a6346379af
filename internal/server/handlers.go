package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/browser"
	"github.com/copyleftdev/postscry/internal/content"
	"github.com/copyleftdev/postscry/internal/tasks"
	"github.com/copyleftdev/postscry/internal/taskstypes"
)

const maxBodyBytes = 1 << 20

type APIHandler struct {
	taskManager *tasks.Manager
	sessions    *browser.Manager
	batchMax    int
	logger      *zap.Logger
}

func NewAPIHandler(tm *tasks.Manager, sessions *browser.Manager, batchMax int, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		taskManager: tm,
		sessions:    sessions,
		batchMax:    batchMax,
		logger:      logger,
	}
}

// SubmitTaskRequest is the body of POST /api/v1/tasks.
type SubmitTaskRequest = taskstypes.Params

type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
}

type BatchResponse struct {
	TaskIDs []string       `json:"task_ids"`
	Skipped []SkippedEntry `json:"skipped,omitempty"`
}

// SkippedEntry reports a batch entry that produced no task.
type SkippedEntry struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type PreviewEntry struct {
	Index   int                 `json:"index"`
	Preview *taskstypes.Preview `json:"preview,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (h *APIHandler) HandleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	id, err := h.taskManager.Submit(req)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, SubmitTaskResponse{TaskID: id.String()})
}

// HandleSubmitJSON accepts one entry in the content feed format.
func (h *APIHandler) HandleSubmitJSON(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.readEntries(w, r)
	if !ok {
		return
	}
	if len(entries) != 1 {
		h.respondError(w, http.StatusBadRequest, "expected a single entry, got %d; use /api/v1/tasks/batch", len(entries))
		return
	}

	params := tasks.FromEntry(entries[0])
	params.CallbackURL = r.URL.Query().Get("callback_url")
	id, err := h.taskManager.Submit(params)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, SubmitTaskResponse{TaskID: id.String()})
}

// HandleSubmitBatch creates one task per entry. Entries that fail
// validation are skipped and reported; the rest still run, one at a time
// on the shared session.
func (h *APIHandler) HandleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.readEntries(w, r)
	if !ok {
		return
	}
	if h.batchMax > 0 && len(entries) > h.batchMax {
		h.respondError(w, http.StatusBadRequest, "batch has %d entries, the limit is %d", len(entries), h.batchMax)
		return
	}

	callback := r.URL.Query().Get("callback_url")
	resp := BatchResponse{TaskIDs: []string{}}
	for i, e := range entries {
		if strings.TrimSpace(e.Content) == "" {
			resp.Skipped = append(resp.Skipped, SkippedEntry{Index: i, Reason: "content is required"})
			continue
		}
		params := tasks.FromEntry(e)
		params.CallbackURL = callback
		id, err := h.taskManager.Submit(params)
		if err != nil {
			if errors.Is(err, tasks.ErrClosed) {
				h.respondAppError(w, err)
				return
			}
			resp.Skipped = append(resp.Skipped, SkippedEntry{Index: i, Reason: err.Error()})
			continue
		}
		resp.TaskIDs = append(resp.TaskIDs, id.String())
	}

	status := http.StatusAccepted
	if len(resp.TaskIDs) == 0 {
		status = http.StatusBadRequest
	}
	h.logger.Info("Batch submitted", zap.Int("created", len(resp.TaskIDs)), zap.Int("skipped", len(resp.Skipped)))
	h.respondJSON(w, status, resp)
}

func (h *APIHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.readEntries(w, r)
	if !ok {
		return
	}
	out := make([]PreviewEntry, 0, len(entries))
	for i, e := range entries {
		p, err := h.taskManager.Preview(tasks.FromEntry(e))
		entry := PreviewEntry{Index: i, Preview: p}
		if err != nil {
			entry.Error = err.Error()
		}
		out = append(out, entry)
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"previews": out})
}

func (h *APIHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	list := h.taskManager.List()
	if list == nil {
		list = []taskstypes.StatusView{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"tasks": list})
}

func (h *APIHandler) HandleGetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	view, err := h.taskManager.Status(taskID)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

func (h *APIHandler) HandleGetTaskResult(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	view, err := h.taskManager.Result(taskID)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

func (h *APIHandler) HandleSessionInfo(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.sessions.Info())
}

// HandleEnsureSession starts the browser and loads credentials without
// publishing anything.
func (h *APIHandler) HandleEnsureSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.EnsureReady(r.Context()); err != nil {
		h.respondAppError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.sessions.Info())
}

func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": h.taskManager.Running(),
		"session": h.sessions.Info(),
	})
}

// --- Helper Functions ---

func (h *APIHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	taskIDStr := chi.URLParam(r, "taskID")
	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid task ID format: %v", err)
		return uuid.Nil, false
	}
	return taskID, true
}

func (h *APIHandler) readEntries(w http.ResponseWriter, r *http.Request) ([]*content.Entry, bool) {
	defer r.Body.Close()
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return nil, false
	}
	entries, err := content.ParseEntries(raw)
	if err != nil {
		h.respondAppError(w, err)
		return nil, false
	}
	return entries, true
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, tasks.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindInvalidInputFormat:
		return http.StatusBadRequest
	case apperr.KindNotFound, apperr.KindMediaNotFound:
		return http.StatusNotFound
	case apperr.KindNotReady, apperr.KindSessionBusy:
		return http.StatusConflict
	case apperr.KindSessionInit, apperr.KindCredential:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) respondAppError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(apperr.KindOf(err)),
	})
}

func (h *APIHandler) respondJSON(w http.ResponseWriter, status int, payload any) {
	if err := writeJSON(w, status, payload); err != nil {
		h.logger.Warn("Error writing JSON response", zap.Error(err))
	}
}

func (h *APIHandler) respondError(w http.ResponseWriter, status int, format string, args ...any) {
	writeError(w, status, fmt.Sprintf(format, args...))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	_ = writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal response"}`))
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, err = w.Write(response)
	return err
}
