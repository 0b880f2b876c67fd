package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statichq/pages/internal/build"
	"github.com/statichq/pages/internal/buildtask"
	"github.com/statichq/pages/internal/queue"
	"github.com/statichq/pages/internal/site"
	"github.com/statichq/pages/internal/webhook"
)

type Handler struct {
	sites      *site.Store
	tasks      *buildtask.Store
	dispatcher *build.Dispatcher
	completer  *build.Completer
	webhook    *webhook.Handler
	broker     *queue.Client
	logger     *slog.Logger
}

func NewHandler(db *pgxpool.Pool, mq *queue.Client, conf *config, logger *slog.Logger) *Handler {
	sites := &site.Store{DB: db}
	tasks := &buildtask.Store{DB: db}
	database := build.NewPostgresDatabase(db)
	dispatcher := build.NewDispatcher(database, mq)
	scheduler := &buildtask.Scheduler{
		Database:     tasks,
		Broker:       mq,
		CallbackBase: conf.CallbackBase,
		PublicBase:   conf.PublicBase,
	}

	return &Handler{
		sites:      sites,
		tasks:      tasks,
		dispatcher: dispatcher,
		completer:  build.NewCompleter(database, scheduler),
		webhook: &webhook.Handler{
			Secret:     []byte(conf.WebhookSecret),
			Sites:      sites,
			Dispatcher: dispatcher,
			Logger:     logger,
		},
		broker: mq,
		logger: logger,
	}
}

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	h.webhook.ServeHTTP(w, r)
}

// BuildStatus records the engine runner's completion callback. The
// token in the path is the build's sole credential.
func (h *Handler) BuildStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid build id", http.StatusNotFound)
		return
	}
	token := r.PathValue("token")

	var body struct {
		Message string `json:"message"`
	}
	if err = json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	b, err := h.completer.Complete(r.Context(), &build.CompleteParams{
		ID:      id,
		Token:   token,
		Message: body.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, build.ErrNotFound):
			http.Error(w, "build not found", http.StatusNotFound)
		case errors.Is(err, build.ErrTokenMismatch):
			http.Error(w, "forbidden", http.StatusForbidden)
		case errors.Is(err, build.ErrInvalidMessage):
			http.Error(w, "invalid message", http.StatusBadRequest)
		default:
			h.logger.Error("failed to complete build", "error", err, "build_id", id)
			http.Error(w, "", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"build_id": b.ID.String(),
		"state":    string(b.State),
	})
}

// TaskStatus records a build task runner's callback. Replays of an
// already recorded status are accepted without a second mutation.
func (h *Handler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusNotFound)
		return
	}

	var body struct {
		Artifact string `json:"artifact"`
		Status   string `json:"status"`
	}
	if err = json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	status, known := buildtask.ParseStatus(body.Status)
	if !known || !status.Terminal() {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	var artifact *string
	if body.Artifact != "" {
		artifact = &body.Artifact
	}

	task, err := h.tasks.CompleteTask(r.Context(), id, status, artifact)
	if err != nil {
		switch {
		case errors.Is(err, buildtask.ErrNotFound):
			http.Error(w, "task not found", http.StatusNotFound)
		case errors.Is(err, buildtask.ErrAlreadyDone):
			// Replayed callback.
			task, err = h.tasks.GetTask(r.Context(), id)
			if err != nil {
				h.logger.Error("failed to get task", "error", err, "task_id", id)
				http.Error(w, "", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{
				"task_id": task.ID.String(),
				"status":  string(task.Status),
			})
		case errors.Is(err, buildtask.ErrArtifactMissing):
			http.Error(w, "artifact required", http.StatusBadRequest)
		default:
			h.logger.Error("failed to complete task", "error", err, "task_id", id)
			http.Error(w, "", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"task_id": task.ID.String(),
		"status":  string(task.Status),
	})
}

// CreateBuild starts a build manually, outside the webhook flow.
func (h *Handler) CreateBuild(w http.ResponseWriter, r *http.Request) {
	siteID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid site id", http.StatusNotFound)
		return
	}

	var body struct {
		Username string `json:"username"`
		Branch   string `json:"branch"`
	}
	if err = json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	st, err := h.sites.GetSite(r.Context(), siteID)
	if err != nil {
		if errors.Is(err, site.ErrNotFound) {
			http.Error(w, "site not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get site", "error", err, "site_id", siteID)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	u, err := h.sites.FindOrCreateUser(r.Context(), body.Username)
	if err != nil {
		h.logger.Error("failed to resolve user", "error", err, "username", body.Username)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	branch := body.Branch
	if branch == "" {
		branch = st.DefaultBranch
	}

	b, err := h.dispatcher.Start(r.Context(), &build.StartParams{Site: st, User: u, Branch: branch})
	if err != nil {
		h.logger.Error("failed to start build", "error", err, "site_id", siteID)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"build_id": b.ID.String(),
		"state":    string(b.State),
		"branch":   b.Branch,
	})
}

// ResubmitBuild creates a fresh build from a finished one and enqueues
// it onto the bulk queue.
func (h *Handler) ResubmitBuild(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid build id", http.StatusNotFound)
		return
	}

	b, err := h.dispatcher.Resubmit(r.Context(), id)
	if err != nil {
		if errors.Is(err, build.ErrNotFound) {
			http.Error(w, "build not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to resubmit build", "error", err, "build_id", id)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"build_id": b.ID.String(),
		"state":    string(b.State),
	})
}

// DeleteSite schedules removal of a site's published output and row.
// The deletion itself happens asynchronously on the site-deletion
// queue.
func (h *Handler) DeleteSite(w http.ResponseWriter, r *http.Request) {
	siteID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid site id", http.StatusNotFound)
		return
	}

	st, err := h.sites.GetSite(r.Context(), siteID)
	if err != nil {
		if errors.Is(err, site.ErrNotFound) {
			http.Error(w, "site not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get site", "error", err, "site_id", siteID)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	if err = site.EnqueueDeletion(r.Context(), h.broker, st); err != nil {
		h.logger.Error("failed to enqueue site deletion", "error", err, "site_id", siteID)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// ProvisionDomain schedules custom domain provisioning. The consumer is
// the external domain service; the queue's start delay covers DNS
// propagation.
func (h *Handler) ProvisionDomain(w http.ResponseWriter, r *http.Request) {
	siteID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid site id", http.StatusNotFound)
		return
	}

	var body struct {
		DomainName string `json:"domain_name"`
	}
	if err = json.NewDecoder(r.Body).Decode(&body); err != nil || body.DomainName == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if _, err = h.sites.GetSite(r.Context(), siteID); err != nil {
		if errors.Is(err, site.ErrNotFound) {
			http.Error(w, "site not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get site", "error", err, "site_id", siteID)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	if err = site.EnqueueDomainProvision(r.Context(), h.broker, siteID, body.DomainName); err != nil {
		h.logger.Error("failed to enqueue domain provisioning", "error", err, "site_id", siteID)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
