package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/statichq/pages/internal/build"
	"github.com/statichq/pages/internal/site"
)

// maxBodySize bounds a webhook payload. GitHub's documented maximum is
// about 25MB for push events with large commit histories.
const maxBodySize = 32 * 1024 * 1024

// Sites resolves the pushing user and the target site.
type Sites interface {
	FindOrCreateUser(ctx context.Context, username string) (*site.User, error)
	GetSiteByRepo(ctx context.Context, owner, repository string) (*site.Site, error)
}

// Dispatcher starts a build for a resolved push.
type Dispatcher interface {
	Start(ctx context.Context, params *build.StartParams) (*build.Build, error)
}

// pushEvent is the subset of a GitHub push payload the handler
// cares about.
type pushEvent struct {
	Ref     string `json:"ref"`
	Commits []struct {
		ID string `json:"id"`
	} `json:"commits"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Handler accepts GitHub push webhooks, verifies their HMAC-SHA1
// signature and starts a build for the pushed branch.
type Handler struct {
	Secret     []byte     // required
	Sites      Sites      // required
	Dispatcher Dispatcher // required

	Logger *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The signature covers the raw bytes, so read before decoding.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.logger().Error("failed to read webhook body", "error", err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	if err = verifySignature(h.Secret, body, r.Header.Get("X-Hub-Signature")); err != nil {
		h.logger().Warn("webhook signature rejected", "error", err, "remote_addr", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var event pushEvent
	if err = json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if len(event.Commits) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"message": "no build scheduled"})
		return
	}

	owner, repository, ok := strings.Cut(event.Repository.FullName, "/")
	if !ok || event.Sender.Login == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	u, err := h.Sites.FindOrCreateUser(ctx, event.Sender.Login)
	if err != nil {
		h.logger().Error("failed to resolve user", "error", err, "username", event.Sender.Login)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	st, err := h.Sites.GetSiteByRepo(ctx, owner, repository)
	if err != nil {
		if errors.Is(err, site.ErrNotFound) {
			http.Error(w, "unknown repository", http.StatusBadRequest)
			return
		}
		h.logger().Error("failed to resolve site", "error", err, "owner", owner, "repository", repository)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	branch := strings.TrimPrefix(event.Ref, "refs/heads/")

	b, err := h.Dispatcher.Start(ctx, &build.StartParams{Site: st, User: u, Branch: branch})
	if err != nil {
		h.logger().Error("failed to start build", "error", err, "site_id", st.ID, "branch", branch)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	h.logger().Info("scheduled build from push", "build_id", b.ID, "site_id", st.ID, "branch", branch)
	writeJSON(w, http.StatusOK, map[string]string{
		"build_id": b.ID.String(),
		"state":    string(b.State),
	})
}

// verifySignature checks a GitHub X-Hub-Signature header value against
// the HMAC-SHA1 of the raw body.
func verifySignature(secret, body []byte, header string) error {
	if header == "" {
		return errors.New("missing signature header")
	}

	mac := hmac.New(sha1.New, secret)
	mac.Write(body)
	want := "sha1=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(header), []byte(want)) {
		return errors.New("signature mismatch")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
