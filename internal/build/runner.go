package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"

	"github.com/google/uuid"
)

// RunnerDatabase is the read-only view the engine runner needs.
type RunnerDatabase interface {
	GetBuildJob(ctx context.Context, id uuid.UUID) (*Job, error)
}

// Runner executes one dispatched build: it clones the repository over
// HTTPS with the user's OAuth token, runs the site's configured engine,
// publishes the output to object storage and posts the completion
// callback. It never writes to the database directly; the callback
// handler owns the state transition.
type Runner struct {
	Database RunnerDatabase // required
	Storage  Storage        // required

	// CallbackBase is the base URL of the completion callback endpoint,
	// e.g. http://server:8080.
	CallbackBase string // required

	HTTPClient *http.Client
}

func (r *Runner) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return http.DefaultClient
}

// Run executes the build for id and always attempts to report a result
// through the callback. The returned error covers infrastructure
// failures (job resolution, callback delivery); engine failures travel
// inside the callback message instead.
func (r *Runner) Run(ctx context.Context, id uuid.UUID) error {
	job, err := r.Database.GetBuildJob(ctx, id)
	if err != nil {
		return fmt.Errorf("build.Runner: %w", err)
	}
	if job.Build.State.Terminal() {
		return fmt.Errorf("build.Runner: %w", ErrAlreadyDone)
	}

	result := r.execute(ctx, job)

	if err = r.report(ctx, job, result); err != nil {
		return fmt.Errorf("build.Runner: %w", err)
	}

	return nil
}

func (r *Runner) execute(ctx context.Context, job *Job) *Result {
	tempDir, err := os.MkdirTemp("", "pages-build-")
	if err != nil {
		return &Result{Status: "error", Message: fmt.Sprintf("prepare workspace: %v", err)}
	}
	defer func() {
		_ = os.RemoveAll(tempDir)
	}()

	srcDir := filepath.Join(tempDir, "source")
	outDir := filepath.Join(tempDir, "output")

	if output, cloneErr := clone(ctx, job, srcDir); cloneErr != nil {
		// The clone URL carries the OAuth token, so the raw git output
		// is only ever shipped through the callback where it is
		// sanitized before persistence. It is never logged here.
		slog.Error("didn't clone repository",
			"build_id", job.Build.ID,
			"owner", job.SiteOwner,
			"repository", job.SiteRepository,
		)
		return &Result{Status: "error", Message: fmt.Sprintf("clone failed: %s", output)}
	}

	if output, engineErr := runEngine(ctx, job, srcDir, outDir); engineErr != nil {
		return &Result{Status: "error", Message: fmt.Sprintf("build failed: %s", output)}
	}

	if err = r.Storage.UploadDir(ctx, publishPrefix(job), outDir); err != nil {
		return &Result{Status: "error", Message: fmt.Sprintf("publish failed: %v", err)}
	}

	slog.Info("published build",
		"build_id", job.Build.ID,
		"prefix", publishPrefix(job),
		"engine", job.Engine,
	)
	return &Result{Status: "success"}
}

// report posts the result to the completion callback, authenticating
// with the build's token.
func (r *Runner) report(ctx context.Context, job *Job, result *Result) error {
	message, err := EncodeResult(result)
	if err != nil {
		return err
	}

	body := new(bytes.Buffer)
	if err = json.NewEncoder(body).Encode(map[string]string{"message": message}); err != nil {
		return err
	}

	callbackURL := fmt.Sprintf("%s/build/%s/status/%s", r.CallbackBase, job.Build.ID, job.Build.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("callback responded %d", resp.StatusCode)
	}

	return nil
}

func clone(ctx context.Context, job *Job, dir string) (output string, err error) {
	cmd := exec.CommandContext(ctx, "git", "clone",
		"--branch", job.Build.Branch,
		"--single-branch",
		"--depth", "1",
		cloneURL(job),
		dir,
	)
	outputBytes, err := cmd.CombinedOutput()
	return string(outputBytes), err
}

// cloneURL builds the HTTPS remote with the user's OAuth token
// embedded. Templated builds clone from the alternate source
// repository.
func cloneURL(job *Job) string {
	owner, repository := job.SiteOwner, job.SiteRepository
	if job.Build.Source != nil {
		owner, repository = job.Build.Source.Owner, job.Build.Source.Repository
	}

	u := url.URL{
		Scheme: "https",
		User:   url.User(job.GithubToken),
		Host:   "github.com",
		Path:   fmt.Sprintf("/%s/%s.git", owner, repository),
	}
	return u.String()
}

// basePath is the path the published site is served under: the default
// branch publishes to the site path, every other branch to a preview
// path.
func basePath(job *Job) string {
	if job.Build.Branch == job.DefaultBranch {
		return path.Join("/site", job.SiteOwner, job.SiteRepository)
	}
	return path.Join("/preview", job.SiteOwner, job.SiteRepository, job.Build.Branch)
}

// publishPrefix is basePath without the leading slash, used as the
// object storage key prefix.
func publishPrefix(job *Job) string {
	return basePath(job)[1:]
}

func runEngine(ctx context.Context, job *Job, srcDir, outDir string) (output string, err error) {
	if job.Engine == "static" {
		// No generator; the repository is the site.
		if err = os.CopyFS(outDir, os.DirFS(srcDir)); err != nil {
			return err.Error(), err
		}
		return "", nil
	}

	cmd, err := engineCommand(ctx, job.Engine, srcDir, outDir, basePath(job))
	if err != nil {
		return err.Error(), err
	}

	outputBytes, err := cmd.CombinedOutput()
	return string(outputBytes), err
}

// engineCommand maps a site's configured engine name to a generator
// invocation.
func engineCommand(ctx context.Context, engine, srcDir, outDir, basePath string) (*exec.Cmd, error) {
	switch engine {
	case "jekyll":
		return exec.CommandContext(ctx, "jekyll", "build",
			"--source", srcDir,
			"--destination", outDir,
			"--baseurl", basePath,
		), nil
	case "hugo":
		return exec.CommandContext(ctx, "hugo",
			"--source", srcDir,
			"--destination", outDir,
			"--baseURL", basePath+"/",
		), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
}
