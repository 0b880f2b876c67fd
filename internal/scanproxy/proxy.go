package scanproxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// forwardedURLHeader carries the true destination of a request routed
// through the proxy.
const forwardedURLHeader = "X-Cf-Forwarded-Url"

// maxUploadSize bounds a buffered upload body. Uploads are held in
// memory in full while the scanner inspects them.
const maxUploadSize = 256 * 1024 * 1024 // 256MB

// requestTimeout bounds a single proxied exchange, scan included.
const requestTimeout = 5 * time.Minute

// uploadPattern matches the file-storage upload route that must be
// scanned before it reaches the backend.
var uploadPattern = regexp.MustCompile(`/file-storage/[^/]+/upload$`)

// Proxy is a route service that interposes a malware scan on file
// uploads and passes every other request through untouched. It keeps
// no state between requests.
type Proxy struct {
	// ScanURL receives buffered upload bodies for inspection.
	ScanURL string // required

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (p *Proxy) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *Proxy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	r = r.WithContext(ctx)

	rawDest := r.Header.Get(forwardedURLHeader)
	if rawDest == "" {
		http.Error(w, "missing forwarded URL", http.StatusBadRequest)
		return
	}
	dest, err := url.Parse(rawDest)
	if err != nil || !dest.IsAbs() || dest.Host == "" {
		http.Error(w, "malformed forwarded URL", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodPost && uploadPattern.MatchString(dest.Path) {
		p.scanAndForward(w, r, dest)
		return
	}

	p.forward(w, r, dest, r.Body, -1)
}

// scanAndForward buffers the upload, submits it to the scanner and only
// forwards the original bytes when the scan passes.
func (p *Proxy) scanAndForward(w http.ResponseWriter, r *http.Request, dest *url.URL) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize+1))
	if err != nil {
		p.logger().Error("failed to buffer upload", "error", err)
		http.Error(w, "failed to read upload", http.StatusInternalServerError)
		return
	}
	if len(body) > maxUploadSize {
		http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err = validateMultipart(r, body); err != nil {
		http.Error(w, "invalid multipart upload", http.StatusBadRequest)
		return
	}

	scanReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.ScanURL, bytes.NewReader(body))
	if err != nil {
		http.Error(w, "scan failed", http.StatusInternalServerError)
		return
	}
	scanReq.Header.Set("Content-Type", r.Header.Get("Content-Type"))

	scanResp, err := p.httpClient().Do(scanReq)
	if err != nil {
		p.logger().Error("scan request failed", "error", err, "destination", dest.Host)
		http.Error(w, "scan failed", http.StatusInternalServerError)
		return
	}
	defer scanResp.Body.Close()
	_, _ = io.Copy(io.Discard, scanResp.Body)

	switch {
	case scanResp.StatusCode >= 200 && scanResp.StatusCode <= 299:
		// Clean. Forward the original bytes, not a multipart
		// reconstruction.
		p.forward(w, r, dest, io.NopCloser(bytes.NewReader(body)), int64(len(body)))
	case scanResp.StatusCode == http.StatusNotAcceptable:
		p.logger().Warn("upload rejected by scanner", "destination", dest.String())
		http.Error(w, "file has been flagged as malicious", http.StatusNotAcceptable)
	default:
		p.logger().Error("scanner responded unexpectedly", "status", scanResp.StatusCode)
		http.Error(w, "scan failed", http.StatusInternalServerError)
	}
}

// forward relays the request to its true destination and streams the
// response back. contentLength < 0 means unknown.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, dest *url.URL, body io.Reader, contentLength int64) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, dest.String(), body)
	if err != nil {
		http.Error(w, "failed to build request", http.StatusInternalServerError)
		return
	}
	if contentLength >= 0 {
		req.ContentLength = contentLength
	}

	for key, values := range r.Header {
		if isHopByHopHeader(key) || key == forwardedURLHeader {
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Host = dest.Host

	resp, err := p.httpClient().Do(req)
	if err != nil {
		p.logger().Error("destination request failed", "error", err, "destination", dest.Host)
		http.Error(w, "destination unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err = io.Copy(w, resp.Body); err != nil {
		p.logger().Error("failed to stream response", "error", err)
	}
}

// validateMultipart checks that the buffered body really is the
// multipart form its Content-Type claims.
func validateMultipart(r *http.Request, body []byte) error {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return errors.New("not a multipart request")
	}
	boundary := params["boundary"]
	if boundary == "" {
		return errors.New("missing multipart boundary")
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err = io.Copy(io.Discard, part); err != nil {
			return err
		}
	}
}

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[strings.ToLower(name)]
}
