package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ptmscout/internal/config"
	"github.com/dharsanguruparan/ptmscout/internal/jobs"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/queue"
	"github.com/dharsanguruparan/ptmscout/internal/session"
	"github.com/dharsanguruparan/ptmscout/internal/signing"
)

// UserHeader carries the caller's user id (an email address). Identity is
// established upstream of this service.
const UserHeader = "X-PTMScout-User"

// Store reads the experiment records the endpoints expose.
type Store interface {
	GetExperiment(ctx context.Context, id string) (*model.Experiment, error)
	ListExperimentErrors(ctx context.Context, expID string) ([]model.ExperimentError, error)
}

// Queue hands export work to the worker.
type Queue interface {
	EnqueueExport(ctx context.Context, p queue.ExportPayload) error
}

// Results serves finished export files.
type Results interface {
	OpenResult(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Wizard  *session.Wizard
	Jobs    *jobs.Tracker
	Store   Store
	Queue   Queue
	Results Results
	Signer  *signing.Signer
}

// Server exposes the upload wizard, job polling, error logs and exports.
type Server struct {
	cfg    *config.Config
	deps   Deps
	log    zerolog.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	return &Server{cfg: cfg, deps: deps, log: log}
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSessionRoute)
	mux.HandleFunc("/jobs/", s.handleJobRoute)
	mux.HandleFunc("/experiments/", s.handleExperimentRoute)
	mux.HandleFunc("/downloads", s.handleDownload)
	return corsMiddleware(s.loggingMiddleware(mux))
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("address", s.cfg.Address).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func userOf(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		respondError(w, http.StatusUnauthorized, "missing user")
		return "", false
	}
	return user, true
}

func splitRoute(p, prefix string) []string {
	p = strings.Trim(strings.TrimPrefix(p, prefix), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	parts := splitRoute(r.URL.Path, "/sessions/")
	if len(parts) == 0 || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	user, ok := userOf(w, r)
	if !ok {
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.respond(w, r, http.StatusOK)(s.deps.Wizard.Get(r.Context(), id, user))
		case http.MethodDelete:
			if err := s.deps.Wizard.Cancel(r.Context(), id, user); err != nil {
				s.fail(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	route := parts[1] + " " + r.Method
	switch route {
	case "columns GET":
		s.respond(w, r, http.StatusOK)(s.deps.Wizard.Columns(r.Context(), id, user))
	case "columns POST":
		var req session.ConfigureRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := s.deps.Wizard.Configure(r.Context(), id, user, req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		status := http.StatusOK
		if !res.Committed {
			status = http.StatusUnprocessableEntity
		}
		respondJSON(w, status, res)
	case "metadata GET":
		s.respond(w, r, http.StatusOK)(s.deps.Wizard.MetadataDefaults(r.Context(), id, user))
	case "metadata POST":
		var m session.Metadata
		if !decodeBody(w, r, &m) {
			return
		}
		s.respond(w, r, http.StatusOK)(s.deps.Wizard.SaveMetadata(r.Context(), id, user, m))
	case "conditions POST":
		var conds []model.Condition
		if !decodeBody(w, r, &conds) {
			return
		}
		if err := s.deps.Wizard.SaveConditions(r.Context(), id, user, conds); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "confirm POST":
		s.respond(w, r, http.StatusAccepted)(s.deps.Wizard.Confirm(r.Context(), id, user))
	case "review GET":
		parsed, err := s.deps.Wizard.Review(r.Context(), id, user)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"accessions":   len(parsed.AccessionList()),
			"measurements": len(parsed.Measurements()),
			"errors":       parsed.Errors,
		})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleJobRoute(w http.ResponseWriter, r *http.Request) {
	parts := splitRoute(r.URL.Path, "/jobs/")
	if len(parts) == 0 || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	user, ok := userOf(w, r)
	if !ok {
		return
	}
	job, err := s.deps.Jobs.Get(r.Context(), parts[0])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if job.UserID != user {
		respondError(w, http.StatusForbidden, "job belongs to another user")
		return
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		respondJSON(w, http.StatusOK, job)
	case len(parts) == 2 && parts[1] == "restart" && r.Method == http.MethodPost:
		s.respond(w, r, http.StatusAccepted)(s.deps.Wizard.Restart(r.Context(), job.ID, user))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleExperimentRoute(w http.ResponseWriter, r *http.Request) {
	parts := splitRoute(r.URL.Path, "/experiments/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	user, ok := userOf(w, r)
	if !ok {
		return
	}
	exp, err := s.deps.Store.GetExperiment(r.Context(), parts[0])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	switch parts[1] + " " + r.Method {
	case "errors GET":
		if exp.OwnerID != user {
			respondError(w, http.StatusForbidden, "experiment belongs to another user")
			return
		}
		errs, err := s.deps.Store.ListExperimentErrors(r.Context(), exp.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if errs == nil {
			errs = []model.ExperimentError{}
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"experimentId": exp.ID, "errors": errs})
	case "export POST":
		if exp.OwnerID != user && !exp.Published {
			respondError(w, http.StatusForbidden, "experiment is not published")
			return
		}
		s.requestExport(w, r, exp, user)
	default:
		http.NotFound(w, r)
	}
}

type exportRequest struct {
	Annotate bool `json:"annotate"`
}

func (s *Server) requestExport(w http.ResponseWriter, r *http.Request, exp *model.Experiment, user string) {
	ctx := r.Context()
	var req exportRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	job, err := s.deps.Jobs.Create(ctx, fmt.Sprintf("Export experiment %s", exp.Name), model.JobExportExp, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := fmt.Sprintf("%s/jobs/%s", s.cfg.BaseURL, job.ID)
	if err := s.deps.Jobs.SetURLs(ctx, job.ID, status, "", ""); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Jobs.SetStatus(ctx, job.ID, model.JobInQueue); err != nil {
		s.fail(w, r, err)
		return
	}
	payload := queue.ExportPayload{ExperimentID: exp.ID, JobID: job.ID, Annotate: req.Annotate}
	if err := s.deps.Queue.EnqueueExport(ctx, payload); err != nil {
		s.fail(w, r, fmt.Errorf("queue export: %w", err))
		return
	}
	s.respond(w, r, http.StatusAccepted)(s.deps.Jobs.Get(ctx, job.ID))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	key := q.Get("key")
	if err := s.deps.Signer.Verify(key, q.Get("expires"), q.Get("signature")); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, signing.ErrExpired) {
			status = http.StatusGone
		}
		respondError(w, status, err.Error())
		return
	}
	body, size, err := s.deps.Results.OpenResult(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", "text/tab-separated-values")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("download interrupted")
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := userOf(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024*1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	fields, tmp, err := s.readForm(mr)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := session.StartRequest{
		UserID:            user,
		ResourceType:      model.ResourceType(fields["resource_type"]),
		LoadType:          model.LoadType(fields["load_type"]),
		ParentExperiment:  fields["parent_experiment"],
		ChangeName:        fields["change_name"],
		ChangeDescription: fields["change_description"],
	}
	if tmp != nil {
		defer os.Remove(tmp.path)
		defer tmp.f.Close()
		req.FileName = tmp.filename
		req.Body = tmp.f
		req.Size = tmp.size
		req.ContentType = tmp.contentType
	}
	s.respond(w, r, http.StatusCreated)(s.deps.Wizard.Start(r.Context(), req))
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

const maxFieldSize = 64 * 1024

// readForm walks the multipart stream, spooling the "file" part to disk and
// collecting every other part as a form value.
func (s *Server) readForm(mr *multipart.Reader) (map[string]string, *tempUpload, error) {
	fields := map[string]string{}
	var tmp *tempUpload
	discard := func() {
		if tmp != nil {
			tmp.f.Close()
			os.Remove(tmp.path)
		}
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return fields, tmp, nil
		}
		if err != nil {
			discard()
			return nil, nil, err
		}
		if part.FormName() == "file" && tmp == nil {
			tmp, err = s.persistTemp(part)
			part.Close()
			if err != nil {
				tmp = nil
			}
			if err != nil {
				return nil, nil, err
			}
			continue
		}
		value, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
		part.Close()
		if err != nil {
			discard()
			return nil, nil, fmt.Errorf("read field %s: %w", part.FormName(), err)
		}
		fields[part.FormName()] = strings.TrimSpace(string(value))
	}
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "ptmscout-*"+path.Ext(part.FileName()))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				cleanup()
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				cleanup()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			cleanup()
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		cleanup()
		return nil, errors.New("empty file")
	}
	if _, err := tmpFile.Seek(0, 0); err != nil {
		cleanup()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    path.Base(part.FileName()),
	}, nil
}

// respond writes v with status, or maps err onto an error response.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int) func(interface{}, error) {
	return func(v interface{}, err error) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, status, v)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var form *session.FormError
	switch {
	case errors.As(err, &form):
		respondJSON(w, http.StatusBadRequest, map[string][]string{"errors": form.Messages})
	case errors.Is(err, session.ErrSessionForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrWrongStage), errors.Is(err, session.ErrNotRestartable):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNoSuchSession), errors.Is(err, jobs.ErrNoSuchJob), errors.Is(err, model.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,"+UserHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("request")
	})
}
