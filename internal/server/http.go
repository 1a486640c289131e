package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zot/snippets/internal/assetcache"
	"github.com/zot/snippets/internal/backup"
	"github.com/zot/snippets/internal/config"
	"github.com/zot/snippets/internal/notice"
	"github.com/zot/snippets/internal/repository"
	"github.com/zot/snippets/internal/search"
	"github.com/zot/snippets/internal/storage"
)

// Notice messages shown to the user.
const (
	msgCreated      = "Dados adicionados com sucesso!"
	msgCreateFailed = "Erro ao adicionar dados."
	msgUpdated      = "Dados atualizados com sucesso!"
	msgUpdateFailed = "Erro ao atualizar dados."
	msgDeleted      = "Código excluído com sucesso!"
	msgDeleteFailed = "Erro ao excluir o código."
	msgLoaded       = "Código carregado para edição."
	msgLoadFailed   = "Erro ao carregar código para edição."
	msgListFailed   = "Erro ao carregar códigos."
	msgSearchFailed = "Erro ao pesquisar códigos."
	msgExported     = "Backup exportado com sucesso!"
	msgExportFailed = "Erro ao exportar dados."
	msgImported     = "Dados importados com sucesso!"
	msgImportFailed = "Erro ao importar dados."
)

// maxImportSize caps an uploaded backup.
const maxImportSize = 32 << 20

// codeRequest is the body of create, update and submit.
type codeRequest struct {
	EditingID *int64 `json:"editingId,omitempty"`
	Title     string `json:"titulo"`
	Content   string `json:"conteudo"`
	Image     string `json:"imagem,omitempty"`
}

type idResponse struct {
	ID      int64 `json:"id"`
	Created bool  `json:"created"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type failureResponse struct {
	Index int    `json:"index"`
	ID    int64  `json:"id,omitempty"`
	Error string `json:"error"`
}

type importResponse struct {
	Imported int               `json:"imported"`
	Failed   []failureResponse `json:"failed"`
}

// HTTPEndpoint handles HTTP requests.
type HTTPEndpoint struct {
	config       *config.Config
	repo         *repository.Repository
	search       *search.Engine
	backup       *backup.Service
	notices      *notice.Board
	wsEndpoint   *WebSocketEndpoint
	cache        *assetcache.Cache
	svc          *ChanSvc
	staticDir    string
	embeddedSite fs.FS
	mux          *http.ServeMux
}

// NewHTTPEndpoint creates a new HTTP endpoint. Store operations run one at a
// time on svc.
func NewHTTPEndpoint(cfg *config.Config, repo *repository.Repository, notices *notice.Board, wsEndpoint *WebSocketEndpoint, svc *ChanSvc) *HTTPEndpoint {
	h := &HTTPEndpoint{
		config:     cfg,
		repo:       repo,
		search:     search.New(repo.Backend()),
		backup:     backup.New(repo),
		notices:    notices,
		wsEndpoint: wsEndpoint,
		svc:        svc,
		mux:        http.NewServeMux(),
	}
	h.setupRoutes()
	return h
}

// SetStaticDir sets a custom directory for static files.
func (h *HTTPEndpoint) SetStaticDir(dir string) {
	h.staticDir = dir
}

// SetEmbeddedSite sets the embedded site filesystem.
func (h *HTTPEndpoint) SetEmbeddedSite(site fs.FS) {
	h.embeddedSite = site
}

// SetAssetCache serves allow-listed site files from c before the site itself.
func (h *HTTPEndpoint) SetAssetCache(c *assetcache.Cache) {
	h.cache = c
}

// setupRoutes configures HTTP routes.
func (h *HTTPEndpoint) setupRoutes() {
	h.mux.HandleFunc("GET /api/codes", h.handleList)
	h.mux.HandleFunc("POST /api/codes", h.handleCreate)
	h.mux.HandleFunc("GET /api/codes/{id}", h.handleGet)
	h.mux.HandleFunc("PUT /api/codes/{id}", h.handleUpdate)
	h.mux.HandleFunc("DELETE /api/codes/{id}", h.handleDelete)
	h.mux.HandleFunc("POST /api/submit", h.handleSubmit)
	h.mux.HandleFunc("GET /api/search", h.handleSearch)
	h.mux.HandleFunc("GET /api/export", h.handleExport)
	h.mux.HandleFunc("POST /api/import", h.handleImport)
	h.mux.HandleFunc("GET /api/notices", h.handleNotices)
	h.mux.HandleFunc("GET /ws/notices", h.wsEndpoint.HandleWebSocket)
	h.mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, "Not found", http.StatusNotFound)
	})
	h.mux.HandleFunc("/", h.handleRoot)
}

// ServeHTTP implements http.Handler.
func (h *HTTPEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.config.Log(1, "%s %s", r.Method, r.URL.Path)
	h.mux.ServeHTTP(w, r)
}

// run executes one store operation on the endpoint's executor.
func run[T any](h *HTTPEndpoint, fn func() (T, error)) (T, error) {
	return SvcSync(h.svc, fn)
}

// handleRoot serves the site, cache first.
func (h *HTTPEndpoint) handleRoot(w http.ResponseWriter, r *http.Request) {
	site := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveStatic(w, r, strings.TrimPrefix(r.URL.Path, "/"))
	})
	if h.cache != nil {
		h.cache.Handler(site).ServeHTTP(w, r)
		return
	}
	site.ServeHTTP(w, r)
}

// serveStatic serves a static file.
func (h *HTTPEndpoint) serveStatic(w http.ResponseWriter, r *http.Request, path string) {
	if path == "" {
		path = "index.html"
	}

	// Set content type based on extension (http.ServeFile uses content sniffing which fails for CSS)
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}

	// Try custom directory first
	if h.staticDir != "" {
		http.ServeFile(w, r, h.staticDir+"/"+path)
		return
	}

	// Fall back to embedded site
	if h.embeddedSite != nil {
		data, err := fs.ReadFile(h.embeddedSite, path)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, path, time.Time{}, bytes.NewReader(data))
		return
	}

	http.NotFound(w, r)
}

func (h *HTTPEndpoint) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := run(h, func() ([]storage.Record, error) {
		return h.repo.All(r.Context())
	})
	if err != nil {
		h.fail(w, "list", err, msgListFailed)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *HTTPEndpoint) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := run(h, func() (*storage.Record, error) {
		return h.repo.Get(r.Context(), id)
	})
	if err != nil {
		h.fail(w, "get", err, msgLoadFailed)
		return
	}
	if rec == nil {
		h.notices.Post(notice.Danger, msgLoadFailed)
		h.writeError(w, fmt.Sprintf("record %d not found", id), http.StatusNotFound)
		return
	}
	if r.URL.Query().Get("edit") != "" {
		h.notices.Post(notice.Info, msgLoaded)
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPEndpoint) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCode(w, r)
	if !ok {
		return
	}
	req.EditingID = nil
	h.save(w, r, req)
}

func (h *HTTPEndpoint) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeCode(w, r)
	if !ok {
		return
	}
	req.EditingID = &id
	h.save(w, r, req)
}

// handleSubmit is the form's submit: editingId selects update over create.
func (h *HTTPEndpoint) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCode(w, r)
	if !ok {
		return
	}
	h.save(w, r, req)
}

// save creates the record, or replaces it when req.EditingID is set.
func (h *HTTPEndpoint) save(w http.ResponseWriter, r *http.Request, req *codeRequest) {
	image := storage.StringPtr(req.Image)

	if req.EditingID != nil {
		id := *req.EditingID
		_, err := run(h, func() (struct{}, error) {
			return struct{}{}, h.repo.Update(r.Context(), id, req.Title, req.Content, image)
		})
		if err != nil {
			h.fail(w, "update", err, msgUpdateFailed)
			return
		}
		h.notices.Post(notice.Success, msgUpdated)
		h.writeJSON(w, http.StatusOK, idResponse{ID: id})
		return
	}

	id, err := run(h, func() (int64, error) {
		return h.repo.Create(r.Context(), req.Title, req.Content, image)
	})
	if err != nil {
		h.fail(w, "create", err, msgCreateFailed)
		return
	}
	h.notices.Post(notice.Success, msgCreated)
	h.writeJSON(w, http.StatusCreated, idResponse{ID: id, Created: true})
}

func (h *HTTPEndpoint) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	_, err := run(h, func() (struct{}, error) {
		return struct{}{}, h.repo.Delete(r.Context(), id)
	})
	if err != nil {
		h.fail(w, "delete", err, msgDeleteFailed)
		return
	}
	h.notices.Post(notice.Success, msgDeleted)
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch treats an empty term as no search.
func (h *HTTPEndpoint) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		h.writeJSON(w, http.StatusOK, []storage.Record{})
		return
	}
	records, err := run(h, func() ([]storage.Record, error) {
		return h.search.Search(r.Context(), term)
	})
	if err != nil {
		h.fail(w, "search", err, msgSearchFailed)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *HTTPEndpoint) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := run(h, func() ([]byte, error) {
		var buf bytes.Buffer
		err := h.backup.Export(r.Context(), &buf)
		return buf.Bytes(), err
	})
	if err != nil {
		h.fail(w, "export", err, msgExportFailed)
		return
	}
	h.notices.Post(notice.Success, msgExported)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", backup.Filename))
	if _, err := w.Write(data); err != nil {
		h.config.Log(1, "Export write failed: %v", err)
	}
}

// handleImport accepts the backup as the request body or as the multipart field "file".
func (h *HTTPEndpoint) handleImport(w http.ResponseWriter, r *http.Request) {
	policy, err := backup.ParsePolicy(r.URL.Query().Get("policy"))
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)
	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			h.notices.Post(notice.Danger, msgImportFailed)
			h.writeError(w, "missing file: "+err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		body = file
	}

	report, err := run(h, func() (backup.Report, error) {
		return h.backup.Import(r.Context(), body, policy)
	})

	resp := importResponse{Imported: report.Imported, Failed: []failureResponse{}}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, failureResponse{Index: f.Index, ID: f.ID, Error: f.Err.Error()})
	}

	switch {
	case err == nil:
		h.notices.Post(notice.Success, msgImported)
		h.writeJSON(w, http.StatusOK, resp)
	case policy == backup.Independent && !errors.Is(err, storage.ErrParse):
		// One danger notice per failed record.
		h.config.Error("import", err)
		if report.Imported > 0 {
			h.notices.Post(notice.Success, msgImported)
		}
		for range report.Failed {
			h.notices.Post(notice.Danger, msgImportFailed)
		}
		h.writeJSON(w, http.StatusOK, resp)
	default:
		h.fail(w, "import", err, msgImportFailed)
	}
}

func (h *HTTPEndpoint) handleNotices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.notices.Active())
}

// pathID parses the {id} path value.
func (h *HTTPEndpoint) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, fmt.Sprintf("invalid id %q", r.PathValue("id")), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *HTTPEndpoint) decodeCode(w http.ResponseWriter, r *http.Request) (*codeRequest, bool) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid JSON", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

// fail logs err, posts a danger notice and writes the error response.
func (h *HTTPEndpoint) fail(w http.ResponseWriter, op string, err error, message string) {
	h.config.Error(op, err)
	h.notices.Post(notice.Danger, message)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrParse):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	h.writeError(w, err.Error(), status)
}

func (h *HTTPEndpoint) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response.
func (h *HTTPEndpoint) writeError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, errorResponse{Error: message})
}
