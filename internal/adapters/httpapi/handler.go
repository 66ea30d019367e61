package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
	"github.com/atvirokodosprendimai/formsum/internal/core/usecase"
)

const (
	timeFormat      = "2006-01-02T15:04:05.999999999Z07:00"
	maxJSONBodySize = 1 << 20

	headerRequestID     = "X-Request-ID"
	headerCorrelationID = "X-Correlation-ID"
)

type Handler struct {
	sessions *usecase.SessionService
	schemas  *usecase.SchemaService
	policy   *bluemonday.Policy
	openapi  []byte
}

func NewHandler(sessions *usecase.SessionService, schemas *usecase.SchemaService) *Handler {
	doc, err := json.Marshal(openapiSpec(schemas.Document()))
	if err != nil {
		log.Printf("encode openapi document: %v", err)
	}
	return &Handler{
		sessions: sessions,
		schemas:  schemas,
		policy:   bluemonday.StrictPolicy(),
		openapi:  doc,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapiDoc)
	r.Get("/v1/schema", h.schema)

	r.Route("/v1/sessions", func(sr chi.Router) {
		sr.Post("/", h.openSession)
		sr.Get("/{id}", h.getSession)
		sr.Delete("/{id}", h.closeSession)
		sr.Put("/{id}/data", h.putData)
		sr.Get("/{id}/data", h.getData)
		sr.Get("/{id}/result", h.getResult)
		sr.Get("/{id}/summary", h.getSummary)
		sr.Post("/{id}/submit", h.submit)
	})
	r.Get("/v1/submissions/{id}", h.getSubmission)

	return r
}

type sessionResponse struct {
	ID        string                  `json:"id"`
	State     string                  `json:"state"`
	Data      domain.FormData         `json:"data"`
	Result    domain.ValidationResult `json:"result"`
	CreatedAt string                  `json:"created_at"`
	UpdatedAt string                  `json:"updated_at"`
}

type summaryResponse struct {
	Lines   []string `json:"lines"`
	Empty   bool     `json:"empty"`
	Message string   `json:"message,omitempty"`
}

type submitRequest struct {
	Actor         string `json:"actor"`
	Source        string `json:"source"`
	CorrelationID string `json:"correlation_id"`
}

type submissionResponse struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Actor       string `json:"actor"`
	SubmittedAt string `json:"submitted_at"`
}

type storedSubmissionResponse struct {
	submissionResponse
	Source        string          `json:"source"`
	RequestID     string          `json:"request_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

func (h *Handler) openSession(w http.ResponseWriter, _ *http.Request) {
	view, err := h.sessions.Open()
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(view))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(view))
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Close(chi.URLParam(r, "id")) {
		handleDomainError(w, domain.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// putData takes a full snapshot of the form and answers with the validation
// result for exactly that snapshot.
func (h *Handler) putData(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	data, err := domain.ParseFormData(raw)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	result, err := h.sessions.Apply(chi.URLParam(r, "id"), data)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getData(w http.ResponseWriter, r *http.Request) {
	data, err := h.sessions.Data(chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.Result(chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	lines, ok, err := h.sessions.Summary(chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		writeHTML(w, http.StatusOK, h.summaryHTML(lines, ok))
		return
	}

	resp := summaryResponse{Lines: lines, Empty: !ok}
	if resp.Lines == nil {
		resp.Lines = []string{}
	}
	if !ok {
		resp.Message = domain.NoDataMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// summaryHTML renders the read-only row list. Row values come straight from
// user input and are stripped of markup before being embedded.
func (h *Handler) summaryHTML(lines []string, ok bool) string {
	if !ok {
		return `<p class="summary-empty">` + h.policy.Sanitize(domain.NoDataMessage) + "</p>\n"
	}
	var b strings.Builder
	b.WriteString(`<ul class="summary">`)
	for _, line := range lines {
		b.WriteString("<li>")
		b.WriteString(h.policy.Sanitize(line))
		b.WriteString("</li>")
	}
	b.WriteString("</ul>\n")
	return b.String()
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)

	var req submitRequest
	if r.ContentLength != 0 {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := ensureEOF(decoder); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = r.Header.Get(headerCorrelationID)
	}
	sub, err := h.sessions.Submit(r.Context(), chi.URLParam(r, "id"), domain.SubmitMetadata{
		Actor:         req.Actor,
		Source:        req.Source,
		RequestID:     r.Header.Get(headerRequestID),
		CorrelationID: correlationID,
	})
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submissionResponse{
		ID:          sub.ID,
		SessionID:   sub.SessionID,
		Actor:       sub.Meta.Actor,
		SubmittedAt: sub.SubmittedAt.UTC().Format(timeFormat),
	})
}

func (h *Handler) getSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.sessions.Submission(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, storedSubmissionResponse{
		submissionResponse: submissionResponse{
			ID:          sub.ID,
			SessionID:   sub.SessionID,
			Actor:       sub.Meta.Actor,
			SubmittedAt: sub.SubmittedAt.UTC().Format(timeFormat),
		},
		Source:        sub.Meta.Source,
		RequestID:     sub.Meta.RequestID,
		CorrelationID: sub.Meta.CorrelationID,
		Data:          sub.Data,
	})
}

func (h *Handler) schema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.schemas.Document())
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": h.sessions.Len()})
}

func (h *Handler) openapiDoc(w http.ResponseWriter, _ *http.Request) {
	if h.openapi == nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(h.openapi))
}

func toSessionResponse(view usecase.SessionView) sessionResponse {
	return sessionResponse{
		ID:        view.ID,
		State:     view.State.String(),
		Data:      view.Data,
		Result:    view.Result,
		CreatedAt: view.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: view.UpdatedAt.UTC().Format(timeFormat),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("encode json response: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	var invalid *domain.ErrFormInvalid
	var violation *domain.ErrSchemaViolation
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "form is invalid", "result": invalid.Result})
	case errors.As(err, &violation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "schema validation failed", "details": violation.Errors})
	case errors.Is(err, domain.ErrInvalidData):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, domain.ErrSessionClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, usecase.ErrTooManySessions):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, usecase.ErrSubmissionUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("http handler error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}
