package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/axisimaging/dicomweb"
	"github.com/axisimaging/dicomweb/auth"
)

// StoreService is the store-pipeline surface the handler consumes.
type StoreService interface {
	Store(ctx context.Context, pathStudyUID string, parts []dicomweb.Part) (dicomweb.StoreResult, error)
}

// StudyService is the search/retrieve/delete surface.
type StudyService interface {
	Retrieve(ctx context.Context, key dicomweb.InstanceKey) (dicomweb.InstanceMeta, io.ReadSeekCloser, error)
	Instances(ctx context.Context, studyUID, seriesUID string) ([]dicomweb.InstanceMeta, error)
	Metadata(ctx context.Context, studyUID, seriesUID, instanceUID string) ([]json.RawMessage, error)
	Search(ctx context.Context, q dicomweb.SearchQuery) (dicomweb.SearchResult, error)
	Delete(ctx context.Context, key dicomweb.InstanceKey) error
}

// WorkitemService is the worklist surface.
type WorkitemService interface {
	Create(ctx context.Context, w dicomweb.Workitem) (dicomweb.Workitem, error)
	Get(ctx context.Context, uid string) (dicomweb.Workitem, error)
	Search(ctx context.Context, q dicomweb.WorkitemQuery) (dicomweb.WorkitemResult, error)
	Update(ctx context.Context, uid, transactionUID string, upd dicomweb.WorkitemUpdate) (dicomweb.Workitem, error)
	ChangeState(ctx context.Context, uid string, change dicomweb.StateChange) (dicomweb.Workitem, error)
	RequestCancel(ctx context.Context, uid, reason string) (dicomweb.Workitem, error)
}

type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type HandlerConfig struct {
	// PathPrefix is stripped before route matching, e.g. "/dicom-web".
	PathPrefix string
	// MaxUploadSize caps store request bodies in bytes; 0 means no cap.
	MaxUploadSize int64
	// Verifier turns bearer credentials into claims; nil disables
	// authentication entirely.
	Verifier auth.TokenVerifier
	// Policy decides authorization; required when Verifier is set.
	Policy *auth.Policy
	// Renderer serves rendered/thumbnail/frame representations; nil
	// answers those operations 406.
	Renderer    dicomweb.Renderer
	CORS        CORSConfig
	Compression CompressionConfig
}

// Handler dispatches matched operations to the protocol services. It
// holds no mutable state; all fields are read-only after construction.
type Handler struct {
	config    HandlerConfig
	router    *Router
	store     StoreService
	studies   StudyService
	workitems WorkitemService
}

func NewHandler(config *HandlerConfig, store StoreService, studies StudyService, workitems WorkitemService) *Handler {
	return &Handler{
		config:    *config,
		router:    NewRouter(config.PathPrefix),
		store:     store,
		studies:   studies,
		workitems: workitems,
	}
}

// Router returns the mounted http.Handler: CORS preflight short-circuit,
// compression, then route dispatch.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Use(CompressionMiddleware(h.config.Compression))

	r.HandleFunc("/", h.dispatch)
	r.HandleFunc("/*", h.dispatch)

	return r
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	match, ok := h.router.Match(r.Method, r.URL.Path)
	if !ok {
		WriteNotFound(w, "No resource matches the request")
		return
	}

	user, err := h.authenticate(r)
	if err != nil {
		WriteUnauthorized(w, authMessage(err))
		return
	}

	if h.config.Verifier != nil {
		res := dicomweb.Resource{
			StudyUID:    match.Params["study"],
			WorkitemUID: match.Params["workitem"],
			PatientID:   r.URL.Query().Get("PatientID"),
		}
		if err := h.config.Policy.Authorize(user, match.Op, res); err != nil {
			if user == nil {
				WriteUnauthorized(w, "Authentication required")
				return
			}
			WriteForbidden(w, err.Error())
			return
		}
	}

	h.handle(w, r, match)
}

// authenticate extracts and verifies the bearer credential. A missing
// credential yields a nil user; the policy decides whether that is
// acceptable for the operation.
func (h *Handler) authenticate(r *http.Request) (*auth.User, error) {
	if h.config.Verifier == nil {
		return nil, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, auth.ErrMalformedToken
	}

	claims, err := h.config.Verifier.Verify(r.Context(), strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}

	return auth.NewUser(claims), nil
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "Missing bearer token"
	case errors.Is(err, auth.ErrMalformedToken):
		return "Malformed bearer token"
	case errors.Is(err, auth.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		return "Token not yet valid"
	case errors.Is(err, auth.ErrSignatureInvalid):
		return "Invalid token signature"
	case errors.Is(err, auth.ErrUnsupportedAlgorithm):
		return "Unsupported token algorithm"
	case errors.Is(err, auth.ErrIssuerMismatch):
		return "Token issuer not accepted"
	case errors.Is(err, auth.ErrAudienceMismatch):
		return "Token audience not accepted"
	case errors.Is(err, auth.ErrMissingClaim):
		return "Token missing a required claim"
	default:
		return "Invalid credentials"
	}
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, match RouteMatch) {
	p := match.Params

	switch match.Op {
	case dicomweb.OpCapabilities:
		h.handleCapabilities(w, r)

	case dicomweb.OpSearchStudies:
		h.handleSearch(w, r, dicomweb.LevelStudy, p)
	case dicomweb.OpSearchSeries:
		h.handleSearch(w, r, dicomweb.LevelSeries, p)
	case dicomweb.OpSearchInstances:
		h.handleSearch(w, r, dicomweb.LevelInstance, p)

	case dicomweb.OpRetrieveStudy:
		h.handleRetrieveScope(w, r, p["study"], "")
	case dicomweb.OpRetrieveSeries:
		h.handleRetrieveScope(w, r, p["study"], p["series"])
	case dicomweb.OpRetrieveInstance:
		h.handleRetrieveInstance(w, r, keyFromParams(p))

	case dicomweb.OpRetrieveStudyMetadata:
		h.handleMetadata(w, r, p["study"], "", "")
	case dicomweb.OpRetrieveSeriesMetadata:
		h.handleMetadata(w, r, p["study"], p["series"], "")
	case dicomweb.OpRetrieveInstanceMetadata:
		h.handleMetadata(w, r, p["study"], p["series"], p["instance"])

	case dicomweb.OpRetrieveStudyRendered, dicomweb.OpRetrieveSeriesRendered, dicomweb.OpRetrieveInstanceRendered:
		h.handleRendered(w, r, keyFromParams(p), false)
	case dicomweb.OpRetrieveStudyThumbnail, dicomweb.OpRetrieveSeriesThumbnail, dicomweb.OpRetrieveInstanceThumb:
		h.handleRendered(w, r, keyFromParams(p), true)
	case dicomweb.OpRetrieveFrames:
		h.handleFrames(w, r, keyFromParams(p), p["frames"])

	case dicomweb.OpStore:
		h.handleStore(w, r, p["study"])

	case dicomweb.OpDeleteStudy, dicomweb.OpDeleteSeries, dicomweb.OpDeleteInstance:
		h.handleDelete(w, r, keyFromParams(p))

	case dicomweb.OpSearchWorkitems:
		h.handleSearchWorkitems(w, r)
	case dicomweb.OpCreateWorkitem:
		h.handleCreateWorkitem(w, r)
	case dicomweb.OpRetrieveWorkitem:
		h.handleRetrieveWorkitem(w, r, p["workitem"])
	case dicomweb.OpUpdateWorkitem:
		h.handleUpdateWorkitem(w, r, p["workitem"])
	case dicomweb.OpChangeState:
		h.handleChangeState(w, r, p["workitem"])
	case dicomweb.OpRequestCancel:
		h.handleRequestCancel(w, r, p["workitem"])

	default:
		WriteNotFound(w, "No resource matches the request")
	}
}

func keyFromParams(p map[string]string) dicomweb.InstanceKey {
	return dicomweb.InstanceKey{
		StudyUID:       p["study"],
		SeriesUID:      p["series"],
		SOPInstanceUID: p["instance"],
	}
}

func (h *Handler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"name": "dicomweb",
		"services": []string{
			"search", "retrieve", "store", "worklist",
		},
		"store_media_types": []string{
			"multipart/related", dicomweb.MediaTypeDICOM, dicomweb.MediaTypeDICOMJSON,
		},
	})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request, level dicomweb.QueryLevel, p map[string]string) {
	q := dicomweb.SearchQuery{
		Level:     level,
		StudyUID:  p["study"],
		SeriesUID: p["series"],
		PatientID: r.URL.Query().Get("PatientID"),
		Limit:     queryInt(r, "limit", 100),
		Offset:    queryInt(r, "offset", 0),
	}

	if uid := r.URL.Query().Get("StudyInstanceUID"); uid != "" && q.StudyUID == "" {
		q.StudyUID = uid
	}
	if uid := r.URL.Query().Get("SeriesInstanceUID"); uid != "" && q.SeriesUID == "" {
		q.SeriesUID = uid
	}

	result, err := h.studies.Search(r.Context(), q)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, result)
}

// handleRetrieveScope streams every instance under a study or series as
// a multipart/related body.
func (h *Handler) handleRetrieveScope(w http.ResponseWriter, r *http.Request, studyUID, seriesUID string) {
	items, err := h.studies.Instances(r.Context(), studyUID, seriesUID)
	if err != nil {
		HandleError(w, err)
		return
	}

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type",
		fmt.Sprintf(`multipart/related; type="%s"; boundary=%s`, dicomweb.MediaTypeDICOM, mw.Boundary()))
	w.WriteHeader(http.StatusOK)

	for _, item := range items {
		_, content, err := h.studies.Retrieve(r.Context(), item.InstanceKey)
		if err != nil {
			// The body is already streaming; the part is skipped.
			continue
		}

		header := textproto.MIMEHeader{}
		header.Set("Content-Type", item.ContentType)
		part, err := mw.CreatePart(header)
		if err == nil {
			_, _ = io.Copy(part, content)
		}
		_ = content.Close()
	}

	_ = mw.Close()
}

func (h *Handler) handleRetrieveInstance(w http.ResponseWriter, r *http.Request, key dicomweb.InstanceKey) {
	meta, content, err := h.studies.Retrieve(r.Context(), key)
	if err != nil {
		HandleError(w, err)
		return
	}
	defer func() { _ = content.Close() }()

	w.Header().Set("ETag", `"`+meta.Etag+`"`)
	w.Header().Set("Content-Type", meta.ContentType)

	http.ServeContent(w, r, key.SOPInstanceUID, meta.UpdatedAt, content)
}

func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request, studyUID, seriesUID, instanceUID string) {
	datasets, err := h.studies.Metadata(r.Context(), studyUID, seriesUID, instanceUID)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", dicomweb.MediaTypeDICOMJSON)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(datasets)
}

func (h *Handler) handleRendered(w http.ResponseWriter, r *http.Request, key dicomweb.InstanceKey, thumbnail bool) {
	if h.config.Renderer == nil {
		WriteNotAcceptable(w, "Rendered representations are not supported")
		return
	}

	var (
		contentType string
		data        []byte
		err         error
	)
	if thumbnail {
		contentType, data, err = h.config.Renderer.Thumbnail(r.Context(), key)
	} else {
		contentType, data, err = h.config.Renderer.Rendered(r.Context(), key, r.Header.Get("Accept"))
	}
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleFrames(w http.ResponseWriter, r *http.Request, key dicomweb.InstanceKey, frameList string) {
	frames, err := parseFrameList(frameList)
	if err != nil {
		WriteBadRequest(w, "Invalid frame list")
		return
	}

	if h.config.Renderer == nil {
		WriteNotAcceptable(w, "Frame retrieval is not supported")
		return
	}

	contentType, data, err := h.config.Renderer.Frames(r.Context(), key, frames)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseFrameList parses the comma-separated, 1-based frame numbers.
func parseFrameList(s string) ([]int, error) {
	var frames []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid frame number: %q", f)
		}
		frames = append(frames, n)
	}
	return frames, nil
}

func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request, pathStudyUID string) {
	body := r.Body
	if h.config.MaxUploadSize > 0 {
		body = http.MaxBytesReader(w, body, h.config.MaxUploadSize)
	}

	parts, err := dicomweb.SplitParts(r.Header.Get("Content-Type"), body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			WritePayloadTooLarge(w, "Request body exceeds the upload limit")
		case errors.Is(err, dicomweb.ErrUnsupportedMediaType):
			WriteUnsupportedMediaType(w, err.Error())
		default:
			WriteBadRequest(w, err.Error())
		}
		return
	}

	if len(parts) == 0 {
		WriteBadRequest(w, "Request body contains no objects")
		return
	}

	result, err := h.store.Store(r.Context(), pathStudyUID, parts)
	if err != nil {
		HandleError(w, err)
		return
	}

	base := retrieveBase(r, h.config.PathPrefix)
	for i, stored := range result.Stored {
		result.Stored[i].RetrieveURL = fmt.Sprintf("%s/studies/%s/series/%s/instances/%s",
			base, stored.StudyUID, stored.SeriesUID, stored.SOPInstanceUID)
	}

	if result.HasWarnings() {
		w.Header().Set("Warning", `299 dicomweb "one or more instances replaced existing SOP instances"`)
	}

	_ = WriteJSON(w, result.Status(), result)
}

// retrieveBase derives the absolute URL base for retrieval locators.
func retrieveBase(r *http.Request, prefix string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + strings.TrimSuffix(prefix, "/")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, key dicomweb.InstanceKey) {
	if err := h.studies.Delete(r.Context(), key); err != nil {
		HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSearchWorkitems(w http.ResponseWriter, r *http.Request) {
	q := dicomweb.WorkitemQuery{
		State:     dicomweb.WorkitemState(r.URL.Query().Get("state")),
		PatientID: r.URL.Query().Get("PatientID"),
		StudyUID:  r.URL.Query().Get("StudyInstanceUID"),
		Label:     r.URL.Query().Get("label"),
		Limit:     queryInt(r, "limit", 100),
		Offset:    queryInt(r, "offset", 0),
	}

	if q.State != "" && !q.State.IsValid() {
		WriteBadRequest(w, "Invalid workitem state filter")
		return
	}

	result, err := h.workitems.Search(r.Context(), q)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCreateWorkitem(w http.ResponseWriter, r *http.Request) {
	var item dicomweb.Workitem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		WriteBadRequest(w, "Malformed workitem body")
		return
	}

	created, err := h.workitems.Create(r.Context(), item)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Location", retrieveBase(r, h.config.PathPrefix)+"/workitems/"+created.UID)
	_ = WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleRetrieveWorkitem(w http.ResponseWriter, r *http.Request, uid string) {
	item, err := h.workitems.Get(r.Context(), uid)
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, item)
}

type workitemUpdateBody struct {
	Priority          *string  `json:"priority"`
	PatientName       *string  `json:"patient_name"`
	Label             *string  `json:"label"`
	Labels            []string `json:"labels"`
	ProgressSteps     *int     `json:"progress_steps"`
	ProgressCompleted *int     `json:"progress_completed"`
}

func (h *Handler) handleUpdateWorkitem(w http.ResponseWriter, r *http.Request, uid string) {
	var body workitemUpdateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "Malformed workitem update body")
		return
	}

	upd := dicomweb.WorkitemUpdate{
		Priority:          body.Priority,
		PatientName:       body.PatientName,
		Label:             body.Label,
		Labels:            body.Labels,
		ProgressSteps:     body.ProgressSteps,
		ProgressCompleted: body.ProgressCompleted,
	}

	item, err := h.workitems.Update(r.Context(), uid, r.URL.Query().Get("transaction-uid"), upd)
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, item)
}

type changeStateBody struct {
	State          string `json:"state"`
	TransactionUID string `json:"transaction_uid"`
	Reason         string `json:"reason"`
}

func (h *Handler) handleChangeState(w http.ResponseWriter, r *http.Request, uid string) {
	var body changeStateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "Malformed state change body")
		return
	}

	item, err := h.workitems.ChangeState(r.Context(), uid, dicomweb.StateChange{
		Target:         dicomweb.WorkitemState(body.State),
		TransactionUID: body.TransactionUID,
		Reason:         body.Reason,
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	// A claim must hand the transaction UID back, or a claimer that let
	// the server generate one could never mutate the workitem again. All
	// other reads keep it suppressed.
	if item.State == dicomweb.StateInProgress && item.TransactionUID != "" {
		_ = WriteJSON(w, http.StatusOK, claimedWorkitem{
			Workitem:       item,
			TransactionUID: item.TransactionUID,
		})
		return
	}
	_ = WriteJSON(w, http.StatusOK, item)
}

type claimedWorkitem struct {
	dicomweb.Workitem
	TransactionUID string `json:"transaction_uid"`
}

func (h *Handler) handleRequestCancel(w http.ResponseWriter, r *http.Request, uid string) {
	var body struct {
		Reason string `json:"reason"`
	}
	// An empty body is a bare cancellation request.
	_ = json.NewDecoder(r.Body).Decode(&body)

	item, err := h.workitems.RequestCancel(r.Context(), uid, body.Reason)
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusAccepted, item)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
		return parsed
	}
	return fallback
}
