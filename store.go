package dicomweb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
)

// MediaTypeDICOM is the media type of a single binary object body.
const MediaTypeDICOM = "application/dicom"

// MediaTypeDICOMJSON is the media type of a DICOM JSON model body.
const MediaTypeDICOMJSON = "application/dicom+json"

// ErrUnsupportedMediaType is returned by SplitParts for a body whose
// declared content type the store pipeline cannot consume.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// Part is one object extracted from a store request body.
type Part struct {
	ContentType string
	Data        []byte
}

// SplitParts breaks a store request body into its object parts. A
// multipart/related body is split on its boundary; any other supported
// media type is treated as a single part.
func SplitParts(contentType string, body io.Reader) ([]Part, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("split parts: %w: %s", ErrUnsupportedMediaType, contentType)
	}

	if mediaType == "multipart/related" {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("split parts: %w: missing boundary", ErrInvalidInput)
		}

		partType := params["type"]
		mr := multipart.NewReader(body, boundary)

		var parts []Part
		for {
			p, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("split parts: %w: %s", ErrInvalidInput, err)
			}

			data, err := io.ReadAll(p)
			if err != nil {
				return nil, fmt.Errorf("split parts: read part: %w", err)
			}

			ct := p.Header.Get("Content-Type")
			if ct == "" {
				ct = partType
			}
			parts = append(parts, Part{ContentType: ct, Data: data})
		}
		return parts, nil
	}

	switch mediaType {
	case MediaTypeDICOM, MediaTypeDICOMJSON, "application/json":
	default:
		return nil, fmt.Errorf("split parts: %w: %s", ErrUnsupportedMediaType, mediaType)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("split parts: read body: %w", err)
	}
	return []Part{{ContentType: mediaType, Data: data}}, nil
}

// StoreConfig holds the store pipeline's validation knobs.
type StoreConfig struct {
	// ValidateUIDs enables UID format checking on the identity triple.
	ValidateUIDs bool
	// AcceptedSOPClasses allow-lists SOP classes; empty disables the check.
	AcceptedSOPClasses []string
	// RequiredTags lists attribute keywords every object must carry;
	// empty disables the check.
	RequiredTags []string
	// DuplicatePolicy selects how an already-stored identity triple is
	// handled. Defaults to reject.
	DuplicatePolicy DuplicatePolicy
}

// StoreService runs the store pipeline: per-part validation, duplicate
// handling, and partial-success aggregation. Parts are independent; one
// part's failure never affects another's outcome.
type StoreService struct {
	repo    InstanceRepo
	storage FileStorage
	parser  ObjectParser
	cfg     StoreConfig
}

func NewStoreService(repo InstanceRepo, storage FileStorage, parser ObjectParser, cfg StoreConfig) (*StoreService, error) {
	if cfg.DuplicatePolicy == "" {
		cfg.DuplicatePolicy = DuplicateReject
	}
	if !cfg.DuplicatePolicy.IsValid() {
		return nil, fmt.Errorf("new store service: invalid duplicate policy: %s", cfg.DuplicatePolicy)
	}
	return &StoreService{repo: repo, storage: storage, parser: parser, cfg: cfg}, nil
}

// StoreResult aggregates the per-part outcomes of one store invocation.
// Empty collections are omitted from the JSON body.
type StoreResult struct {
	Stored []StoredInstance `json:"stored,omitempty"`
	Failed []FailureEntry   `json:"failed,omitempty"`
}

// HasWarnings reports whether any accepted object was stored by
// replacing a duplicate.
func (r StoreResult) HasWarnings() bool {
	for _, s := range r.Stored {
		if s.Replaced {
			return true
		}
	}
	return false
}

// Status maps the aggregate outcome to its HTTP status code.
func (r StoreResult) Status() int {
	if len(r.Failed) == 0 {
		return http.StatusOK
	}
	if len(r.Stored) > 0 {
		return http.StatusAccepted
	}

	for _, f := range r.Failed {
		if f.Reason != ReasonDuplicateSOPInstance {
			return http.StatusBadRequest
		}
	}
	return http.StatusConflict
}

// Store processes the parts of one store request. pathStudyUID is the
// study UID scoped by the request path, or empty for an unscoped store.
// The returned error is reserved for cancellation; every per-part
// problem lands in the result's failed collection instead.
func (s *StoreService) Store(ctx context.Context, pathStudyUID string, parts []Part) (StoreResult, error) {
	var result StoreResult

	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("store: %w", err)
		}

		stored, failure := s.processPart(ctx, pathStudyUID, part)
		if failure != nil {
			result.Failed = append(result.Failed, *failure)
			continue
		}
		result.Stored = append(result.Stored, *stored)
	}

	return result, nil
}

// processPart runs the validation chain for one part, short-circuiting
// on the first failure.
func (s *StoreService) processPart(ctx context.Context, pathStudyUID string, part Part) (*StoredInstance, *FailureEntry) {
	info, err := s.parser.Parse(part.Data)
	if err != nil {
		slog.Debug("store: unparsable part", "err", err)
		return nil, &FailureEntry{Reason: ReasonInvalidObjectData}
	}

	fail := func(reason FailureReason) (*StoredInstance, *FailureEntry) {
		return nil, &FailureEntry{
			SOPInstanceUID: info.SOPInstanceUID,
			SOPClassUID:    info.SOPClassUID,
			Reason:         reason,
		}
	}

	if info.SOPInstanceUID == "" || info.SeriesUID == "" || info.StudyUID == "" {
		return fail(ReasonMissingAttribute)
	}

	if s.cfg.ValidateUIDs {
		if !IsValidUID(info.SOPInstanceUID) || !IsValidUID(info.SeriesUID) || !IsValidUID(info.StudyUID) {
			return fail(ReasonInvalidUIDFormat)
		}
	}

	if pathStudyUID != "" && pathStudyUID != info.StudyUID {
		return fail(ReasonStudyUIDMismatch)
	}

	if len(s.cfg.AcceptedSOPClasses) > 0 && !contains(s.cfg.AcceptedSOPClasses, info.SOPClassUID) {
		return fail(ReasonSOPClassNotSupported)
	}

	for _, tag := range s.cfg.RequiredTags {
		if !info.HasAttribute(tag) {
			return fail(ReasonMissingAttribute)
		}
	}

	key := InstanceKey{
		StudyUID:       info.StudyUID,
		SeriesUID:      info.SeriesUID,
		SOPInstanceUID: info.SOPInstanceUID,
	}

	_, err = s.repo.Get(ctx, key)
	duplicate := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fail(ReasonProcessingFailure)
	}

	if duplicate && s.cfg.DuplicatePolicy == DuplicateReject {
		return fail(ReasonDuplicateSOPInstance)
	}

	contentType := part.ContentType
	if contentType == "" {
		contentType = MediaTypeDICOM
	}

	saved, err := s.storage.Write(ctx, key.StoragePath(), bytes.NewReader(part.Data))
	if err != nil {
		slog.Error("store: write failed", "instance", key.SOPInstanceUID, "err", err)
		return fail(ReasonProcessingFailure)
	}

	entry := InstanceEntry{
		InstanceKey: key,
		SOPClassUID: info.SOPClassUID,
		PatientID:   info.PatientID,
		ContentType: contentType,
		Etag:        saved.Etag,
		SizeBytes:   saved.BytesWritten,
	}

	if _, _, err := s.repo.Upsert(ctx, entry); err != nil {
		slog.Error("store: index upsert failed", "instance", key.SOPInstanceUID, "err", err)
		return fail(ReasonProcessingFailure)
	}

	return &StoredInstance{
		SOPInstanceUID: key.SOPInstanceUID,
		SOPClassUID:    info.SOPClassUID,
		StudyUID:       key.StudyUID,
		SeriesUID:      key.SeriesUID,
		Replaced:       duplicate && s.cfg.DuplicatePolicy == DuplicateReplace,
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
