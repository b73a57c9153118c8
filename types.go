package dicomweb

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InstanceKey identifies one stored SOP instance. Identity is the UID
// triple only; stored content is never part of it.
type InstanceKey struct {
	StudyUID       string `json:"study_uid"`
	SeriesUID      string `json:"series_uid"`
	SOPInstanceUID string `json:"sop_instance_uid"`
}

// StoragePath returns the blob path for this instance.
func (k InstanceKey) StoragePath() string {
	return k.StudyUID + "/" + k.SeriesUID + "/" + k.SOPInstanceUID
}

type InstanceMeta struct {
	ID uuid.UUID `json:"id"`
	InstanceKey
	SOPClassUID string    `json:"sop_class_uid"`
	PatientID   string    `json:"patient_id,omitempty"`
	ContentType string    `json:"content_type"`
	Etag        string    `json:"etag"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InstanceEntry is the write-side shape passed to InstanceRepo.Upsert.
type InstanceEntry struct {
	InstanceKey
	SOPClassUID string
	PatientID   string
	ContentType string
	Etag        string
	SizeBytes   int64
}

// ObjectInfo is the parsed view of one uploaded object: the identifying
// UIDs plus a keyword-indexed attribute map for tag-presence checks.
type ObjectInfo struct {
	SOPInstanceUID string
	SOPClassUID    string
	SeriesUID      string
	StudyUID       string
	PatientID      string
	Attributes     map[string]string
}

// HasAttribute reports whether the named attribute is present with a
// non-empty value. UID fields are addressed by their standard keywords.
func (o ObjectInfo) HasAttribute(keyword string) bool {
	switch keyword {
	case "SOPInstanceUID":
		return o.SOPInstanceUID != ""
	case "SOPClassUID":
		return o.SOPClassUID != ""
	case "SeriesInstanceUID":
		return o.SeriesUID != ""
	case "StudyInstanceUID":
		return o.StudyUID != ""
	case "PatientID":
		return o.PatientID != ""
	}
	return o.Attributes[keyword] != ""
}

// FailureReason is the numeric reason code attached to a rejected object.
// Values follow the DICOM PS3.18 status vocabulary where one exists.
type FailureReason uint16

const (
	ReasonProcessingFailure    FailureReason = 0x0110
	ReasonDuplicateSOPInstance FailureReason = 0x0111
	ReasonSOPClassNotSupported FailureReason = 0x0122
	ReasonInvalidUIDFormat     FailureReason = 0x0106
	ReasonMissingAttribute     FailureReason = 0x0120
	ReasonStudyUIDMismatch     FailureReason = 0xA900
	ReasonInvalidObjectData    FailureReason = 0xC000
)

// StoredInstance is one accepted object in a store response.
type StoredInstance struct {
	SOPInstanceUID string `json:"sop_instance_uid"`
	SOPClassUID    string `json:"sop_class_uid"`
	StudyUID       string `json:"study_uid"`
	SeriesUID      string `json:"series_uid"`
	RetrieveURL    string `json:"retrieve_url,omitempty"`
	// Replaced marks an overwrite recorded under the replace policy.
	Replaced bool `json:"-"`
}

// FailureEntry is one rejected object in a store response.
type FailureEntry struct {
	SOPInstanceUID string        `json:"sop_instance_uid,omitempty"`
	SOPClassUID    string        `json:"sop_class_uid,omitempty"`
	Reason         FailureReason `json:"failure_reason"`
}

// DuplicatePolicy controls how an upload of an already-stored instance
// key is handled.
type DuplicatePolicy string

const (
	// DuplicateReject records a duplicate failure and leaves the stored
	// object untouched.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateReplace overwrites and reports the instance as stored
	// with a warning.
	DuplicateReplace DuplicatePolicy = "replace"
	// DuplicateAccept overwrites silently.
	DuplicateAccept DuplicatePolicy = "accept"
)

func (p DuplicatePolicy) IsValid() bool {
	switch p {
	case DuplicateReject, DuplicateReplace, DuplicateAccept:
		return true
	default:
		return false
	}
}

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	policy := DuplicatePolicy(s)
	if !policy.IsValid() {
		return "", fmt.Errorf("invalid duplicate policy: %s (valid policies: reject, replace, accept)", s)
	}
	return policy, nil
}

// QueryLevel selects the resource level a search runs at.
type QueryLevel string

const (
	LevelStudy    QueryLevel = "study"
	LevelSeries   QueryLevel = "series"
	LevelInstance QueryLevel = "instance"
)

// SearchQuery is a QIDO-style search over the instance index.
type SearchQuery struct {
	Level     QueryLevel
	StudyUID  string
	SeriesUID string
	PatientID string
	Limit     int
	Offset    int
}

type SearchResult struct {
	Items []InstanceMeta `json:"items"`
	Total int            `json:"total"`
}

// WorkitemQuery filters worklist searches.
type WorkitemQuery struct {
	State     WorkitemState
	PatientID string
	StudyUID  string
	Label     string
	Limit     int
	Offset    int
}

type WorkitemResult struct {
	Items []Workitem `json:"items"`
	Total int        `json:"total"`
}

// Operation is the closed set of protocol operations the router can
// resolve to. It is shared by the router and the access policy.
type Operation string

const (
	OpCapabilities Operation = "capabilities"

	OpSearchStudies   Operation = "search-studies"
	OpSearchSeries    Operation = "search-series"
	OpSearchInstances Operation = "search-instances"

	OpRetrieveStudy            Operation = "retrieve-study"
	OpRetrieveStudyMetadata    Operation = "retrieve-study-metadata"
	OpRetrieveStudyRendered    Operation = "retrieve-study-rendered"
	OpRetrieveStudyThumbnail   Operation = "retrieve-study-thumbnail"
	OpRetrieveSeries           Operation = "retrieve-series"
	OpRetrieveSeriesMetadata   Operation = "retrieve-series-metadata"
	OpRetrieveSeriesRendered   Operation = "retrieve-series-rendered"
	OpRetrieveSeriesThumbnail  Operation = "retrieve-series-thumbnail"
	OpRetrieveInstance         Operation = "retrieve-instance"
	OpRetrieveInstanceMetadata Operation = "retrieve-instance-metadata"
	OpRetrieveInstanceRendered Operation = "retrieve-instance-rendered"
	OpRetrieveInstanceThumb    Operation = "retrieve-instance-thumbnail"
	OpRetrieveFrames           Operation = "retrieve-frames"

	OpStore          Operation = "store"
	OpDeleteStudy    Operation = "delete-study"
	OpDeleteSeries   Operation = "delete-series"
	OpDeleteInstance Operation = "delete-instance"

	OpSearchWorkitems  Operation = "search-workitems"
	OpCreateWorkitem   Operation = "create-workitem"
	OpRetrieveWorkitem Operation = "retrieve-workitem"
	OpUpdateWorkitem   Operation = "update-workitem"
	OpChangeState      Operation = "change-state"
	OpRequestCancel    Operation = "request-cancel"
)

// IsPublic reports whether the operation is reachable without any
// credential regardless of policy.
func (op Operation) IsPublic() bool {
	return op == OpCapabilities
}

// IsRead classifies query and retrieval operations.
func (op Operation) IsRead() bool {
	switch op {
	case OpCapabilities,
		OpSearchStudies, OpSearchSeries, OpSearchInstances,
		OpRetrieveStudy, OpRetrieveStudyMetadata, OpRetrieveStudyRendered, OpRetrieveStudyThumbnail,
		OpRetrieveSeries, OpRetrieveSeriesMetadata, OpRetrieveSeriesRendered, OpRetrieveSeriesThumbnail,
		OpRetrieveInstance, OpRetrieveInstanceMetadata, OpRetrieveInstanceRendered, OpRetrieveInstanceThumb,
		OpRetrieveFrames,
		OpSearchWorkitems, OpRetrieveWorkitem:
		return true
	default:
		return false
	}
}

// IsWrite classifies mutating operations.
func (op Operation) IsWrite() bool {
	return !op.IsRead()
}

// Resource names the target of an operation for policy decisions.
type Resource struct {
	StudyUID    string
	PatientID   string
	WorkitemUID string
}
