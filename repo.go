package dicomweb

import (
	"context"
	"io"
)

// InstanceRepo defines the interface for the instance metadata index.
// Implementations must handle concurrent access safely; the store pipeline
// treats the duplicate-check-then-write pair as a read-then-write race the
// backend tolerates, not one the engine synchronizes.
//
// All methods accept a context for cancellation and timeout control.
type InstanceRepo interface {
	// Get retrieves metadata for one instance by its UID triple.
	// Returns ErrNotFound if the triple is not indexed.
	Get(ctx context.Context, key InstanceKey) (InstanceMeta, error)

	// Upsert creates or updates the index entry for an instance.
	// The bool result is true when a new entry was created.
	Upsert(ctx context.Context, entry InstanceEntry) (InstanceMeta, bool, error)

	// Search runs a level-scoped query over the index. At study and
	// series level the result carries one representative row per study
	// or series.
	Search(ctx context.Context, q SearchQuery) (SearchResult, error)

	// List returns every instance under the given scope. SeriesUID may
	// be empty to list a whole study.
	List(ctx context.Context, studyUID, seriesUID string) ([]InstanceMeta, error)

	// Delete removes index entries under the given scope: a full key
	// deletes one instance, an empty SOPInstanceUID deletes a series,
	// an empty SeriesUID deletes the study. Returns ErrNotFound when
	// nothing matched.
	Delete(ctx context.Context, key InstanceKey) error
}

// WorklistRepo defines the interface for workitem persistence.
//
// Update must run the mutate closure inside the backend's transaction so
// the transaction-UID check and the write are atomic: two concurrent
// claims of the same SCHEDULED workitem must not both succeed.
type WorklistRepo interface {
	Get(ctx context.Context, uid string) (Workitem, error)
	Create(ctx context.Context, w Workitem) (Workitem, error)

	// Update loads the workitem, applies mutate under the backend's
	// write lock, and persists the result. An error from mutate aborts
	// the transaction and is returned unwrapped.
	Update(ctx context.Context, uid string, mutate func(*Workitem) error) (Workitem, error)

	Search(ctx context.Context, q WorkitemQuery) (WorkitemResult, error)
	Count(ctx context.Context, q WorkitemQuery) (int, error)
}

// FileStorage defines the interface for instance payload blobs.
// Implementations can use local filesystem, S3, GCS, or any other backend.
type FileStorage interface {
	// Get retrieves a blob for reading. The caller closes the returned
	// reader. Returns ErrNotFound if the blob does not exist.
	Get(ctx context.Context, path string) (io.ReadSeekCloser, error)

	// Write stores content at the given path, overwriting any existing
	// blob. Implementations should write atomically and compute an etag
	// over the content.
	Write(ctx context.Context, path string, content io.Reader) (SaveResult, error)

	// Delete removes a blob. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, path string) error
}

// SaveResult reports the outcome of a blob write.
type SaveResult struct {
	BytesWritten int64
	Etag         string
}

// ObjectParser parses one uploaded object into its identifying view.
// Binary DICOM parsing is an external concern; the dicomjson package
// implements this interface for the DICOM JSON model.
type ObjectParser interface {
	Parse(data []byte) (ObjectInfo, error)
}

// Renderer produces consumer representations of stored objects. It is an
// optional collaborator; when absent the rendered, thumbnail and frame
// operations are answered 406.
type Renderer interface {
	Rendered(ctx context.Context, key InstanceKey, accept string) (contentType string, data []byte, err error)
	Thumbnail(ctx context.Context, key InstanceKey) (contentType string, data []byte, err error)
	Frames(ctx context.Context, key InstanceKey, frames []int) (contentType string, data []byte, err error)
}
