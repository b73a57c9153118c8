package dicomweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// StudyService combines the instance index and blob storage for the
// search, retrieve and delete service families.
type StudyService struct {
	repo    InstanceRepo
	storage FileStorage
}

func NewStudyService(repo InstanceRepo, storage FileStorage) *StudyService {
	return &StudyService{repo: repo, storage: storage}
}

// Retrieve returns the metadata and payload reader for one instance.
// The caller closes the reader.
func (s *StudyService) Retrieve(ctx context.Context, key InstanceKey) (InstanceMeta, io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return InstanceMeta{}, nil, fmt.Errorf("retrieve instance: %w", err)
	}

	meta, err := s.repo.Get(ctx, key)
	if err != nil {
		return InstanceMeta{}, nil, fmt.Errorf("retrieve instance: %w", err)
	}

	f, err := s.storage.Get(ctx, key.StoragePath())
	if err != nil {
		return InstanceMeta{}, nil, fmt.Errorf("retrieve instance: %w", err)
	}

	return meta, f, nil
}

// Instances lists the stored instances under a study or study+series
// scope, for building multipart retrieve and metadata responses.
func (s *StudyService) Instances(ctx context.Context, studyUID, seriesUID string) ([]InstanceMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	items, err := s.repo.List(ctx, studyUID, seriesUID)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("list instances: %w", ErrNotFound)
	}
	return items, nil
}

// Metadata assembles the DICOM JSON datasets for the instances under
// the requested scope. Stored dicom+json payloads are re-served as
// written; binary instances yield a dataset synthesized from the index
// row.
func (s *StudyService) Metadata(ctx context.Context, studyUID, seriesUID, instanceUID string) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	items, err := s.repo.List(ctx, studyUID, seriesUID)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	datasets := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		if instanceUID != "" && item.SOPInstanceUID != instanceUID {
			continue
		}

		dataset, err := s.loadDataset(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("metadata '%s': %w", item.SOPInstanceUID, err)
		}
		datasets = append(datasets, dataset)
	}

	if len(datasets) == 0 {
		return nil, fmt.Errorf("metadata: %w", ErrNotFound)
	}
	return datasets, nil
}

func (s *StudyService) loadDataset(ctx context.Context, meta InstanceMeta) (json.RawMessage, error) {
	if meta.ContentType != MediaTypeDICOMJSON {
		return indexDataset(meta), nil
	}

	f, err := s.storage.Get(ctx, meta.StoragePath())
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, errors.New("stored dataset is not valid json")
	}
	return data, nil
}

// indexDataset renders the identifying attributes of an instance in the
// DICOM JSON model when no stored dataset exists for it.
func indexDataset(meta InstanceMeta) json.RawMessage {
	dataset := map[string]any{
		"00080016": uidAttribute(meta.SOPClassUID),
		"00080018": uidAttribute(meta.SOPInstanceUID),
		"0020000D": uidAttribute(meta.StudyUID),
		"0020000E": uidAttribute(meta.SeriesUID),
	}
	if meta.PatientID != "" {
		dataset["00100020"] = map[string]any{"vr": "LO", "Value": []string{meta.PatientID}}
	}

	data, _ := json.Marshal(dataset)
	return data
}

func uidAttribute(value string) map[string]any {
	return map[string]any{"vr": "UI", "Value": []string{value}}
}

func (s *StudyService) Search(ctx context.Context, q SearchQuery) (SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return SearchResult{}, fmt.Errorf("search: %w", err)
	}

	result, err := s.repo.Search(ctx, q)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search: %w", err)
	}
	return result, nil
}

// Delete removes the index entries and payload blobs under the scope
// named by key (full key, series, or whole study). A blob already gone
// from storage is tolerated; the index row still goes away.
func (s *StudyService) Delete(ctx context.Context, key InstanceKey) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	if key.StudyUID == "" {
		return fmt.Errorf("delete: %w: study uid cannot be empty", ErrInvalidInput)
	}

	items, err := s.repo.List(ctx, key.StudyUID, key.SeriesUID)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	deleted := 0
	for _, item := range items {
		if key.SOPInstanceUID != "" && item.SOPInstanceUID != key.SOPInstanceUID {
			continue
		}

		if delErr := s.storage.Delete(ctx, item.StoragePath()); delErr != nil && !errors.Is(delErr, ErrNotFound) {
			return fmt.Errorf("delete '%s': %w", item.SOPInstanceUID, delErr)
		}
		deleted++
	}

	if deleted == 0 {
		return fmt.Errorf("delete: %w", ErrNotFound)
	}

	if err := s.repo.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	return nil
}
