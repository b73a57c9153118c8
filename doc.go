// Package dicomweb implements the server side of the DICOMweb protocol
// suite (PS3.18): QIDO-RS search, WADO-RS retrieve, STOW-RS store and
// UPS-RS worklist operations over pluggable storage backends.
//
// The package holds the domain model and the protocol engines; transport
// and persistence live in sub-packages.
//
// # Key Components
//
//   - StoreService: STOW pipeline with per-part validation, duplicate
//     policy and partial-success aggregation
//   - StudyService: search/retrieve/delete over the instance index and
//     blob storage
//   - WorkitemService: UPS worklist state machine with transaction-UID
//     locking
//   - InstanceRepo / WorklistRepo: metadata persistence interfaces
//     (PostgreSQL, SQLite implementations under database/)
//   - FileStorage: payload blob interface (filesystem, extensible to
//     S3/GCS)
//   - ObjectParser: uploaded-object parsing collaborator (DICOM JSON
//     model implementation in dicomjson/)
//
// # Example Usage
//
//	store, err := dicomweb.NewStoreService(repo, storage, parser, dicomweb.StoreConfig{
//	    ValidateUIDs:    true,
//	    DuplicatePolicy: dicomweb.DuplicateReject,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	parts, err := dicomweb.SplitParts(contentType, body)
//	result, err := store.Store(ctx, "", parts)
//
// See the http package for the REST surface, the auth package for the
// bearer-token model, and the database packages for index backends.
package dicomweb
