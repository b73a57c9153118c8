// Package http provides the HTTP surface of the dicomweb protocol engine.
//
// A pure routing table maps method plus path to a protocol operation,
// and a single dispatch handler drives authentication, authorization and
// the operation handlers. Transfer compression is a transparent
// middleware around the whole surface.
//
// # Features
//
//   - Ordered pattern table routing with literal-before-variable precedence
//   - Bearer token authentication with distinct 401 reasons per failure
//   - Role and scope authorization via auth.Policy
//   - Store responses with partial-success status selection
//   - gzip and deflate transfer compression for requests and responses
//   - JSON error responses
//   - Configurable CORS support
//
// # Routing
//
// Router.Match resolves a request to a RouteMatch without side effects:
//
//	router := http.NewRouter("/dicom-web")
//	match, ok := router.Match("GET", "/dicom-web/studies/1.2.3/metadata")
//	// match.Op == dicomweb.OpRetrieveStudyMetadata
//	// match.Params["study"] == "1.2.3"
//
// # Usage
//
// Create a handler with HandlerConfig and the protocol services:
//
//	handlerCfg := http.HandlerConfig{
//	    PathPrefix:    "/dicom-web",
//	    MaxUploadSize: 512 << 20,
//	    Verifier:      verifier, // nil disables authentication
//	    Policy:        policy,
//	}
//	handler := http.NewHandler(&handlerCfg, storeSvc, studySvc, workitemSvc)
//
//	server := http.NewServer(":8080", handler.Router())
//	go server.Start()
//	...
//	server.Stop(ctx)
//
// The store, study and workitem services are consumed through the
// StoreService, StudyService and WorkitemService interfaces so tests can
// substitute doubles.
//
// # Compression
//
// CompressionMiddleware negotiates Accept-Encoding with q-values,
// inflates compressed request bodies, and compresses responses only when
// the encoded form is strictly smaller than the identity form.
package http
