package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/axisimaging/dicomweb"
	"github.com/axisimaging/dicomweb/auth"
	"github.com/axisimaging/dicomweb/database"
	"github.com/axisimaging/dicomweb/dicomjson"
	"github.com/axisimaging/dicomweb/filesystem"
	dicomhttp "github.com/axisimaging/dicomweb/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the DICOMweb HTTP server.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8042, "HTTP server port")
	serveCmd.Flags().String("path-prefix", "", "URL prefix the service is mounted under")
	serveCmd.Flags().String("duplicate-policy", "reject", "handling of re-stored instances (reject, replace, accept)")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.path_prefix", serveCmd.Flags().Lookup("path-prefix"))
	_ = viper.BindPFlag("store.duplicate_policy", serveCmd.Flags().Lookup("duplicate-policy"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	dbCfg := database.Config{
		Type: viper.GetString("database.type"),
		DSN:  viper.GetString("database.dsn"),
	}

	repos, closeDB, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer closeDB()

	slog.Info("connected to database", "type", dbCfg.Type)

	storagePath := viper.GetString("storage.path")
	err = os.MkdirAll(storagePath, 0o750)
	if err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}

	root, err := os.OpenRoot(storagePath)
	if err != nil {
		return fmt.Errorf("open storage root: %w", err)
	}
	defer func() { _ = root.Close() }()

	storage := filesystem.NewFileStorage(root)

	policy, err := dicomweb.ParseDuplicatePolicy(viper.GetString("store.duplicate_policy"))
	if err != nil {
		return fmt.Errorf("parse duplicate policy: %w", err)
	}

	storeCfg := dicomweb.StoreConfig{
		ValidateUIDs:       viper.GetBool("store.validate_uids"),
		AcceptedSOPClasses: viper.GetStringSlice("store.accepted_sop_classes"),
		RequiredTags:       viper.GetStringSlice("store.required_tags"),
		DuplicatePolicy:    policy,
	}

	storeService, err := dicomweb.NewStoreService(repos.Instances, storage, dicomjson.New(), storeCfg)
	if err != nil {
		return fmt.Errorf("create store service: %w", err)
	}

	studyService := dicomweb.NewStudyService(repos.Instances, storage)
	workitemService := dicomweb.NewWorkitemService(repos.Worklist)

	var verifier auth.TokenVerifier
	var accessPolicy *auth.Policy
	if viper.GetBool("auth.enabled") {
		keys := getSigningKeys()
		verifier = auth.NewHMACVerifier(auth.VerifierConfig{
			Issuer:         viper.GetString("auth.issuer"),
			Audience:       viper.GetString("auth.audience"),
			RequiredClaims: viper.GetStringSlice("auth.required_claims"),
		}, func(keyID string) ([]byte, bool) {
			if secret, ok := keys[keyID]; ok {
				return []byte(secret), true
			}
			secret, ok := keys["default"]
			return []byte(secret), ok
		})
		accessPolicy = auth.NewPolicy(auth.PolicyConfig{
			AnonymousRead: viper.GetBool("auth.anonymous_read"),
		})
		slog.Info("authentication enabled", "keys", len(keys))
	}

	corsConfig := dicomhttp.CORSConfig{
		Enabled:          viper.GetBool("cors.enabled"),
		AllowedOrigins:   viper.GetStringSlice("cors.allowed_origins"),
		AllowedMethods:   viper.GetStringSlice("cors.allowed_methods"),
		AllowedHeaders:   viper.GetStringSlice("cors.allowed_headers"),
		ExposedHeaders:   viper.GetStringSlice("cors.exposed_headers"),
		AllowCredentials: viper.GetBool("cors.allow_credentials"),
		MaxAge:           viper.GetInt("cors.max_age"),
	}

	compressionConfig := dicomhttp.CompressionConfig{
		Enabled:           viper.GetBool("compression.enabled"),
		Algorithms:        viper.GetStringSlice("compression.algorithms"),
		MinSize:           viper.GetInt("compression.min_size"),
		CompressibleTypes: viper.GetStringSlice("compression.compressible_types"),
		ExcludedTypes:     viper.GetStringSlice("compression.excluded_types"),
	}

	handlerConfig := dicomhttp.HandlerConfig{
		PathPrefix:    viper.GetString("server.path_prefix"),
		MaxUploadSize: viper.GetInt64("server.max_upload_size"),
		Verifier:      verifier,
		Policy:        accessPolicy,
		CORS:          corsConfig,
		Compression:   compressionConfig,
	}

	handler := dicomhttp.NewHandler(&handlerConfig, storeService, studyService, workitemService)

	port := viper.GetInt("server.port")
	addr := fmt.Sprintf(":%d", port)
	server := dicomhttp.NewServer(addr, handler.Router())

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Stop(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
		cancel()
	}()

	slog.Info("starting server", "addr", addr, "prefix", handlerConfig.PathPrefix)
	if err := server.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func getSigningKeys() map[string]string {
	keys := viper.GetStringMapString("auth.keys")
	if keys == nil {
		keys = make(map[string]string)
	}
	return keys
}
