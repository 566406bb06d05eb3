//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groundplane/groundplane/internal/api/handlers"
	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/extract"
	"github.com/groundplane/groundplane/internal/jobs"
	"github.com/groundplane/groundplane/internal/openai"
	"github.com/groundplane/groundplane/internal/repository"
	"github.com/groundplane/groundplane/internal/server"
	"github.com/groundplane/groundplane/internal/service"
	"github.com/groundplane/groundplane/internal/storage"
	"github.com/groundplane/groundplane/internal/testutil"
	"github.com/groundplane/groundplane/internal/vector"
)

// embedDims keeps the vector column small so tests stay fast.
const embedDims = 8

// hashEmbedder derives a deterministic unit vector from the text content, so
// the full ingest and retrieval path runs without any external embedding API.
// Identical text maps to identical vectors; the pipeline behavior under test
// does not depend on semantic similarity.
type hashEmbedder struct{}

func (hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func (hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return hashVector(text), nil
}

func (hashEmbedder) Dimensions() int { return embedDims }

func hashVector(text string) []float32 {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	vec := make([]float32, embedDims)
	var norm float64
	for i := range vec {
		vec[i] = float32(int8(sum[i]))
		norm += float64(vec[i]) * float64(vec[i])
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

// scriptedCompleter stands in for the chat model; it always returns the same
// reply so assertions stay deterministic.
type scriptedCompleter struct {
	reply string
}

func (c scriptedCompleter) Complete(_ context.Context, _ []openai.ChatMessage) (string, error) {
	return c.reply, nil
}

// E2ETestEnv holds all resources needed for E2E tests.
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	TenantID     string
	AuthToken    string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts the backing containers, runs migrations, boots an
// in-process server wired with deterministic embedding and chat fakes, and
// provisions a tenant with one API key.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "e2e-knowledge",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to ensure bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	closer := startServer(ctx, t, pool, s3Client, port)

	if err := waitForServer(serverURL + "/health"); err != nil {
		closer()
		t.Fatalf("server did not become ready: %v", err)
	}

	env := &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: closer,
		S3Client:     s3Client,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
	env.bootstrap()
	return env
}

// Cleanup tears down the server and both containers.
func (env *E2ETestEnv) Cleanup() {
	if env.ServerCloser != nil {
		env.ServerCloser()
	}
	if env.Pool != nil {
		env.Pool.Close()
	}
	if env.PostgresC != nil {
		_ = env.PostgresC.Terminate(env.Ctx)
	}
	if env.RustFSC != nil {
		_ = env.RustFSC.Terminate(env.Ctx)
	}
}

// startServer assembles the whole service graph in-process: real repositories
// and vector store on the test containers, fake embedding and chat providers,
// and a background worker so queued jobs actually run.
func startServer(ctx context.Context, t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, port int) func() {
	tenantRepo := repository.NewTenantRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	agentRepo := repository.NewAgentRepository(pool)
	sourceRepo := repository.NewSourceRepository(pool)
	jobRepo := repository.NewIngestJobRepository(pool)
	usageRepo := repository.NewUsageRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	store := vector.NewStore(pool, embedDims)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to ensure vector schema: %v", err)
	}

	embedder := hashEmbedder{}
	fetcher := extract.NewFetcher(5 * time.Second)
	// Small chunks so modest documents split into several chunks.
	chunkCfg := service.ChunkConfig{Size: 200, Overlap: 40}

	ingestSvc := service.NewIngestService(sourceRepo, jobRepo, agentRepo, usageRepo,
		s3Client, store, embedder, fetcher, chunkCfg)

	dispatcher, err := jobs.NewDispatcher(jobRepo, ingestSvc, 2)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	sweeper := jobs.NewSweeper(jobRepo, ingestSvc, 0)
	worker := jobs.NewWorker(sweeper, 250*time.Millisecond)
	go worker.Start(ctx)

	quota := service.NewQuotaPolicy(
		domain.QuotaLimits{StorageBytes: 1 << 20, Files: 3},
		domain.QuotaLimits{StorageBytes: 100 << 20, Files: 100},
		domain.QuotaLimits{StorageBytes: 1 << 30, Files: 1000},
	)
	sessions := service.NewSessionCache(time.Minute)

	sourceSvc := service.NewSourceService(sourceRepo, jobRepo, agentRepo, tenantRepo,
		usageRepo, s3Client, store, quota, dispatcher, txRunner)
	agentSvc := service.NewAgentService(agentRepo, sourceRepo, usageRepo, store, s3Client, sessions)
	retrievalSvc := service.NewRetrievalService(store, embedder, 4000)
	chatSvc := service.NewChatService(agentRepo, retrievalSvc,
		scriptedCompleter{reply: "You can return any item within 30 days."}, sessions)
	authSvc := service.NewAuthService(tenantRepo, apiKeyRepo, &service.DefaultUUIDGenerator{})

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:    authSvc,
		AgentHandler:     handlers.NewAgentHandler(agentSvc),
		KnowledgeHandler: handlers.NewKnowledgeHandler(sourceSvc),
		ChatHandler:      handlers.NewChatHandler(chatSvc, retrievalSvc, agentSvc),
		UsageHandler:     handlers.NewUsageHandler(usageRepo),
		AuthHandler:      handlers.NewAuthHandler(authSvc),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	return func() {
		worker.Stop()
		dispatcher.Release()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

// bootstrap provisions the tenant and API key every authenticated request
// in the suite uses.
func (env *E2ETestEnv) bootstrap() {
	var tenant struct {
		ID string `json:"id"`
	}
	resp := env.Post("/tenants", "", map[string]string{
		"name": "E2E Test Tenant",
		"tier": "paid",
	})
	env.decodeData(resp, &tenant)
	env.TenantID = tenant.ID

	var key struct {
		Token string `json:"token"`
	}
	resp = env.Post("/apikeys", "", map[string]string{
		"tenant_id": tenant.ID,
		"name":      "e2e",
	})
	env.decodeData(resp, &key)
	env.AuthToken = key.Token
}

// APIResponse is the standard envelope every endpoint wraps its payload in.
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs an authenticated GET request.
func (env *E2ETestEnv) Get(path, token string) *APIResponse {
	return env.doRequest(http.MethodGet, path, token, nil, "")
}

// Post performs an authenticated POST request with a JSON body.
func (env *E2ETestEnv) Post(path, token string, body interface{}) *APIResponse {
	return env.doRequest(http.MethodPost, path, token, body, "application/json")
}

// Put performs an authenticated PUT request with a JSON body.
func (env *E2ETestEnv) Put(path, token string, body interface{}) *APIResponse {
	return env.doRequest(http.MethodPut, path, token, body, "application/json")
}

// Delete performs an authenticated DELETE request.
func (env *E2ETestEnv) Delete(path, token string) *APIResponse {
	return env.doRequest(http.MethodDelete, path, token, nil, "")
}

func (env *E2ETestEnv) doRequest(method, path, token string, body interface{}, contentType string) *APIResponse {
	env.T.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			env.T.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, env.ServerURL+path, reader)
	if err != nil {
		env.T.Fatalf("failed to create request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.HTTPClient.Do(req)
	if err != nil {
		env.T.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		env.T.Fatalf("failed to read response body: %v", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		env.T.Fatalf("failed to decode response (%d): %s", resp.StatusCode, raw)
	}
	if resp.StatusCode >= 400 {
		env.T.Fatalf("%s %s returned %d: %s", method, path, resp.StatusCode, apiResp.Error)
	}
	return &apiResp
}

// UploadFile posts a multipart file to POST /knowledge.
func (env *E2ETestEnv) UploadFile(token, agentID, filename string, content []byte) *APIResponse {
	env.T.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("agent_id", agentID); err != nil {
		env.T.Fatalf("failed to write agent_id field: %v", err)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		env.T.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		env.T.Fatalf("failed to write file content: %v", err)
	}
	if err := w.Close(); err != nil {
		env.T.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, env.ServerURL+"/knowledge", &buf)
	if err != nil {
		env.T.Fatalf("failed to create upload request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := env.HTTPClient.Do(req)
	if err != nil {
		env.T.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		env.T.Fatalf("failed to read upload response: %v", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		env.T.Fatalf("failed to decode upload response (%d): %s", resp.StatusCode, raw)
	}
	if resp.StatusCode >= 400 {
		env.T.Fatalf("upload returned %d: %s", resp.StatusCode, apiResp.Error)
	}
	return &apiResp
}

// decodeData unmarshals the envelope payload into out.
func (env *E2ETestEnv) decodeData(resp *APIResponse, out interface{}) {
	env.T.Helper()
	if err := json.Unmarshal(resp.Data, out); err != nil {
		env.T.Fatalf("failed to decode response data: %v (%s)", err, resp.Data)
	}
}

// sourceStatus mirrors the GET /knowledge/{id} payload.
type sourceStatus struct {
	Source struct {
		ID         string `json:"id"`
		AgentID    string `json:"agent_id"`
		Kind       string `json:"kind"`
		Title      string `json:"title"`
		RawBytes   int64  `json:"raw_bytes"`
		ChunkCount *int   `json:"chunk_count"`
		Status     string `json:"status"`
	} `json:"source"`
	LatestJob *struct {
		ID       string `json:"id"`
		SourceID string `json:"source_id"`
		State    string `json:"state"`
		Error    string `json:"error,omitempty"`
	} `json:"latest_job"`
}

// WaitForSourceSettled polls GET /knowledge/{id} until the source leaves the
// pending state or the deadline passes, and returns the final status payload.
func (env *E2ETestEnv) WaitForSourceSettled(token, sourceID string, timeout time.Duration) *sourceStatus {
	env.T.Helper()

	deadline := time.Now().Add(timeout)
	for {
		var status sourceStatus
		resp := env.Get("/knowledge/"+sourceID, token)
		env.decodeData(resp, &status)
		if status.Source.Status != "pending" {
			return &status
		}
		if time.Now().After(deadline) {
			env.T.Fatalf("source %s still pending after %v", sourceID, timeout)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// CountChunks counts stored vectors for a namespace directly in the database.
func (env *E2ETestEnv) CountChunks(namespace string) int {
	env.T.Helper()
	var count int
	err := env.Pool.QueryRow(env.Ctx,
		"SELECT COUNT(*) FROM source_chunks WHERE namespace = $1", namespace).Scan(&count)
	if err != nil {
		env.T.Fatalf("failed to count chunks: %v", err)
	}
	return count
}

func getFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitForServer(healthURL string) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get(healthURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("server at %s not ready", healthURL)
}
