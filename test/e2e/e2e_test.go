//go:build e2e

package e2e

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundplane/groundplane/internal/domain"
)

const settleTimeout = 20 * time.Second

type agentPayload struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Instructions     string `json:"instructions"`
	RetrievalEnabled bool   `json:"retrieval_enabled"`
	RetrievalTopK    int    `json:"retrieval_top_k"`
}

func createAgent(t *testing.T, env *E2ETestEnv, name string) *agentPayload {
	t.Helper()
	var agent agentPayload
	resp := env.Post("/agents", env.AuthToken, map[string]string{
		"name":         name,
		"instructions": "Answer from the knowledge base.",
	})
	env.decodeData(resp, &agent)
	require.NotEmpty(t, agent.ID)
	return &agent
}

// TestE2E_TextIngest walks a pasted-text source through the full pipeline:
// queued job, background ingestion, vectors in the store, retrieval and chat
// on top of them.
func TestE2E_TextIngest(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	agent := createAgent(t, env, "Support Bot")
	namespace := domain.NamespaceFor(env.TenantID, agent.ID)

	var sourceID string

	t.Run("pasted text becomes a ready source", func(t *testing.T) {
		var created sourceStatus
		resp := env.Post("/knowledge", env.AuthToken, map[string]string{
			"agent_id": agent.ID,
			"title":    "Refund policy",
			"content":  "Customers can return any item within 30 days for a full refund.",
		})
		env.decodeData(resp, &created)
		require.Equal(t, "pending", created.Source.Status)
		require.NotNil(t, created.LatestJob)
		sourceID = created.Source.ID

		status := env.WaitForSourceSettled(env.AuthToken, sourceID, settleTimeout)
		require.Equal(t, "ready", status.Source.Status)
		require.NotNil(t, status.Source.ChunkCount)
		assert.Equal(t, 1, *status.Source.ChunkCount)
		require.NotNil(t, status.LatestJob)
		assert.Equal(t, "succeeded", status.LatestJob.State)
		assert.Empty(t, status.LatestJob.Error)

		assert.Equal(t, 1, env.CountChunks(namespace))
	})

	t.Run("extracted content is readable back", func(t *testing.T) {
		var body struct {
			Content string `json:"content"`
		}
		resp := env.Get("/knowledge/"+sourceID+"/content", env.AuthToken)
		env.decodeData(resp, &body)
		assert.Contains(t, body.Content, "30 days")
	})

	t.Run("usage reflects the upload", func(t *testing.T) {
		var usage struct {
			TotalFiles     int   `json:"total_files"`
			TotalSizeBytes int64 `json:"total_size_bytes"`
			TotalChunks    int   `json:"total_chunks"`
		}
		resp := env.Get("/usage", env.AuthToken)
		env.decodeData(resp, &usage)
		assert.Equal(t, 1, usage.TotalFiles)
		assert.Greater(t, usage.TotalSizeBytes, int64(0))
		assert.Equal(t, 1, usage.TotalChunks)
	})

	t.Run("retrieve returns the stored chunk", func(t *testing.T) {
		var result struct {
			Context string `json:"context"`
			Matches []struct {
				SourceID string  `json:"source_id"`
				Text     string  `json:"text"`
				Score    float64 `json:"score"`
			} `json:"matches"`
		}
		resp := env.Post("/agents/"+agent.ID+"/retrieve", env.AuthToken, map[string]string{
			"query": "what is the refund policy",
		})
		env.decodeData(resp, &result)
		require.NotEmpty(t, result.Matches)
		assert.Equal(t, sourceID, result.Matches[0].SourceID)
		assert.Contains(t, result.Context, "30 days")
	})

	t.Run("chat uses retrieved context", func(t *testing.T) {
		var reply struct {
			Reply        string `json:"reply"`
			ContextUsed  bool   `json:"context_used"`
			MatchedCount int    `json:"matched_count"`
		}
		resp := env.Post("/agents/"+agent.ID+"/chat", env.AuthToken, map[string]string{
			"session_id": "e2e-session-1",
			"message":    "can I return an item?",
		})
		env.decodeData(resp, &reply)
		assert.Equal(t, "You can return any item within 30 days.", reply.Reply)
		assert.True(t, reply.ContextUsed)
		assert.GreaterOrEqual(t, reply.MatchedCount, 1)
	})
}

// TestE2E_FileUploadAndDelete uploads a multi-chunk text file, reindexes it,
// then deletes the source and finally the agent, checking the vector
// namespace and usage counters settle back.
func TestE2E_FileUploadAndDelete(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	agent := createAgent(t, env, "Docs Bot")
	namespace := domain.NamespaceFor(env.TenantID, agent.ID)

	// Long enough to split into several chunks at the test chunk size.
	var doc strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&doc, "Section %d covers shipping rules for region %d in detail. ", i, i)
		doc.WriteString("Orders ship within two business days and tracking is emailed on dispatch.\n\n")
	}

	var sourceID string
	var firstChunks int

	t.Run("uploaded file splits into multiple chunks", func(t *testing.T) {
		var created sourceStatus
		resp := env.UploadFile(env.AuthToken, agent.ID, "shipping.txt", []byte(doc.String()))
		env.decodeData(resp, &created)
		require.Equal(t, "upload_txt", created.Source.Kind)
		sourceID = created.Source.ID

		status := env.WaitForSourceSettled(env.AuthToken, sourceID, settleTimeout)
		require.Equal(t, "ready", status.Source.Status)
		require.NotNil(t, status.Source.ChunkCount)
		firstChunks = *status.Source.ChunkCount
		assert.Greater(t, firstChunks, 1)
		assert.Equal(t, firstChunks, env.CountChunks(namespace))
	})

	t.Run("download URL is issued for the raw file", func(t *testing.T) {
		var body struct {
			DownloadURL string `json:"download_url"`
		}
		resp := env.Get("/knowledge/"+sourceID+"/download", env.AuthToken)
		env.decodeData(resp, &body)
		assert.Contains(t, body.DownloadURL, "http")
	})

	t.Run("reindex replaces vectors without duplication", func(t *testing.T) {
		var job struct {
			ID    string `json:"id"`
			State string `json:"state"`
		}
		resp := env.Post("/knowledge/"+sourceID+"/reindex", env.AuthToken, nil)
		env.decodeData(resp, &job)
		require.NotEmpty(t, job.ID)

		status := env.WaitForSourceSettled(env.AuthToken, sourceID, settleTimeout)
		require.Equal(t, "ready", status.Source.Status)
		require.NotNil(t, status.Source.ChunkCount)
		assert.Equal(t, firstChunks, *status.Source.ChunkCount)
		assert.Equal(t, firstChunks, env.CountChunks(namespace))

		var fetched struct {
			State string `json:"state"`
		}
		resp = env.Get("/jobs/"+job.ID, env.AuthToken)
		env.decodeData(resp, &fetched)
		assert.Equal(t, "succeeded", fetched.State)
	})

	t.Run("deleting the source clears its vectors and usage", func(t *testing.T) {
		env.Delete("/knowledge/"+sourceID, env.AuthToken)
		assert.Equal(t, 0, env.CountChunks(namespace))

		var usage struct {
			TotalFiles  int `json:"total_files"`
			TotalChunks int `json:"total_chunks"`
		}
		resp := env.Get("/usage", env.AuthToken)
		env.decodeData(resp, &usage)
		assert.Equal(t, 0, usage.TotalFiles)
		assert.Equal(t, 0, usage.TotalChunks)
	})

	t.Run("deleting the agent drops the whole namespace", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			resp := env.Post("/knowledge", env.AuthToken, map[string]string{
				"agent_id": agent.ID,
				"title":    fmt.Sprintf("note %d", i),
				"content":  fmt.Sprintf("Standalone note number %d about billing cycles.", i),
			})
			var created sourceStatus
			env.decodeData(resp, &created)
			status := env.WaitForSourceSettled(env.AuthToken, created.Source.ID, settleTimeout)
			require.Equal(t, "ready", status.Source.Status)
		}
		require.Greater(t, env.CountChunks(namespace), 0)

		env.Delete("/agents/"+agent.ID, env.AuthToken)
		assert.Equal(t, 0, env.CountChunks(namespace))

		var count int
		require.NoError(t, env.Pool.QueryRow(env.Ctx,
			"SELECT COUNT(*) FROM knowledge_sources WHERE agent_id = $1", agent.ID).Scan(&count))
		assert.Equal(t, 0, count)
	})
}

// TestE2E_URLIngest scrapes a local page for the happy path and a contentless
// page for the failure path; the failed job must carry the extraction error
// verbatim.
func TestE2E_URLIngest(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/faq", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>FAQ</h1><p>Support answers within one business day.</p></body></html>`)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><script>var x = 1;</script></body></html>`)
	})
	pages := httptest.NewServer(mux)
	defer pages.Close()

	agent := createAgent(t, env, "Web Bot")

	t.Run("scraped page becomes a ready source", func(t *testing.T) {
		var created sourceStatus
		resp := env.Post("/knowledge", env.AuthToken, map[string]string{
			"agent_id": agent.ID,
			"url":      pages.URL + "/faq",
		})
		env.decodeData(resp, &created)
		assert.Equal(t, "url", created.Source.Kind)
		// Title defaults to the URL when none is given.
		assert.Equal(t, pages.URL+"/faq", created.Source.Title)

		status := env.WaitForSourceSettled(env.AuthToken, created.Source.ID, settleTimeout)
		require.Equal(t, "ready", status.Source.Status)
		require.NotNil(t, status.Source.ChunkCount)
		assert.Equal(t, 1, *status.Source.ChunkCount)

		var body struct {
			Content string `json:"content"`
		}
		resp = env.Get("/knowledge/"+created.Source.ID+"/content", env.AuthToken)
		env.decodeData(resp, &body)
		assert.Contains(t, body.Content, "one business day")
		assert.NotContains(t, body.Content, "script")
	})

	t.Run("page without text fails the job with the extraction error", func(t *testing.T) {
		var created sourceStatus
		resp := env.Post("/knowledge", env.AuthToken, map[string]string{
			"agent_id": agent.ID,
			"url":      pages.URL + "/empty",
		})
		env.decodeData(resp, &created)

		status := env.WaitForSourceSettled(env.AuthToken, created.Source.ID, settleTimeout)
		require.Equal(t, "failed", status.Source.Status)
		assert.Nil(t, status.Source.ChunkCount)
		require.NotNil(t, status.LatestJob)
		assert.Equal(t, "failed", status.LatestJob.State)
		assert.Contains(t, status.LatestJob.Error, "no content extracted")
	})

	t.Run("unreachable host fails the job", func(t *testing.T) {
		var created sourceStatus
		resp := env.Post("/knowledge", env.AuthToken, map[string]string{
			"agent_id": agent.ID,
			"url":      "http://127.0.0.1:1/nowhere",
		})
		env.decodeData(resp, &created)

		status := env.WaitForSourceSettled(env.AuthToken, created.Source.ID, settleTimeout)
		require.Equal(t, "failed", status.Source.Status)
		require.NotNil(t, status.LatestJob)
		assert.NotEmpty(t, status.LatestJob.Error)
	})
}
