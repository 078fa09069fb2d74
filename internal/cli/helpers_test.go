package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const testCatalogYAML = `environment: sandbox
products:
  - id: com.example.premium
    display_name: Premium
    display_price: $4.99
  - id: com.example.coins
    type: consumable
`

// fakeAttribution is an in-process attribution service.
type fakeAttribution struct {
	mu        sync.Mutex
	synced    []string
	failSync  bool
	affiliate string
	gets      int
}

func (f *fakeAttribution) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("x-api-key") != "test-key" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.URL.Path {
	case "/affiliate-marketing-data":
		f.gets++
		io.WriteString(w, f.affiliate)
	case "/sync-transaction":
		if f.failSync {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		var payload struct {
			TransactionID string `json:"transaction_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.synced = append(f.synced, payload.TransactionID)
		w.WriteHeader(http.StatusAccepted)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAttribution) setFailSync(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSync = fail
}

func (f *fakeAttribution) setAffiliate(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.affiliate = body
}

func (f *fakeAttribution) syncedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.synced...)
}

func (f *fakeAttribution) affiliateFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

// testEnv is a temp directory with config, catalog and ledger paths wired to
// a fake attribution service.
type testEnv struct {
	dir     string
	service *fakeAttribution
	server  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		dir:     t.TempDir(),
		service: &fakeAttribution{affiliate: `{"affiliate_marketing_data":null}`},
	}
	e.server = httptest.NewServer(e.service)
	t.Cleanup(e.server.Close)

	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "catalog.yaml"), []byte(testCatalogYAML), 0o600))
	e.writeConfig(t, fmt.Sprintf("api_key: %q\napp_id: \"1234\"\n", "test-key"))
	return e
}

// writeConfig writes the config file with the given extra CUE lines.
func (e *testEnv) writeConfig(t *testing.T, extra string) {
	t.Helper()
	content := fmt.Sprintf("base_url: %q\ndatabase: %q\ncatalog: %q\n%s",
		e.server.URL,
		filepath.Join(e.dir, "iapsync.db"),
		filepath.Join(e.dir, "catalog.yaml"),
		extra,
	)
	require.NoError(t, os.WriteFile(e.configPath(), []byte(content), 0o600))
}

func (e *testEnv) configPath() string {
	return filepath.Join(e.dir, "iapsync.cue")
}

func (e *testEnv) rootOptions(format string) *RootOptions {
	return &RootOptions{
		Format:     format,
		ConfigPath: e.configPath(),
		EnvFile:    filepath.Join(e.dir, "missing.env"),
		Getenv:     func(string) string { return "" },
	}
}

// execute runs cmd with args and returns stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	stdout := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}
