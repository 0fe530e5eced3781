package http

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Fedosin/glare/internal/config"
	"github.com/Fedosin/glare/internal/domain"
	"github.com/Fedosin/glare/internal/infra/memstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mem := memstore.New()
	return NewServerWithDeps(config.Config{}, ServerDeps{
		Store:       mem.Root(),
		AdminAPIKey: "admin-secret",
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-a")
	req.Header.Set("X-Principal", "alice")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func createImage(t *testing.T, s *Server, name string) (artifactID string) {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/v1/artifacts", map[string]any{
		"type_name": "image",
		"name":      name,
		"version":   "1.0.0",
		"metadata":  map[string]any{"os_type": "linux"},
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create artifact: status %d body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	artifact := body["artifact"].(map[string]any)
	return artifact["id"].(string)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestCreateArtifactValidation(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/artifacts", map[string]any{
		"type_name": "image",
		"name":      "broken",
		"metadata":  map[string]any{"bogus": 1},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["code"] != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %v", body["code"])
	}
	details := body["details"].(map[string]any)
	if _, ok := details["violations"]; !ok {
		t.Fatal("expected violations detail")
	}
}

func TestCreateArtifactRequiresTenantHeader(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/artifacts", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/v1/artifacts", map[string]any{
		"type_name": "mystery",
		"name":      "x",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "UNKNOWN_TYPE" {
		t.Fatalf("expected UNKNOWN_TYPE, got %v", body["code"])
	}
}

func TestImageLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	artifactID := createImage(t, s, "cirros")
	base := fmt.Sprintf("/v1/artifacts/%s/versions/1.0.0", artifactID)

	// Activation before queue is illegal.
	w := doJSON(t, s, http.MethodPost, base+"/actions/activate", nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("activate from drafted: expected 409, got %d", w.Code)
	}

	// Queue without the required disk blob is incomplete.
	w = doJSON(t, s, http.MethodPost, base+"/actions/queue", nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("queue without blob: expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["code"] != "INCOMPLETE_ARTIFACT" {
		t.Fatalf("expected INCOMPLETE_ARTIFACT, got %v", body["code"])
	}

	// Upload the disk blob.
	payload := []byte("disk image bytes")
	sum := sha256.Sum256(payload)
	req := httptest.NewRequest(http.MethodPut, base+"/blobs/disk", bytes.NewReader(payload))
	req.Header.Set("X-Tenant-ID", "tenant-a")
	req.Header.Set("X-Principal", "alice")
	req.Header.Set("X-Content-Sha256", hex.EncodeToString(sum[:]))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: status %d body %s", rec.Code, rec.Body.String())
	}

	for _, action := range []string{"queue", "activate"} {
		w = doJSON(t, s, http.MethodPost, base+"/actions/"+action, nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d body %s", action, w.Code, w.Body.String())
		}
	}

	// Download the activated blob back.
	req = httptest.NewRequest(http.MethodGet, base+"/blobs/disk", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("download: status %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Fatal("downloaded bytes differ from upload")
	}
	if got := rec.Header().Get("X-Content-Sha256"); got != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum header %q", got)
	}
}

func TestChecksumMismatchRejected(t *testing.T) {
	s := newTestServer(t)
	artifactID := createImage(t, s, "cirros")
	base := fmt.Sprintf("/v1/artifacts/%s/versions/1.0.0", artifactID)

	req := httptest.NewRequest(http.MethodPut, base+"/blobs/disk", bytes.NewReader([]byte("bytes")))
	req.Header.Set("X-Tenant-ID", "tenant-a")
	req.Header.Set("X-Content-Sha256", "deadbeef")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["code"] != "CHECKSUM_MISMATCH" {
		t.Fatalf("expected CHECKSUM_MISMATCH, got %v", body["code"])
	}
}

func TestSearchScopedToTenant(t *testing.T) {
	s := newTestServer(t)
	createImage(t, s, "mine")

	// A second tenant creates its own private artifact.
	w := doJSON(t, s, http.MethodPost, "/v1/artifacts", map[string]any{
		"type_name": "image",
		"name":      "theirs",
		"version":   "1.0.0",
		"metadata":  map[string]any{"os_type": "bsd"},
	}, map[string]string{"X-Tenant-ID": "tenant-b"})
	if w.Code != http.StatusCreated {
		t.Fatalf("second tenant create: %d", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/search", domain.Filter{TypeName: "image"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d", w.Code)
	}
	body := decodeBody(t, w)
	versions := body["versions"].([]any)
	if len(versions) != 1 {
		t.Fatalf("expected 1 visible version, got %d", len(versions))
	}
}

func TestAdminEndpointsRequireKey(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/tenants", map[string]any{"name": "acme"}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin key, got %d", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/tenants", map[string]any{"name": "acme"},
		map[string]string{"X-Admin-Key": "admin-secret"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 with admin key, got %d: %s", w.Code, w.Body.String())
	}
}

func TestQuotaReadoutAndLimit(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPut, "/v1/tenants/tenant-a/quota",
		domain.QuotaLimits{MaxArtifacts: 1},
		map[string]string{"X-Admin-Key": "admin-secret"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("set quota: %d: %s", w.Code, w.Body.String())
	}

	createImage(t, s, "first")

	w = doJSON(t, s, http.MethodPost, "/v1/artifacts", map[string]any{
		"type_name": "image",
		"name":      "second",
		"version":   "1.0.0",
		"metadata":  map[string]any{"os_type": "linux"},
	}, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected quota rejection, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/v1/quotas", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("quota readout: %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["artifact_count"].(float64) != 1 {
		t.Fatalf("expected artifact_count 1, got %v", body["artifact_count"])
	}
}

func TestRateLimitEnforced(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mem := memstore.New()
	s := NewServerWithDeps(config.Config{
		RateLimitRequests:      2,
		RateLimitWindowSeconds: 60,
		RateLimitMaxKeys:       100,
	}, ServerDeps{Store: mem.Root()})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = doJSON(t, s, http.MethodGet, "/v1/quotas", nil, nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}
