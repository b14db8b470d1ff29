package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"pdfreader/internal/servicetoken"
	"pdfreader/internal/util"
	"pdfreader/pkg/domain"
	"pdfreader/pkg/queue"
	"pdfreader/pkg/storage"
	"pdfreader/pkg/store"
	"pdfreader/services/outline/internal/app"
)

type fixture struct {
	srv    *httptest.Server
	signer *servicetoken.Signer
	store  *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{PrivateKeyPEM: privPEM, Issuer: servicetoken.IssuerReader})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	redisSrv := miniredis.RunT(t)
	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{Addr: redisSrv.Addr(), Stream: "test:outline"})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	memStore := store.NewMemoryStore()
	core, err := app.New(app.Config{
		Store:   memStore,
		Objects: storage.NewMemoryStore("http://blobs.invalid"),
		Jobs:    jobs,
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	s, err := New(Config{App: core, InternalJWTPublicKeyPEM: pubPEM})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, signer: signer, store: memStore}
}

func (f *fixture) client(audience string) *http.Client {
	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: &servicetoken.Transport{Signer: f.signer, Audience: audience},
	}
}

func (f *fixture) seedDocument(t *testing.T) string {
	t.Helper()
	now := time.Now().UTC()
	doc := domain.Document{
		ID:         util.NewID(),
		OwnerID:    "user-1",
		StorageKey: "documents/user-1/" + util.NewID() + "/paper.pdf",
		Status:     domain.StatusUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := f.store.SaveDocument(doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	return doc.ID
}

func postJob(t *testing.T, c *http.Client, url, documentID string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"documentId": documentID})
	resp, err := c.Post(url+"/internal/outline/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	var out errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return out
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestJobsRequireServiceToken(t *testing.T) {
	f := newFixture(t)
	docID := f.seedDocument(t)

	resp := postJob(t, http.DefaultClient, f.srv.URL, docID)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != "SERVICE_UNAUTHORIZED" {
		t.Fatalf("code = %q", body.Code)
	}

	resp = postJob(t, f.client("reader"), f.srv.URL, docID)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong audience status = %d, want 401", resp.StatusCode)
	}
}

func TestEnqueueAndFetchJob(t *testing.T) {
	f := newFixture(t)
	c := f.client(servicetoken.AudienceOutline)
	docID := f.seedDocument(t)

	resp := postJob(t, c, f.srv.URL, docID)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var job queue.JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.DocumentID != docID || job.Status != queue.StatusQueued {
		t.Fatalf("job = %+v", job)
	}

	got, err := c.Get(f.srv.URL + "/internal/outline/jobs/" + job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", got.StatusCode)
	}
	var fetched queue.JobStatus
	if err := json.NewDecoder(got.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if fetched.ID != job.ID || fetched.Kind != queue.KindOutline {
		t.Fatalf("fetched = %+v", fetched)
	}
}

func TestEnqueueErrors(t *testing.T) {
	f := newFixture(t)
	c := f.client(servicetoken.AudienceOutline)

	resp := postJob(t, c, f.srv.URL, util.NewID())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown document status = %d, want 404", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != "DOCUMENT_NOT_FOUND" {
		t.Fatalf("code = %q", body.Code)
	}

	resp = postJob(t, c, f.srv.URL, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank document status = %d, want 400", resp.StatusCode)
	}

	resp, err := c.Post(f.srv.URL+"/internal/outline/jobs", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if body := decodeError(t, resp); resp.StatusCode != http.StatusBadRequest || body.Code != "OUTLINE_INVALID_REQUEST" {
		t.Fatalf("invalid body = %d %q", resp.StatusCode, body.Code)
	}

	missing, err := c.Get(f.srv.URL + "/internal/outline/jobs/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer missing.Body.Close()
	if body := decodeError(t, missing); missing.StatusCode != http.StatusNotFound || body.Code != "OUTLINE_JOB_NOT_FOUND" {
		t.Fatalf("missing job = %d %q", missing.StatusCode, body.Code)
	}
}
