package outlineclient

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pdfreader/internal/servicetoken"
	"pdfreader/internal/util"
	"pdfreader/pkg/queue"
)

func newSignerVerifier(t *testing.T) (*servicetoken.Signer, *servicetoken.Verifier) {
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
	verifier, err := servicetoken.NewVerifier(servicetoken.VerifierOptions{
		PublicKeyPEM:   pubPEM,
		Audience:       servicetoken.AudienceOutline,
		AllowedIssuers: []string{servicetoken.IssuerReader},
	})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return signer, verifier
}

func TestEnqueueSignsRequest(t *testing.T) {
	signer, verifier := newSignerVerifier(t)
	var gotDoc string
	srv := httptest.NewServer(servicetoken.Require(verifier, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/internal/outline/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			DocumentID string `json:"documentId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotDoc = body.DocumentID
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(queue.JobStatus{ID: "job-1", DocumentID: body.DocumentID, Kind: queue.KindOutline, Status: queue.StatusQueued})
	})))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", signer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	job, err := client.Enqueue(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if gotDoc != "doc-1" || job.ID != "job-1" || job.Status != queue.StatusQueued {
		t.Fatalf("job = %+v, doc = %q", job, gotDoc)
	}
}

func TestGetJobReturnsAPIError(t *testing.T) {
	signer, _ := newSignerVerifier(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"job not found","code":"OUTLINE_JOB_NOT_FOUND"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, signer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.GetJob(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "OUTLINE_JOB_NOT_FOUND" || apiErr.Message != "job not found" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestNewClientRequiresSigner(t *testing.T) {
	if _, err := NewClient("http://outline", nil); err == nil {
		t.Fatal("expected error without signer")
	}
}

func TestEnqueueForwardsRequestID(t *testing.T) {
	signer, _ := newSignerVerifier(t)
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(util.RequestIDHeader)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(queue.JobStatus{ID: "job-2", Status: queue.StatusQueued})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, signer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := util.ContextWithRequestID(context.Background(), "req-42")
	if _, err := client.Enqueue(ctx, "doc-2"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got != "req-42" {
		t.Fatalf("X-Request-Id = %q, want %q", got, "req-42")
	}
}
