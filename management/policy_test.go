package management

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
)

// captureTransport records the final outgoing request instead of sending it.
type captureTransport struct {
	req *http.Request
}

func (t *captureTransport) Do(req *http.Request) (*http.Response, error) {
	t.req = req
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       http.NoBody,
		Request:    req,
	}, nil
}

func pipelineWith(t *testing.T, transport *captureTransport, policies ...policy.Policy) runtime.Pipeline {
	t.Helper()
	return runtime.NewPipeline("go-relay-test", "v1", runtime.PipelineOptions{}, &policy.ClientOptions{
		PerCallPolicies: policies,
		Transport:       transport,
	})
}

func TestRequestIDPolicy(t *testing.T) {
	transport := &captureTransport{}
	pl := pipelineWith(t, transport, newRequestIDPolicy(""))

	req, err := runtime.NewRequest(context.Background(), http.MethodGet, "https://management.azure.com/")
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if _, err := pl.Do(req); err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}

	first := transport.req.Header.Get("X-Ms-Client-Request-Id")
	if first == "" {
		t.Fatal("Expected a client request ID header")
	}

	// A fresh request gets a fresh ID
	req, err = runtime.NewRequest(context.Background(), http.MethodGet, "https://management.azure.com/")
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if _, err := pl.Do(req); err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}
	if second := transport.req.Header.Get("X-Ms-Client-Request-Id"); second == first {
		t.Errorf("Expected a unique request ID per request, got %q twice", second)
	}
}

func TestRequestIDPolicy_CustomHeader(t *testing.T) {
	transport := &captureTransport{}
	pl := pipelineWith(t, transport, newRequestIDPolicy("X-Correlation-Id"))

	req, err := runtime.NewRequest(context.Background(), http.MethodGet, "https://management.azure.com/")
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if _, err := pl.Do(req); err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}
	if transport.req.Header.Get("X-Correlation-Id") == "" {
		t.Error("Expected the custom header to carry the request ID")
	}
}

func TestUserAgentPolicy(t *testing.T) {
	transport := &captureTransport{}
	pl := pipelineWith(t, transport, newUserAgentPolicy(""))

	req, err := runtime.NewRequest(context.Background(), http.MethodGet, "https://management.azure.com/")
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if _, err := pl.Do(req); err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}
	if ua := transport.req.Header.Get("User-Agent"); !strings.Contains(ua, "go-relay/") {
		t.Errorf("Expected the module identifier in the User-Agent, got %q", ua)
	}
}
