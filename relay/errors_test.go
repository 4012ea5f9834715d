package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/relaykit/go-relay/transport"
)

func TestClassifyEstablishment_StatusCodes(t *testing.T) {
	tests := []struct {
		name string
		code int
		want ErrorKind
	}{
		{"404 is endpoint not found", 404, KindEndpointNotFound},
		{"410 is endpoint not found", 410, KindEndpointNotFound},
		{"401 is authorization failed", 401, KindAuthorizationFailed},
		{"403 is authorization failed", 403, KindAuthorizationFailed},
		{"500 is transport failure", 500, KindTransportFailure},
		{"503 is transport failure", 503, KindTransportFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := &transport.StatusError{Code: tt.code, Detail: "detail"}
			classified := classifyEstablishment("my-entity", raw)
			if classified.Kind != tt.want {
				t.Errorf("Expected kind %v, got %v", tt.want, classified.Kind)
			}
		})
	}
}

func TestClassifyEstablishment_TextFallback(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			"entity absent by message",
			errors.New("the entity could not be found in this namespace"),
			KindEndpointNotFound,
		},
		{
			"token rejection by message",
			errors.New("the token has an invalid signature"),
			KindAuthorizationFailed,
		},
		{
			"unauthorized by message",
			errors.New("401 Unauthorized"),
			KindAuthorizationFailed,
		},
		{
			"expired token by message",
			errors.New("the token is expired"),
			KindAuthorizationFailed,
		},
		{
			"connection refused",
			errors.New("dial tcp: connection refused"),
			KindTransportFailure,
		},
		{
			"token mention alone is not a rejection",
			errors.New("failed to reach token endpoint: connection reset"),
			KindTransportFailure,
		},
		{
			"signature mention alone is not a rejection",
			errors.New("tls handshake: bad certificate signature algorithm"),
			KindTransportFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyEstablishment("my-entity", tt.err)
			if classified.Kind != tt.want {
				t.Errorf("Expected kind %v, got %v", tt.want, classified.Kind)
			}
		})
	}
}

func TestClassifyEstablishment_ContextWins(t *testing.T) {
	// Cancellation is never misreported as a transport failure
	wrapped := fmt.Errorf("dial failed: %w", context.DeadlineExceeded)
	classified := classifyEstablishment("my-entity", wrapped)
	if classified.Kind != KindCancelled {
		t.Errorf("Expected cancelled, got %v", classified.Kind)
	}
}

func TestError_DiagnosticText(t *testing.T) {
	notFound := newError(KindEndpointNotFound, "orders/incoming", errors.New("status 404"))
	if !strings.Contains(notFound.Error(), "orders/incoming") {
		t.Errorf("Not-found diagnostic missing entity path: %s", notFound)
	}

	auth := newError(KindAuthorizationFailed, "orders/incoming", errors.New("status 401"))
	text := auth.Error()
	if !strings.Contains(text, "orders/incoming") {
		t.Errorf("Authorization diagnostic missing entity path: %s", text)
	}
	if !strings.Contains(strings.ToLower(text), "token") {
		t.Errorf("Authorization diagnostic missing token phrase: %s", text)
	}
}

func TestError_KindHelpers(t *testing.T) {
	cause := errors.New("boom")
	wrapped := fmt.Errorf("outer: %w", newError(KindAuthorizationFailed, "p", cause))

	if !IsAuthorizationFailed(wrapped) {
		t.Error("Expected IsAuthorizationFailed to match through wrapping")
	}
	if IsEndpointNotFound(wrapped) {
		t.Error("Kind helpers must not cross-match")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("Expected the cause to be reachable via errors.Is")
	}
}

func TestError_CancelledMatchesContext(t *testing.T) {
	err := cancelledError("p", context.Canceled)
	if !IsCancelled(err) {
		t.Error("Expected IsCancelled to match")
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("Expected errors.Is(err, context.Canceled) to match")
	}
}
