package management

import (
	"fmt"
	"net/http"
	goruntime "runtime"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/google/uuid"
)

var defaultUserAgent = fmt.Sprintf(
	"go-relay/1.0 (Go/%s; %s/%s)",
	goruntime.Version(), goruntime.GOOS, goruntime.GOARCH,
)

// requestIDPolicy stamps each ARM request with a unique client request ID so
// calls can be correlated with Azure-side diagnostics.
type requestIDPolicy struct {
	headerName string
}

func newRequestIDPolicy(headerName string) *requestIDPolicy {
	if headerName == "" {
		headerName = "X-Ms-Client-Request-Id"
	}
	return &requestIDPolicy{headerName: headerName}
}

// Do implements policy.Policy
func (p *requestIDPolicy) Do(req *policy.Request) (*http.Response, error) {
	req.Raw().Header.Set(p.headerName, uuid.New().String())
	return req.Next()
}

// userAgentPolicy appends the module identifier to the User-Agent header.
type userAgentPolicy struct {
	userAgent string
}

func newUserAgentPolicy(userAgent string) *userAgentPolicy {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &userAgentPolicy{userAgent: userAgent}
}

// Do implements policy.Policy
func (p *userAgentPolicy) Do(req *policy.Request) (*http.Response, error) {
	existing := req.Raw().Header.Get("User-Agent")
	if existing == "" {
		req.Raw().Header.Set("User-Agent", p.userAgent)
	} else {
		req.Raw().Header.Set("User-Agent", existing+" "+p.userAgent)
	}
	return req.Next()
}
