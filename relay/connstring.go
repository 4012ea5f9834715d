package relay

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/relaykit/go-relay/sas"
)

// ConnectionString holds the parsed fields of a relay connection string.
// Format (semicolon-separated key=value pairs, order-insensitive):
//
//	Endpoint=sb://contoso.servicebus.windows.net/;SharedAccessKeyName=RootManageSharedAccessKey;SharedAccessKey=<base64>;EntityPath=my-connection
type ConnectionString struct {
	// Namespace is the host extracted from the Endpoint field.
	Namespace string

	// EntityPath is the hybrid connection name, when present.
	EntityPath string

	// SharedAccessKeyName and SharedAccessKey carry the SAS credential.
	SharedAccessKeyName string
	SharedAccessKey     string

	// SharedAccessSignature is a pre-minted token, used instead of a key
	// pair when present.
	SharedAccessSignature string
}

// ParseConnectionString parses a relay connection string. The Endpoint field
// is required; everything else is optional.
func ParseConnectionString(s string) (*ConnectionString, error) {
	cs := &ConnectionString{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("malformed connection string segment %q", part)
		}
		switch strings.ToLower(key) {
		case "endpoint":
			u, err := url.Parse(value)
			if err != nil {
				return nil, fmt.Errorf("invalid endpoint %q: %w", value, err)
			}
			if u.Host == "" {
				return nil, fmt.Errorf("endpoint %q has no host", value)
			}
			cs.Namespace = u.Host
		case "entitypath":
			cs.EntityPath = strings.Trim(value, "/")
		case "sharedaccesskeyname":
			cs.SharedAccessKeyName = value
		case "sharedaccesskey":
			cs.SharedAccessKey = value
		case "sharedaccesssignature":
			cs.SharedAccessSignature = value
		default:
			// Unknown keys are ignored for forward compatibility.
		}
	}
	if cs.Namespace == "" {
		return nil, fmt.Errorf("connection string is missing the Endpoint field")
	}
	return cs, nil
}

// Config builds a relay Config from the parsed fields. entityPath overrides
// the connection string's EntityPath when non-empty; one of the two must be
// present. A SharedAccessSignature field wins over a key pair.
func (cs *ConnectionString) Config(entityPath string) (*Config, error) {
	if entityPath == "" {
		entityPath = cs.EntityPath
	}
	if entityPath == "" {
		return nil, fmt.Errorf("no entity path in connection string and none supplied")
	}

	cfg := &Config{
		Namespace:  cs.Namespace,
		EntityPath: entityPath,
	}
	switch {
	case cs.SharedAccessSignature != "":
		cfg.TokenProvider = sas.Static(cs.SharedAccessSignature)
	case cs.SharedAccessKeyName != "" && cs.SharedAccessKey != "":
		cfg.TokenProvider = sas.NewSigner(cs.SharedAccessKeyName, cs.SharedAccessKey)
	}
	return cfg, nil
}
