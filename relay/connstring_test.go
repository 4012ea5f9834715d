package relay

import (
	"strings"
	"testing"
)

const sampleConnectionString = "Endpoint=sb://contoso.servicebus.windows.net/;SharedAccessKeyName=RootManageSharedAccessKey;SharedAccessKey=c2VjcmV0LWtleQ==;EntityPath=orders"

func TestParseConnectionString(t *testing.T) {
	cs, err := ParseConnectionString(sampleConnectionString)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cs.Namespace != "contoso.servicebus.windows.net" {
		t.Errorf("Expected namespace host, got: %s", cs.Namespace)
	}
	if cs.EntityPath != "orders" {
		t.Errorf("Expected entity path 'orders', got: %s", cs.EntityPath)
	}
	if cs.SharedAccessKeyName != "RootManageSharedAccessKey" {
		t.Errorf("Unexpected key name: %s", cs.SharedAccessKeyName)
	}
	if cs.SharedAccessKey != "c2VjcmV0LWtleQ==" {
		t.Errorf("Unexpected key: %s", cs.SharedAccessKey)
	}
}

func TestParseConnectionString_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no endpoint", "SharedAccessKeyName=root;SharedAccessKey=abc="},
		{"malformed segment", "Endpoint=sb://ns.example.net/;garbage"},
		{"endpoint without host", "Endpoint=sb://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConnectionString(tt.input); err == nil {
				t.Errorf("Expected parse error for %q", tt.input)
			}
		})
	}
}

func TestParseConnectionString_IgnoresUnknownKeys(t *testing.T) {
	cs, err := ParseConnectionString("Endpoint=sb://ns.example.net/;OperationTimeout=00:01:00")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cs.Namespace != "ns.example.net" {
		t.Errorf("Unexpected namespace: %s", cs.Namespace)
	}
}

func TestConnectionString_Config(t *testing.T) {
	cs, err := ParseConnectionString(sampleConnectionString)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	t.Run("entity from connection string", func(t *testing.T) {
		cfg, err := cs.Config("")
		if err != nil {
			t.Fatalf("Config failed: %v", err)
		}
		if cfg.EntityPath != "orders" {
			t.Errorf("Expected entity 'orders', got: %s", cfg.EntityPath)
		}
		if cfg.TokenProvider == nil {
			t.Error("Expected a token provider from the key pair")
		}
	})

	t.Run("explicit entity overrides", func(t *testing.T) {
		cfg, err := cs.Config("shipments")
		if err != nil {
			t.Fatalf("Config failed: %v", err)
		}
		if cfg.EntityPath != "shipments" {
			t.Errorf("Expected entity 'shipments', got: %s", cfg.EntityPath)
		}
	})

	t.Run("no entity anywhere", func(t *testing.T) {
		bare, err := ParseConnectionString("Endpoint=sb://ns.example.net/")
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if _, err := bare.Config(""); err == nil {
			t.Error("Expected an error when no entity path is available")
		}
	})

	t.Run("pre-minted signature wins", func(t *testing.T) {
		withSig, err := ParseConnectionString(
			"Endpoint=sb://ns.example.net/;SharedAccessSignature=SharedAccessSignature sr=x&sig=y;EntityPath=orders")
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		cfg, err := withSig.Config("")
		if err != nil {
			t.Fatalf("Config failed: %v", err)
		}
		token, err := cfg.TokenProvider.GetToken(testContext(t), "aud")
		if err != nil {
			t.Fatalf("GetToken failed: %v", err)
		}
		if !strings.HasPrefix(token, "SharedAccessSignature ") {
			t.Errorf("Expected the pre-minted signature, got: %s", token)
		}
	})
}
