package validation

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr string
	}{
		{name: "sub-cent", amount: "0.001"},
		{name: "zero", amount: "0"},
		{name: "large", amount: "999999999999"},
		{name: "eighteen places", amount: "0.000000000000000001"},
		{name: "negative", amount: "-1", wantErr: "Amount cannot be negative"},
		{name: "nineteen places", amount: "0.0000000000000000001", wantErr: "Amount has 19 decimal places, maximum is 18"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tt.amount))
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateAmount(%s) unexpected error: %v", tt.amount, err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("ValidateAmount(%s) error = %v, want %q", tt.amount, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEthereumAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"lowercase", "0x1234567890abcdef1234567890abcdef12345678", false},
		{"mixed case", "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", false},
		{"upper prefix", "0X209693BC6AFC0C5328BA36FAF03C514EF312287C", false},
		{"surrounding whitespace", "  0x1234567890abcdef1234567890abcdef12345678 ", false},
		{"missing prefix", "1234567890abcdef1234567890abcdef12345678", true},
		{"too short", "0x1234", true},
		{"too long", "0x1234567890abcdef1234567890abcdef1234567800", true},
		{"non-hex", "0xGGGG567890abcdef1234567890abcdef12345678", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEthereumAddress(tt.address)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEthereumAddress(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
			}
		})
	}
}

func TestValidateNetwork(t *testing.T) {
	tests := []struct {
		network string
		wantErr bool
	}{
		{"base-sepolia", false},
		{"base", false},
		{"avalanche-fuji", false},
		{"eip155:8453", false},
		{"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", false},
		{"", true},
		{"   ", true},
		{":", true},
		{"eip155:", true},
		{":8453", true},
		{"ethereum-classic", true},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			err := ValidateNetwork(tt.network)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNetwork(%q) error = %v, wantErr %v", tt.network, err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/facilitator", false},
		{"http://localhost:8080", false},
		{"ftp://example.com", true},
		{"", true},
		{"https://", true},
		{"example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateResourcePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"absolute path", "/api/weather", "/api/weather", false},
		{"full url", "https://example.com/api", "https://example.com/api", false},
		{"trimmed", "  /api/data  ", "/api/data", false},
		{"dots inside a segment", "/files/v1..2/report", "/files/v1..2/report", false},
		{"empty", "", "", true},
		{"traversal", "/api/../secret", "", true},
		{"leading traversal", "../etc/passwd", "", true},
		{"trailing traversal", "/api/..", "", true},
		{"encoded traversal", "/api/%2e%2e/secret", "", true},
		{"url traversal", "https://example.com/a/../b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateResourcePath(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ValidateResourcePath(%q) expected error", tt.path)
				}
				if !strings.Contains(err.Error(), "Resource path") {
					t.Errorf("unexpected error text: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateResourcePath(%q) unexpected error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("ValidateResourcePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestChainIDToNetwork(t *testing.T) {
	got, err := ChainIDToNetwork(8453)
	if err != nil || got != "base" {
		t.Errorf("ChainIDToNetwork(8453) = %q, %v", got, err)
	}
	got, err = ChainIDToNetwork(84532)
	if err != nil || got != "base-sepolia" {
		t.Errorf("ChainIDToNetwork(84532) = %q, %v", got, err)
	}
	if _, err := ChainIDToNetwork(999999); err == nil || !strings.Contains(err.Error(), "999999") {
		t.Errorf("expected unsupported chain error echoing the id, got %v", err)
	}
	id, err := NetworkToChainID("polygon")
	if err != nil || id != 137 {
		t.Errorf("NetworkToChainID(polygon) = %d, %v", id, err)
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount("$0.001")
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("ParseAmount($0.001) = %s", got)
	}
	if _, err := ParseAmount("abc"); err == nil {
		t.Error("expected error for non-numeric amount")
	}
	if _, err := ParseAmount("12abc"); err == nil {
		t.Error("expected error for trailing garbage")
	}
	if _, err := ParseAmount("1e2147483647"); err == nil {
		t.Error("expected error for exponent notation")
	}
}
