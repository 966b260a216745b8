package mail

import (
	"reflect"
	"testing"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"valid", "user@example.com", false},
		{"valid subdomain", "user@mail.example.com", false},
		{"valid plus tag", "user+tag@example.com", false},
		{"missing at", "userexample.com", true},
		{"missing domain dot", "user@example", true},
		{"empty", "", true},
		{"spaces", "user name@example.com", true},
		{"double at", "user@@example.com", true},
		{"trailing dot only", "user@example.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAddressesEmptyList(t *testing.T) {
	if err := ValidateAddresses(nil); err == nil {
		t.Error("expected error for empty recipient list")
	}
}

func TestValidateAddressesFailsOnFirstInvalid(t *testing.T) {
	err := ValidateAddresses([]string{"ok@example.com", "broken", "also-ok@example.com"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "invalid email address: broken" {
		t.Errorf("unexpected error: %s", got)
	}
}

func TestNormalizeAddresses(t *testing.T) {
	got := NormalizeAddresses([]string{"  a@example.com ", "", "b@example.com", "   "})
	want := []string{"a@example.com", "b@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeAddresses() = %v, want %v", got, want)
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		email    string
		expected string
	}{
		{"user@example.com", "example.com"},
		{"User Name <user@Example.COM>", "example.com"},
		{"no-at-sign", ""},
		{"trailing@", ""},
	}

	for _, tt := range tests {
		if got := ExtractDomain(tt.email); got != tt.expected {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.email, got, tt.expected)
		}
	}
}

func TestFormatFrom(t *testing.T) {
	tests := []struct {
		name     string
		addr     *Address
		expected string
	}{
		{"nil", nil, ""},
		{"bare email", &Address{Email: "a@example.com"}, "a@example.com"},
		{"with name", &Address{Name: "Ada", Email: "a@example.com"}, "Ada <a@example.com>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatFrom(tt.addr); got != tt.expected {
				t.Errorf("FormatFrom() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAttemptBudget(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		expected int
	}{
		{"unset defaults", 0, 3},
		{"negative defaults", -2, 3},
		{"within range", 2, 2},
		{"at ceiling", 5, 5},
		{"above ceiling clamps", 9, 5},
		{"minimum", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{MaxAttempts: tt.max}
			if got := m.AttemptBudget(); got != tt.expected {
				t.Errorf("AttemptBudget() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestFirstRecipient(t *testing.T) {
	if got := (&Message{}).FirstRecipient(); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
	m := &Message{To: []string{"a@example.com", "b@example.com"}}
	if got := m.FirstRecipient(); got != "a@example.com" {
		t.Errorf("FirstRecipient() = %q", got)
	}
}
