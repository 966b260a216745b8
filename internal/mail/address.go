package mail

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// addressPattern is a syntactic check only: one local part, one @, one domain
// with at least one dot. Deliverability is the provider's problem.
var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeAddresses trims whitespace from each address and drops empty
// entries. It does not validate.
func NormalizeAddresses(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// ValidateAddress checks a single address syntactically.
func ValidateAddress(addr string) error {
	if !addressPattern.MatchString(addr) {
		return fmt.Errorf("invalid email address: %s", addr)
	}
	return nil
}

// ValidateAddresses checks every address in the list, failing on the first
// invalid one. An empty list is invalid.
func ValidateAddresses(addrs []string) error {
	if len(addrs) == 0 {
		return fmt.Errorf("no recipient addresses")
	}
	for _, a := range addrs {
		if err := ValidateAddress(a); err != nil {
			return err
		}
	}
	return nil
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return ""
		}
		return strings.ToLower(email[at+1:])
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return strings.ToLower(addr.Address[at+1:])
}

// FormatFrom renders an Address as "Name <email>" or bare email.
func FormatFrom(a *Address) string {
	if a == nil {
		return ""
	}
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}
