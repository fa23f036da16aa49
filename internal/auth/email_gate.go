package auth

import "strings"

// EmailGate decides who may register: administrators listed explicitly and
// anyone holding an address at one of the allowed university domains.
type EmailGate struct {
	adminEmails map[string]struct{}
	domains     []string
}

// NewEmailGate normalises the allowlists. Domains may be given with or without a leading "@".
func NewEmailGate(adminEmails, universityDomains []string) *EmailGate {
	g := &EmailGate{
		adminEmails: make(map[string]struct{}, len(adminEmails)),
		domains:     make([]string, 0, len(universityDomains)),
	}
	for _, email := range adminEmails {
		email = normalizeEmail(email)
		if email != "" {
			g.adminEmails[email] = struct{}{}
		}
	}
	for _, domain := range universityDomains {
		domain = strings.TrimPrefix(normalizeEmail(domain), "@")
		if domain != "" {
			g.domains = append(g.domains, domain)
		}
	}
	return g
}

// IsCyprusUniversityEmail reports whether email may register. Malformed addresses yield false.
func (g *EmailGate) IsCyprusUniversityEmail(email string) bool {
	email = normalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	if g.IsAdminEmail(email) {
		return true
	}

	domain := email[at+1:]
	for _, allowed := range g.domains {
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}

// IsAdminEmail reports whether email is on the administrator allowlist.
func (g *EmailGate) IsAdminEmail(email string) bool {
	_, ok := g.adminEmails[normalizeEmail(email)]
	return ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return normalizeEmail(email)
}
