package storage

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dutchcoders/go-clamd"
)

// ErrInfected is returned when clamd reports a signature match.
var ErrInfected = errors.New("malicious file detected")

// ClamdScanner streams uploads to a clamd daemon.
type ClamdScanner struct {
	client *clamd.Clamd
}

// NewClamdScanner returns nil when addr is empty; callers treat a nil scanner as scanning disabled.
func NewClamdScanner(addr string) *ClamdScanner {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	return &ClamdScanner{client: clamd.NewClamd(addr)}
}

// Scan returns ErrInfected for a flagged stream and a wrapped error when clamd is unreachable.
func (s *ClamdScanner) Scan(r io.Reader) error {
	abort := make(chan bool)
	defer close(abort)

	results, err := s.client.ScanStream(r, abort)
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}
	var infected bool
	for result := range results {
		switch result.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			infected = true
		default:
			return fmt.Errorf("scan stream: clamd status %s: %s", result.Status, result.Description)
		}
	}
	if infected {
		return ErrInfected
	}
	return nil
}
