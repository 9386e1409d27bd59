// Package scanner defines the malware-scanning collaborator interface and
// the verdict variant returned by a scan.
//
// The scanning service is treated as untrusted and possibly slow or
// unavailable: callers bound every Scan with a context deadline and
// distinguish transport failures (retryable) from verdicts (final).
package scanner

import (
	"context"
)

// Scanner submits file contents to a scanning service and returns a
// verdict. A returned error means the scan could not be performed
// (transport failure, timeout); it is retryable. A Failed verdict is
// reserved for recording exhausted retries, a Scanner implementation
// itself returns only Safe or Blocked verdicts.
type Scanner interface {
	// Scan submits the file bytes for analysis.
	Scan(ctx context.Context, content []byte, filename string) (Verdict, error)
}
