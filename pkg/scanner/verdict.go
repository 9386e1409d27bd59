package scanner

import (
	"encoding/json"
	"fmt"
)

// Verdict is the outcome of a malware scan. It is a sealed variant:
// exactly Safe, Blocked, or Failed.
type Verdict interface {
	// Kind returns the verdict discriminator ("safe", "blocked", "failed").
	Kind() string

	isVerdict()
}

// Safe means the scanning service found nothing.
type Safe struct {
	// Detail is the service's raw summary, kept for audit.
	Detail string `json:"detail,omitempty"`
}

// Blocked means the service flagged the file as malicious or suspicious.
type Blocked struct {
	Malicious  int    `json:"malicious"`
	Suspicious int    `json:"suspicious"`
	Detail     string `json:"detail,omitempty"`
}

// Failed records a scan that could not complete after retries. The
// underlying object is retained and the file may be rescanned.
type Failed struct {
	Message string `json:"message"`
}

func (Safe) Kind() string    { return "safe" }
func (Blocked) Kind() string { return "blocked" }
func (Failed) Kind() string  { return "failed" }

func (Safe) isVerdict()    {}
func (Blocked) isVerdict() {}
func (Failed) isVerdict()  {}

// verdictEnvelope is the persisted wire form of a Verdict.
type verdictEnvelope struct {
	Kind       string `json:"kind"`
	Detail     string `json:"detail,omitempty"`
	Malicious  int    `json:"malicious,omitempty"`
	Suspicious int    `json:"suspicious,omitempty"`
	Message    string `json:"message,omitempty"`
}

// MarshalVerdict serializes a verdict for storage.
func MarshalVerdict(v Verdict) ([]byte, error) {
	var env verdictEnvelope
	switch v := v.(type) {
	case Safe:
		env = verdictEnvelope{Kind: v.Kind(), Detail: v.Detail}
	case Blocked:
		env = verdictEnvelope{
			Kind:       v.Kind(),
			Detail:     v.Detail,
			Malicious:  v.Malicious,
			Suspicious: v.Suspicious,
		}
	case Failed:
		env = verdictEnvelope{Kind: v.Kind(), Message: v.Message}
	default:
		return nil, fmt.Errorf("unknown verdict type %T", v)
	}
	return json.Marshal(env)
}

// UnmarshalVerdict deserializes a stored verdict payload.
func UnmarshalVerdict(data []byte) (Verdict, error) {
	var env verdictEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}

	switch env.Kind {
	case "safe":
		return Safe{Detail: env.Detail}, nil
	case "blocked":
		return Blocked{
			Malicious:  env.Malicious,
			Suspicious: env.Suspicious,
			Detail:     env.Detail,
		}, nil
	case "failed":
		return Failed{Message: env.Message}, nil
	default:
		return nil, fmt.Errorf("unknown verdict kind %q", env.Kind)
	}
}
