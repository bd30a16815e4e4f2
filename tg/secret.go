package tg

import "log/slog"

const redacted = "[REDACTED]"

// SecretToken wraps a bot token so it never ends up in logs or dumps.
type SecretToken string

// Value returns the actual token. Only the API URL builders should call it.
func (s SecretToken) Value() string { return string(s) }

func (s SecretToken) String() string { return redacted }

func (s SecretToken) GoString() string { return `tg.SecretToken("` + redacted + `")` }

// LogValue implements slog.LogValuer.
func (s SecretToken) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// MarshalText keeps the token out of JSON and YAML output.
func (s SecretToken) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// IsEmpty returns true if the token is empty.
func (s SecretToken) IsEmpty() bool {
	return s == ""
}
