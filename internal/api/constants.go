package api

// APIVersion is reported in the OpenAPI document.
const APIVersion = "1.0.0"

// Per-IP request limits. Players post a position roughly once a second,
// so the burst leaves room for seeks and reconnects.
const (
	RequestsPerSecond = 20
	RequestBurst      = 40
)

// Search paging limits.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)
