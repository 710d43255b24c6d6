package http

// Envelope is the body of every JSON API response. Exactly one of Data and
// Errors is set.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string         `json:"code"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message"`
	Params  map[string]any `json:"params,omitempty"`
}

// Page wraps list results.
type Page struct {
	Rows  any   `json:"rows"`
	Total int64 `json:"total"`
}
