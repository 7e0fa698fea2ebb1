package domain

// UserContext es data opaca de personalizacion que acompaña cada envio.
// Se obtiene por sesion y se descarta al cambiar de sesion.
type UserContext struct {
	Language string            `json:"language,omitempty"`
	Profile  map[string]string `json:"profile,omitempty"`
}

// PersonalizedSuggestions son sugerencias rapidas sugeridas por el backend
// para la sesion actual.
type PersonalizedSuggestions struct {
	SessionID   string   `json:"session_id"`
	Suggestions []string `json:"suggestions"`
}
