package domain

// OfflineQueueEntry es un mensaje fallido esperando reenvio, mas metadata
// de reintentos. Pertenece al lifecycle manager hasta que se envia o se
// abandona.
type OfflineQueueEntry struct {
	Message   Message `json:"message"`
	Attempts  int     `json:"attempts"`
	LastError string  `json:"last_error,omitempty"`
}
