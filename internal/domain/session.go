package domain

import "time"

// Session agrupa los mensajes de una conversacion. Una sesion con ID real
// existe en el backend recien despues del primer envio exitoso, salvo que
// se cree explicitamente con la accion "nueva conversacion".
type Session struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	MessageCount   int       `json:"message_count"`
}
