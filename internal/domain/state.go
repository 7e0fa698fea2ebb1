package domain

import "time"

// ConversationState es el estado que renderiza la capa de presentacion.
// Es un tipo suma cerrado: exactamente una variante activa a la vez y
// cada consumidor debe hacer switch exhaustivo sobre ellas.
type ConversationState interface {
	conversationState()
}

// Uninitialized es el estado inicial, sin sesion resuelta.
type Uninitialized struct{}

// Loading indica una carga de sesion o historial en vuelo.
type Loading struct {
	SessionID string
}

// Ready es el estado estable de chat.
type Ready struct {
	Messages         []Message
	IsTyping         bool
	IsRecording      bool
	IsPlayingVoice   bool
	IsPlayingTTS     bool
	QuickSuggestions []string
	SearchResults    []Message
	Language         string
}

// Recording indica captura de voz en progreso; excluye entrada de texto.
type Recording struct {
	IsRecording bool
	Elapsed     time.Duration
	Waveform    []float32
}

// Failed es terminal solo para la operacion que lo disparo; un reintento
// vuelve a Loading.
type Failed struct {
	Message   string
	Retryable bool
}

func (Uninitialized) conversationState() {}
func (Loading) conversationState()       {}
func (Ready) conversationState()         {}
func (Recording) conversationState()     {}
func (Failed) conversationState()        {}

// Signal es una notificacion one-shot hacia la presentacion: se entrega a
// lo sumo una vez por ocurrencia y no se repite al re-renderizar estado.
type Signal interface {
	signal()
}

// ExportSuccess notifica que la exportacion termino y donde quedo.
type ExportSuccess struct {
	Path string
}

// OfflineQueueProcessed notifica cuantas entradas encoladas se enviaron.
type OfflineQueueProcessed struct {
	Count int
}

func (ExportSuccess) signal()         {}
func (OfflineQueueProcessed) signal() {}
