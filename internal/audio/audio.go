package audio

import (
	"context"
	"errors"
	"time"
)

// Handle representa una grabacion finalizada. El core solo necesita la
// ruta y metadata de forma de onda, nunca buffers crudos.
type Handle struct {
	Path     string
	Duration time.Duration
	Waveform []float32
}

// Recorder es la frontera de captura de voz. StopRecording libera el
// microfono en todos los caminos de salida.
type Recorder interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (Handle, error)
}

// Player es la frontera de reproduccion de audio y TTS.
type Player interface {
	Play(ctx context.Context, path string) error
	PlayText(ctx context.Context, text, language string) error
	Stop(ctx context.Context) error
}

type disabledRecorder struct {
	reason string
}

// NewDisabledRecorder devuelve un Recorder que rechaza toda captura.
func NewDisabledRecorder(reason string) Recorder {
	return &disabledRecorder{reason: reason}
}

func (r *disabledRecorder) StartRecording(_ context.Context) error {
	if r.reason == "" {
		return errors.New("audio recorder disabled")
	}
	return errors.New(r.reason)
}

func (r *disabledRecorder) StopRecording(_ context.Context) (Handle, error) {
	if r.reason == "" {
		return Handle{}, errors.New("audio recorder disabled")
	}
	return Handle{}, errors.New(r.reason)
}

type noopPlayer struct{}

// NewNoopPlayer devuelve un Player que acepta todo sin producir sonido.
func NewNoopPlayer() Player {
	return noopPlayer{}
}

func (noopPlayer) Play(_ context.Context, _ string) error        { return nil }
func (noopPlayer) PlayText(_ context.Context, _, _ string) error { return nil }
func (noopPlayer) Stop(_ context.Context) error                  { return nil }
