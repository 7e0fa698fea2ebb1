package domain

import (
	"errors"
	"fmt"
)

// FailureKind clasifica fallas de colaboradores externos. Network es la
// unica reintentable/encolable; el resto es terminal para esa accion.
type FailureKind string

const (
	FailureNetwork        FailureKind = "network"
	FailureAuth           FailureKind = "auth"
	FailureNotFound       FailureKind = "not_found"
	FailureServerRejected FailureKind = "server_rejected"
	FailurePersistence    FailureKind = "persistence"
	FailureValidation     FailureKind = "validation"
)

// Failure envuelve un error con su clasificacion.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure construye una Failure clasificada.
func NewFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// KindOf extrae la clasificacion de un error. Errores sin clasificar se
// tratan como rechazo del servidor.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureServerRejected
}

// IsRetryable indica si la falla puede reintentarse o encolarse offline.
func IsRetryable(err error) bool {
	return KindOf(err) == FailureNetwork
}
