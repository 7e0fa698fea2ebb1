package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"convo-llm/internal/domain"
	"convo-llm/internal/email"
)

var ErrExporterNotConfigured = errors.New("exporter not configured")

// Exporter serializa una sesion a una forma exportable y devuelve la ruta
// del artefacto generado.
type Exporter interface {
	Export(ctx context.Context, session domain.Session, messages []domain.Message) (string, error)
}

// FileExporter escribe la transcripcion como JSON en un directorio local y
// opcionalmente la manda por correo. El correo es best-effort: una falla
// de SMTP no invalida la exportacion ya escrita.
type FileExporter struct {
	dir    string
	sender email.Sender
	to     string
	logger *zap.Logger
}

func NewFileExporter(dir string, sender email.Sender, to string, logger *zap.Logger) *FileExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &FileExporter{dir: dir, sender: sender, to: to, logger: logger}
}

type exportDocument struct {
	Session    domain.Session   `json:"session"`
	Messages   []domain.Message `json:"messages"`
	ExportedAt time.Time        `json:"exported_at"`
}

func (e *FileExporter) Export(ctx context.Context, session domain.Session, messages []domain.Message) (string, error) {
	if e == nil {
		return "", ErrExporterNotConfigured
	}

	doc := exportDocument{
		Session:    session,
		Messages:   messages,
		ExportedAt: time.Now().UTC(),
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	name := fmt.Sprintf("transcript-%s-%d.json", sanitizeID(session.ID), doc.ExportedAt.Unix())
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}

	if e.sender != nil && e.to != "" {
		subject := "Conversation transcript"
		if session.Title != "" {
			subject = "Conversation transcript: " + session.Title
		}
		if err := e.sender.SendTranscript(ctx, e.to, subject, string(payload)); err != nil {
			e.logger.Warn("email transcript failed", zap.Error(err), zap.String("path", path))
		}
	}

	return path, nil
}

func sanitizeID(id string) string {
	if id == "" {
		return "unsaved"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, id)
}
