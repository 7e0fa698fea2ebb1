package service

import (
	"errors"
	"testing"
	"time"
)

func TestJWTService_GenerateAndParse(t *testing.T) {
	svc := NewJWTService("secret", time.Minute, time.Hour)

	pair, err := svc.GeneratePair("device-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", pair)
	}
	if pair.ExpiresIn != 60 {
		t.Fatalf("expected expires_in 60, got %d", pair.ExpiresIn)
	}

	claims, err := svc.ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.DeviceID != "device-1" || claims.TokenType != "access" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTService_RefreshTokenNotValidAsAccess(t *testing.T) {
	svc := NewJWTService("secret", time.Minute, time.Hour)
	pair, err := svc.GeneratePair("device-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.ParseAccessToken(pair.RefreshToken); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("refresh token must not pass as access, got %v", err)
	}
}

func TestJWTService_RefreshRotates(t *testing.T) {
	svc := NewJWTService("secret", time.Minute, time.Hour)
	pair, err := svc.GeneratePair("device-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	rotated, err := svc.RefreshPair(pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := svc.ParseAccessToken(rotated.AccessToken)
	if err != nil {
		t.Fatalf("parse rotated access: %v", err)
	}
	if claims.DeviceID != "device-1" {
		t.Fatalf("device id must survive rotation, got %q", claims.DeviceID)
	}

	// El refresh usado quedo revocado.
	if _, err := svc.RefreshPair(pair.RefreshToken); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("reused refresh must be rejected, got %v", err)
	}
}

func TestJWTService_RevokeRefresh(t *testing.T) {
	svc := NewJWTService("secret", time.Minute, time.Hour)
	pair, err := svc.GeneratePair("device-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := svc.RevokeRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.RefreshPair(pair.RefreshToken); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("revoked refresh must be rejected, got %v", err)
	}
}

func TestJWTService_ExpiredToken(t *testing.T) {
	svc := NewJWTService("secret", time.Millisecond, time.Hour)
	pair, err := svc.GeneratePair("device-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := svc.ParseAccessToken(pair.AccessToken); !errors.Is(err, ErrJWTExpired) {
		t.Fatalf("expected ErrJWTExpired, got %v", err)
	}
}

func TestJWTService_WrongSecretRejected(t *testing.T) {
	issuer := NewJWTService("secret-a", time.Minute, time.Hour)
	verifier := NewJWTService("secret-b", time.Minute, time.Hour)

	pair, err := issuer.GeneratePair("device-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := verifier.ParseAccessToken(pair.AccessToken); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("foreign signature must be rejected, got %v", err)
	}
}

func TestJWTService_EmptyDeviceRejected(t *testing.T) {
	svc := NewJWTService("secret", time.Minute, time.Hour)
	if _, err := svc.GeneratePair("  "); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("expected ErrJWTInvalid, got %v", err)
	}
}
