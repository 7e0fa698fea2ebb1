package service

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAuthNotConfigured = errors.New("auth service not configured")
	ErrInvalidAccessKey  = errors.New("invalid access key")
)

// DeviceAuthService canjea la clave de acceso compartida por un par de
// tokens JWT para un dispositivo. La clave se compara contra un hash
// bcrypt cargado por configuracion; nunca se guarda en claro.
type DeviceAuthService struct {
	accessKeyHash []byte
	jwt           *JWTService
}

func NewDeviceAuthService(accessKeyHash string, jwtSvc *JWTService) *DeviceAuthService {
	return &DeviceAuthService{
		accessKeyHash: []byte(accessKeyHash),
		jwt:           jwtSvc,
	}
}

// Login valida la clave presentada y emite tokens para el device id.
func (s *DeviceAuthService) Login(deviceID, accessKey string) (TokenPair, error) {
	if s == nil || s.jwt == nil || len(s.accessKeyHash) == 0 {
		return TokenPair{}, ErrAuthNotConfigured
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || accessKey == "" {
		return TokenPair{}, ErrInvalidAccessKey
	}
	if err := bcrypt.CompareHashAndPassword(s.accessKeyHash, []byte(accessKey)); err != nil {
		return TokenPair{}, ErrInvalidAccessKey
	}
	return s.jwt.GeneratePair(deviceID)
}

// Refresh rota el refresh token del dispositivo.
func (s *DeviceAuthService) Refresh(refreshToken string) (TokenPair, error) {
	if s == nil || s.jwt == nil {
		return TokenPair{}, ErrAuthNotConfigured
	}
	return s.jwt.RefreshPair(refreshToken)
}

// Logout revoca el refresh token.
func (s *DeviceAuthService) Logout(refreshToken string) error {
	if s == nil || s.jwt == nil {
		return ErrAuthNotConfigured
	}
	return s.jwt.RevokeRefresh(refreshToken)
}
