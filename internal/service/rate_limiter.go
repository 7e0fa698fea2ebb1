package service

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SendRateLimiter limita la cantidad de envios por sesion en una ventana,
// para no saturar el servicio de asistente aguas arriba.
type SendRateLimiter interface {
	Allow(sessionID string) bool
}

const redisSendAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type redisSendRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

func NewRedisSendRateLimiter(client *redis.Client, window time.Duration, max int) SendRateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisSendRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "convo:send:rl:",
	}
}

func (l *redisSendRateLimiter) Allow(sessionID string) bool {
	if l == nil || l.client == nil {
		return true
	}
	key := strings.TrimSpace(sessionID)
	if key == "" {
		// Envios de creacion perezosa se cuentan en un bucket compartido.
		key = "unsaved"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 60
	}
	count, err := l.client.Eval(ctx, redisSendAllowScript, []string{l.prefix + key}, seconds).Int()
	if err != nil {
		// Ante una falla de redis preferimos dejar pasar el envio.
		return true
	}
	return count <= l.max
}
