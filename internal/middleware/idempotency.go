package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	idempotencyTimeout   = 2 * time.Second
)

type storedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// IdempotencyOption tunes how requests are keyed.
type IdempotencyOption func(*idempotency)

// KeyFromBody keys a request on a top-level string field of its JSON body
// when no Idempotency-Key header is sent. Keys derived this way live in their
// own namespace so they never clash with client-chosen header keys.
func KeyFromBody(field string) IdempotencyOption {
	return func(i *idempotency) { i.bodyField = field }
}

type idempotency struct {
	cache     *redis.Client
	ttl       time.Duration
	logger    *slog.Logger
	bodyField string
}

// Idempotency replays the first successful response for a repeated key on
// unsafe methods. Responses are held in Redis for ttl; a key whose request is
// still running answers 409, and failed requests release their key.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger, opts ...IdempotencyOption) fiber.Handler {
	i := &idempotency{cache: cache, ttl: ttl, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i.handle
}

func (i *idempotency) handle(c *fiber.Ctx) error {
	switch strings.ToUpper(c.Method()) {
	case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
		return c.Next()
	}

	key, ok := i.requestKey(c)
	if !ok {
		if i.bodyField != "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header or "+i.bodyField)
		}
		return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
	}
	log := i.logger.With(slog.String("idempotency_key", key))

	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()

	cached, err := i.cache.Get(ctx, key).Result()
	switch {
	case err == nil:
		return i.replay(c, cached, log)
	case !errors.Is(err, redis.Nil):
		log.Error("idempotency lookup failed", slog.Any("error", err))
		return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
	}

	reserved, err := i.cache.SetNX(ctx, key, inProgressMarker, i.ttl).Result()
	if err != nil {
		log.Error("idempotency reservation failed", slog.Any("error", err))
		return fiber.NewError(fiber.StatusInternalServerError, "idempotency reservation failure")
	}
	if !reserved {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}

	if err := c.Next(); err != nil {
		i.release(key)
		return err
	}
	if err := i.persist(c, key); err != nil {
		log.Error("failed to persist idempotent response", slog.Any("error", err))
		i.release(key)
		return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
	}
	return nil
}

// requestKey builds the Redis key. Header keys are scoped to the caller so two
// accounts cannot replay each other's responses.
func (i *idempotency) requestKey(c *fiber.Ctx) (string, bool) {
	if key := strings.TrimSpace(c.Get(idempotencyKeyHeader)); key != "" {
		if accountID := AccountID(c); accountID != "" {
			return idempotencyPrefix + accountID + ":" + key, true
		}
		return idempotencyPrefix + key, true
	}
	if i.bodyField == "" {
		return "", false
	}
	value := bodyString(c.Body(), i.bodyField)
	if value == "" {
		return "", false
	}
	return idempotencyPrefix + i.bodyField + ":" + value, true
}

func bodyString(body []byte, field string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	raw, ok := fields[field]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func (i *idempotency) replay(c *fiber.Ctx, cached string, log *slog.Logger) error {
	if cached == inProgressMarker {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		log.Warn("failed to decode stored idempotent response", slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}
	for header, value := range stored.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) {
			continue
		}
		c.Set(header, value)
	}
	return c.Status(stored.Status).SendString(stored.Body)
}

func (i *idempotency) persist(c *fiber.Ctx, key string) error {
	stored := storedResponse{
		Status:  c.Response().StatusCode(),
		Body:    string(c.Response().Body()),
		Headers: map[string]string{},
	}
	c.Response().Header.VisitAll(func(k, v []byte) {
		stored.Headers[string(k)] = string(v)
	})
	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()
	return i.cache.Set(ctx, key, payload, i.ttl).Err()
}

// release drops a reservation so the client may retry. Best effort.
func (i *idempotency) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()
	i.cache.Del(ctx, key)
}
