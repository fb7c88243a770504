// Package facilitatorapi is the HTTP intake surface. Mutating routes publish
// versioned events to the queue; read routes answer from the transfer store.
package facilitatorapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakemint/facilitator/internal/events"
	"github.com/stakemint/facilitator/internal/idempotency"
	"github.com/stakemint/facilitator/internal/queue"
	"github.com/stakemint/facilitator/internal/transfer"
)

var ErrInvalidConfig = errors.New("facilitatorapi: invalid config")

// JobReader answers status queries from the durable transfer store.
type JobReader interface {
	Get(ctx context.Context, requestID [32]byte) (transfer.Job, error)
	GetByMessageHash(ctx context.Context, hash common.Hash) (transfer.Job, error)
}

type Config struct {
	Producer      queue.Producer
	RequestTopic  string
	ProgressTopic string

	// AuthToken, when set, is required as a bearer token on mutating routes.
	AuthToken string

	RateLimitPerIPPerSecond float64
	RateLimitBurst          int
	RateLimitMaxTrackedIPs  int

	// EntropyFn feeds request-id derivation; defaults to crypto/rand.
	EntropyFn func() (uint64, error)

	Now func() time.Time
}

func NewHandler(cfg Config, jobs JobReader) (http.Handler, error) {
	if cfg.Producer == nil {
		return nil, fmt.Errorf("%w: nil producer", ErrInvalidConfig)
	}
	if jobs == nil {
		return nil, fmt.Errorf("%w: nil job reader", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.RequestTopic) == "" || strings.TrimSpace(cfg.ProgressTopic) == "" {
		return nil, fmt.Errorf("%w: missing topics", ErrInvalidConfig)
	}
	if cfg.EntropyFn == nil {
		cfg.EntropyFn = randomEntropy
	}
	if cfg.RateLimitPerIPPerSecond <= 0 {
		cfg.RateLimitPerIPPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.RateLimitMaxTrackedIPs <= 0 {
		cfg.RateLimitMaxTrackedIPs = 10_000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &handler{
		cfg:  cfg,
		jobs: jobs,
		limiter: newIPRateLimiter(
			cfg.RateLimitPerIPPerSecond,
			float64(cfg.RateLimitBurst),
			cfg.RateLimitMaxTrackedIPs,
		),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("POST /v1/transfers", h.withAuth(h.handleTransferSubmit))
	mux.HandleFunc("POST /v1/transfers/{requestId}/progress", h.withAuth(h.handleTransferProgress))
	mux.HandleFunc("GET /v1/transfers/{requestId}", h.handleTransferStatus)
	mux.HandleFunc("GET /v1/messages/{messageHash}", h.handleMessageStatus)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health checks must never be throttled.
		if r.URL.Path == "/healthz" {
			mux.ServeHTTP(w, r)
			return
		}

		now := h.cfg.Now().UTC()
		ip := clientIP(r)
		allowed := h.limiter.Allow(ip, now)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.cfg.RateLimitBurst))
		if !allowed {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"version": "v1",
				"error":   "rate_limited",
			})
			return
		}

		mux.ServeHTTP(w, r)
	}), nil
}

type handler struct {
	cfg     Config
	jobs    JobReader
	limiter *ipRateLimiter
}

func (h *handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if h.cfg.AuthToken == "" {
		return next
	}
	want := []byte(h.cfg.AuthToken)
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"version": "v1",
				"error":   "unauthorized",
			})
			return
		}
		next(w, r)
	}
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type transferSubmitBody struct {
	Direction    string `json:"direction"`
	Actor        string `json:"actor"`
	Amount       string `json:"amount"`
	Beneficiary  string `json:"beneficiary"`
	GasPrice     string `json:"gasPrice"`
	GasLimit     string `json:"gasLimit"`
	HashLock     string `json:"hashLock"`
	UnlockSecret string `json:"unlockSecret"`
	// Entropy distinguishes deliberate duplicate transfers; optional.
	Entropy string `json:"entropy"`
}

func (h *handler) handleTransferSubmit(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[transferSubmitBody](w, r)
	if !ok {
		return
	}

	direction := transfer.Direction(strings.TrimSpace(body.Direction))
	if direction != transfer.DirectionStake && direction != transfer.DirectionRedeem {
		writeError(w, http.StatusBadRequest, "invalid_direction")
		return
	}
	if !common.IsHexAddress(strings.TrimSpace(body.Actor)) {
		writeError(w, http.StatusBadRequest, "invalid_actor")
		return
	}
	if !common.IsHexAddress(strings.TrimSpace(body.Beneficiary)) {
		writeError(w, http.StatusBadRequest, "invalid_beneficiary")
		return
	}
	amount, err := parseDecimal(body.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	gasPrice, err := parseDecimal(body.GasPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_gas_price")
		return
	}
	gasLimit, err := parseDecimal(body.GasLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_gas_limit")
		return
	}
	lock, err := parseHex32(body.HashLock)
	if err != nil || lock == ([32]byte{}) {
		writeError(w, http.StatusBadRequest, "invalid_hash_lock")
		return
	}

	var secret *common.Hash
	if strings.TrimSpace(body.UnlockSecret) != "" {
		raw, err := parseHex32(body.UnlockSecret)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_unlock_secret")
			return
		}
		s := common.Hash(raw)
		secret = &s
	}

	entropy, err := parseEntropy(body.Entropy, h.cfg.EntropyFn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_entropy")
		return
	}

	actor := common.HexToAddress(strings.TrimSpace(body.Actor))
	req := transfer.Request{
		ID:          idempotency.RequestIDV1(string(direction), actor, lock, entropy),
		Direction:   direction,
		Actor:       actor,
		Amount:      amount,
		Beneficiary: common.HexToAddress(strings.TrimSpace(body.Beneficiary)),
		GasPrice:    gasPrice,
		GasLimit:    gasLimit,
		HashLock:    common.Hash(lock),
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	payload := events.BuildTransferRequest(req, secret)
	raw, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if err := h.cfg.Producer.PublishKeyed(r.Context(), h.cfg.RequestTopic, []byte(payload.RequestID), raw); err != nil {
		writeError(w, http.StatusInternalServerError, "publish_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":   "v1",
		"queued":    true,
		"requestId": payload.RequestID,
		"event":     payload,
	})
}

type transferProgressBody struct {
	UnlockSecret string `json:"unlockSecret"`
}

func (h *handler) handleTransferProgress(w http.ResponseWriter, r *http.Request) {
	id, err := parseHex32(r.PathValue("requestId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_id")
		return
	}
	body, ok := decodeJSONBody[transferProgressBody](w, r)
	if !ok {
		return
	}

	payload := events.TransferProgressV1{
		Version:      events.VersionTransferProgressV1,
		RequestID:    "0x" + hex.EncodeToString(id[:]),
		UnlockSecret: strings.TrimSpace(body.UnlockSecret),
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_unlock_secret")
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if err := h.cfg.Producer.PublishKeyed(r.Context(), h.cfg.ProgressTopic, []byte(payload.RequestID), raw); err != nil {
		writeError(w, http.StatusInternalServerError, "publish_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":   "v1",
		"queued":    true,
		"requestId": payload.RequestID,
	})
}

func (h *handler) handleTransferStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseHex32(r.PathValue("requestId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_id")
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"version":   "v1",
				"found":     false,
				"requestId": "0x" + hex.EncodeToString(id[:]),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (h *handler) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	raw, err := parseHex32(r.PathValue("messageHash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_message_hash")
		return
	}
	hash := common.Hash(raw)

	job, err := h.jobs.GetByMessageHash(r.Context(), hash)
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"version":     "v1",
				"found":       false,
				"messageHash": hash.Hex(),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// jobResponse never exposes the unlock secret; the secret gates progression
// and only travels through the intake payloads.
func jobResponse(job transfer.Job) map[string]any {
	resp := map[string]any{
		"version":          "v1",
		"found":            true,
		"requestId":        "0x" + hex.EncodeToString(job.Request.ID[:]),
		"direction":        string(job.Request.Direction),
		"state":            job.State.String(),
		"actor":            job.Request.Actor.Hex(),
		"amount":           job.Request.Amount.String(),
		"beneficiary":      job.Request.Beneficiary.Hex(),
		"hashLock":         job.Request.HashLock.Hex(),
		"originProgressed": job.OriginProgressed,
		"auxProgressed":    job.AuxProgressed,
		"secretKnown":      job.HasSecret(),
		"lastError":        job.LastError,
	}
	if job.MessageHash != (common.Hash{}) {
		resp["messageHash"] = job.MessageHash.Hex()
	}
	if job.Nonce != nil {
		resp["nonce"] = job.Nonce.String()
	}
	if job.DeclaredAtHeight != nil {
		resp["declaredAtHeight"] = job.DeclaredAtHeight.String()
	}
	if job.OriginTxHash != (common.Hash{}) {
		resp["originTxHash"] = job.OriginTxHash.Hex()
	}
	if job.AuxTxHash != (common.Hash{}) {
		resp["auxTxHash"] = job.AuxTxHash.Hex()
	}
	return resp
}

func parseHex32(s string) ([32]byte, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("invalid length")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

func parseDecimal(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("missing value")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("not a non-negative decimal: %q", s)
	}
	return v, nil
}

func parseEntropy(s string, fallback func() (uint64, error)) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback()
	}
	return strconv.ParseUint(s, 0, 64)
}

func randomEntropy() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"version": "v1",
		"error":   msg,
	})
}

func decodeJSONBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var out T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return out, false
	}
	return out, true
}

func clientIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(remote); err == nil {
		return addr.Addr().String()
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.String()
	}
	host := remote
	if i := strings.LastIndex(remote, ":"); i > 0 {
		host = remote[:i]
	}
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return addr.String()
	}
	return remote
}

type limiterState struct {
	tokens   float64
	lastAt   time.Time
	lastSeen time.Time
}

type ipRateLimiter struct {
	mu sync.Mutex

	refillPerSecond float64
	burst           float64
	maxTrackedIPs   int
	states          map[string]limiterState
}

func newIPRateLimiter(refillPerSecond float64, burst float64, maxTrackedIPs int) *ipRateLimiter {
	return &ipRateLimiter{
		refillPerSecond: refillPerSecond,
		burst:           burst,
		maxTrackedIPs:   maxTrackedIPs,
		states:          make(map[string]limiterState),
	}
}

func (l *ipRateLimiter) Allow(ip string, now time.Time) bool {
	if l == nil {
		return true
	}
	if ip == "" {
		ip = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[ip]
	if !ok {
		if len(l.states) >= l.maxTrackedIPs {
			l.evictOne()
		}
		l.states[ip] = limiterState{
			tokens:   l.burst - 1,
			lastAt:   now,
			lastSeen: now,
		}
		return true
	}

	elapsed := now.Sub(st.lastAt).Seconds()
	if elapsed > 0 {
		st.tokens += elapsed * l.refillPerSecond
		if st.tokens > l.burst {
			st.tokens = l.burst
		}
	}
	st.lastAt = now
	st.lastSeen = now

	if st.tokens < 1 {
		l.states[ip] = st
		return false
	}
	st.tokens -= 1
	l.states[ip] = st
	return true
}

func (l *ipRateLimiter) evictOne() {
	var oldestIP string
	var oldestAt time.Time
	first := true
	for ip, st := range l.states {
		if first || st.lastSeen.Before(oldestAt) {
			oldestIP = ip
			oldestAt = st.lastSeen
			first = false
		}
	}
	if oldestIP != "" {
		delete(l.states, oldestIP)
	}
}
