package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

// Options configures sampling and key redaction for Hooks.
type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	CASConflictEvery uint64
	PromotionEvery   uint64
	// Optional key redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

// Hooks is a structured-logging tiercache.Hooks implementation with
// per-event-kind sampling.
type Hooks struct {
	l    *slog.Logger
	opts Options

	casConflictCtr atomic.Uint64
	promotionCtr   atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Promotion(handle, key, region string) {
	if h.l == nil || !sample(h.opts.PromotionEvery, &h.promotionCtr) {
		return
	}
	h.l.Debug("tiercache.promotion",
		"handle", handle,
		"key", h.redact(key),
		"region", region)
}

func (h *Hooks) CASConflict(handle, key, region string, attempt int) {
	if h.l == nil || !sample(h.opts.CASConflictEvery, &h.casConflictCtr) {
		return
	}
	h.l.Info("tiercache.cas_conflict",
		"handle", handle,
		"key", h.redact(key),
		"region", region,
		"attempt", attempt)
}

func (h *Hooks) UpdateExhausted(key, region string, attempts int) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.update_exhausted",
		"key", h.redact(key),
		"region", region,
		"attempts", attempts)
}

func (h *Hooks) BackplaneApplyError(handle, key, region string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.backplane_apply_error",
		"handle", handle,
		"key", h.redact(key),
		"region", region,
		"err", err)
}

func (h *Hooks) HandleError(handle, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tiercache.handle_error",
		"handle", handle,
		"op", op,
		"err", err)
}

func (h *Hooks) PromotionError(handle, key, region string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.promotion_error",
		"handle", handle,
		"key", h.redact(key),
		"region", region,
		"err", err)
}
