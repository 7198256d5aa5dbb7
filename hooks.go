package tiercache

// Hooks are lightweight callbacks for high-signal manager events.
// Implementations MUST be cheap and non-blocking — the manager calls them
// on hot paths. Use hooks/async to offload expensive handlers onto a
// worker pool.
type Hooks interface {
	// A faster tier was populated with a value found in a slower one.
	Promotion(handle, key, region string)

	// A handle-level CompareAndSwap lost a race; the manager will retry if
	// attempts remain.
	CASConflict(handle, key, region string, attempt int)

	// An update loop exhausted its retries without a successful swap.
	UpdateExhausted(key, region string, attempts int)

	// A backplane message failed to apply against a local tier.
	BackplaneApplyError(handle, key, region string, err error)

	// A handle returned an error from Add/Put/Get/Remove/Expire/Clear.
	HandleError(handle, op string, err error)

	// Promoting a value into a faster tier failed; the read itself already
	// succeeded from the slower tier, so this is non-fatal.
	PromotionError(handle, key, region string, err error)
}

// NopHooks is the default no-op implementation.
type NopHooks struct{}

func (NopHooks) Promotion(string, string, string)                {}
func (NopHooks) CASConflict(string, string, string, int)         {}
func (NopHooks) UpdateExhausted(string, string, int)              {}
func (NopHooks) BackplaneApplyError(string, string, string, error) {}
func (NopHooks) HandleError(string, string, error)                {}
func (NopHooks) PromotionError(string, string, string, error)     {}
