package core

import (
	"math"

	"github.com/pkg/errors"
)

// WithdrawalCaps is a rolling-window volume counter. The accumulator resets
// once ConfigIntervalLengthSeconds have passed since LastIntervalStartTimestamp.
// A zero interval disables the cap: the counter keeps moving but saturates.
type WithdrawalCaps struct {
	ConfigCapacity              int64  `json:"configCapacity" yaml:"capacity"`
	CurrentTotal                int64  `json:"currentTotal" yaml:"-"`
	LastIntervalStartTimestamp  uint64 `json:"lastIntervalStartTimestamp" yaml:"-"`
	ConfigIntervalLengthSeconds uint64 `json:"configIntervalLengthSeconds" yaml:"interval_seconds"`
}

func (w *WithdrawalCaps) Validate() error {
	if w.ConfigCapacity < 0 {
		return errors.Wrap(InvalidConfig, "withdrawal cap capacity must not be negative")
	}
	return nil
}

func (w *WithdrawalCaps) IsActive() bool {
	return w.ConfigIntervalLengthSeconds > 0
}

func (w *WithdrawalCaps) maybeReset(now uint64) {
	if now < w.LastIntervalStartTimestamp {
		return
	}
	if now-w.LastIntervalStartTimestamp >= w.ConfigIntervalLengthSeconds {
		w.LastIntervalStartTimestamp = now
		w.CurrentTotal = 0
	}
}

// Add records outgoing volume.
func (w *WithdrawalCaps) Add(amount uint64, now uint64) error {
	if !w.IsActive() {
		w.CurrentTotal = saturatingAdd(w.CurrentTotal, amount)
		return nil
	}
	if amount > math.MaxInt64 {
		return errors.Wrapf(IntegerOverflow, "withdrawal amount %d", amount)
	}
	w.maybeReset(now)

	total := w.CurrentTotal + int64(amount)
	if total < w.CurrentTotal {
		return errors.Wrap(MathOverflow, "withdrawal accumulator")
	}
	if total > w.ConfigCapacity {
		return errors.Wrapf(WithdrawalCapExceeded, "current %d + %d > capacity %d", w.CurrentTotal, amount, w.ConfigCapacity)
	}
	w.CurrentTotal = total
	return nil
}

// Sub records incoming volume, which frees capacity for the current window.
func (w *WithdrawalCaps) Sub(amount uint64, now uint64) error {
	if !w.IsActive() {
		w.CurrentTotal = saturatingSub(w.CurrentTotal, amount)
		return nil
	}
	if amount > math.MaxInt64 {
		return errors.Wrapf(IntegerOverflow, "deposit amount %d", amount)
	}
	w.maybeReset(now)

	total := w.CurrentTotal - int64(amount)
	if total > w.CurrentTotal {
		return errors.Wrap(MathOverflow, "withdrawal accumulator")
	}
	w.CurrentTotal = total
	return nil
}

func (w *WithdrawalCaps) Remaining(now uint64) int64 {
	if !w.IsActive() {
		return math.MaxInt64
	}
	current := w.CurrentTotal
	if now >= w.LastIntervalStartTimestamp && now-w.LastIntervalStartTimestamp >= w.ConfigIntervalLengthSeconds {
		current = 0
	}
	if current >= w.ConfigCapacity {
		return 0
	}
	return w.ConfigCapacity - current
}

func saturatingAdd(total int64, amount uint64) int64 {
	if amount > math.MaxInt64 || total > math.MaxInt64-int64(amount) {
		return math.MaxInt64
	}
	return total + int64(amount)
}

func saturatingSub(total int64, amount uint64) int64 {
	if amount > math.MaxInt64 || total < math.MinInt64+int64(amount) {
		return math.MinInt64
	}
	return total - int64(amount)
}
