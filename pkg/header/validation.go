package header

import (
	"fmt"
	"time"

	"github.com/metanode/chaincore/pkg/crypto/hashing"
)

// ValidationConfig bounds timestamp drift and inter-block timing.
// Defaults mirror the values this lineage has always shipped with: a
// five-minute future-drift allowance, a one-second minimum block time,
// and a ten-minute maximum before a gap is merely a warning elsewhere
// in the stack (here, in Strict mode, it is an error).
type ValidationConfig struct {
	MaxTimestampDrift time.Duration
	MinBlockTime      time.Duration
	MaxBlockTime      time.Duration
	Strict            bool
}

// DefaultValidationConfig returns the standard bounds.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxTimestampDrift: 5 * time.Minute,
		MinBlockTime:      time.Second,
		MaxBlockTime:      10 * time.Minute,
		Strict:            true,
	}
}

// Validator validates single headers and chain continuity against cfg.
type Validator struct {
	cfg ValidationConfig
	now func() time.Time
}

// NewValidator builds a Validator with the default configuration.
func NewValidator() *Validator {
	return &Validator{cfg: DefaultValidationConfig(), now: time.Now}
}

// NewValidatorWithConfig builds a Validator with a custom configuration.
func NewValidatorWithConfig(cfg ValidationConfig) *Validator {
	return &Validator{cfg: cfg, now: time.Now}
}

// Validate checks a header's own structural shape: genesis headers must
// carry a zero prev_hash and empty body roots; non-genesis headers must
// carry a non-zero prev_hash. In Strict mode, a timestamp further in the future than
// MaxTimestampDrift is rejected.
func (v *Validator) Validate(h Header) error {
	var zero hashing.Hash
	if h.Height == 0 {
		if h.PrevHash != zero {
			return fmt.Errorf("%w: genesis prev_hash must be zero", ErrBadHeader)
		}
		if h.ReceiptsRoot != zero || h.DaRoot != zero || h.XcmpRoot != zero {
			return fmt.Errorf("%w: genesis body roots must be empty", ErrBadHeader)
		}
	} else if h.PrevHash == zero {
		return fmt.Errorf("%w: non-genesis header missing prev_hash", ErrBadHeader)
	}

	if v.cfg.Strict {
		drift := v.now().Sub(time.Unix(h.Timestamp, 0))
		if -drift > v.cfg.MaxTimestampDrift {
			return fmt.Errorf("%w: timestamp %ds too far in the future", ErrBadHeader, int64(-drift.Seconds()))
		}
	}
	return nil
}

// ValidateContinuity checks h against its claimed parent: height must
// be parent.height+1, prev_hash must equal hash(parent), and the
// inter-block timestamp delta must fall within [MinBlockTime,
// MaxBlockTime] (the upper bound is a warning-only concern upstream,
// but enforced here under Strict mode per this package's contract).
func (v *Validator) ValidateContinuity(h, parent Header) error {
	if h.Height != parent.Height+1 {
		return fmt.Errorf("%w: height %d is not parent height %d + 1", ErrChainBreak, h.Height, parent.Height)
	}
	parentHash, err := HashOf(parent)
	if err != nil {
		return fmt.Errorf("%w: hashing parent: %v", ErrChainBreak, err)
	}
	if h.PrevHash != parentHash {
		return fmt.Errorf("%w: prev_hash does not match parent hash", ErrChainBreak)
	}

	delta := time.Duration(h.Timestamp-parent.Timestamp) * time.Second
	if delta < v.cfg.MinBlockTime {
		return fmt.Errorf("%w: block time %s below minimum %s", ErrChainBreak, delta, v.cfg.MinBlockTime)
	}
	if v.cfg.Strict && delta > v.cfg.MaxBlockTime {
		return fmt.Errorf("%w: block time %s exceeds maximum %s", ErrChainBreak, delta, v.cfg.MaxBlockTime)
	}
	return nil
}
