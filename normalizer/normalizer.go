package normalizer

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MessageMaxBytes   = 1023
	AddressMinLength  = 39
	AddressMaxLength  = 40
	MaxMosaicsInTrx   = 255
	maxDivisibility   = 6
	fieldRecipient    = "recipient"
	fieldMosaics      = "mosaics"
	fieldMosaicID     = "mosaic_id"
	fieldAmount       = "amount"
	fieldMessage      = "message"
	fieldDivisibility = "divisibility"
)

// ValidationError tells which input field failed validation and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// MosaicInput is a mosaic entry as received from the user or the UI.
// MosaicID may be an integer or a hex string, Amount an integer or an integer decimal string.
type MosaicInput struct {
	MosaicID any `json:"mosaic_id"`
	Amount   any `json:"amount"`
}

// MosaicAmount is a normalized mosaic entry.
type MosaicAmount struct {
	MosaicID uint64 `json:"mosaic_id"`
	Amount   int64  `json:"amount"`
}

// HexID returns mosaic id in the upper case hex form used by the node.
func (m MosaicAmount) HexID() string {
	return fmt.Sprintf("%016X", m.MosaicID)
}

// NormalizeAddress strips hyphens and white spaces, upper cases the address and validates
// its length and network prefix.
func NormalizeAddress(s string) (string, error) {
	a := strings.ToUpper(strings.Join(strings.Fields(strings.ReplaceAll(s, "-", "")), ""))
	if a == "" {
		return "", invalid(fieldRecipient, "address is empty")
	}
	if len(a) < AddressMinLength || len(a) > AddressMaxLength {
		return "", invalid(fieldRecipient, "address must have %d to %d characters, got %d", AddressMinLength, AddressMaxLength, len(a))
	}
	if a[0] != 'N' && a[0] != 'T' {
		return "", invalid(fieldRecipient, "address must start with network character N or T, got %q", a[0])
	}
	for _, r := range a {
		if !(r >= 'A' && r <= 'Z') && !(r >= '2' && r <= '7') {
			return "", invalid(fieldRecipient, "address contains invalid character %q", r)
		}
	}
	return a, nil
}

// RequireNetworkPrefix normalizes the address and checks it belongs to the network with the prefix.
func RequireNetworkPrefix(s string, prefix byte) (string, error) {
	a, err := NormalizeAddress(s)
	if err != nil {
		return "", err
	}
	if a[0] != prefix {
		return "", invalid(fieldRecipient, "address %s does not belong to the network with prefix %c", a, prefix)
	}
	return a, nil
}

// NormalizeMosaicID accepts an unsigned or non negative integer or a hex string with or without 0x prefix.
func NormalizeMosaicID(v any) (uint64, error) {
	switch id := v.(type) {
	case uint64:
		return id, nil
	case uint32:
		return uint64(id), nil
	case uint:
		return uint64(id), nil
	case int:
		if id < 0 {
			return 0, invalid(fieldMosaicID, "mosaic id cannot be negative")
		}
		return uint64(id), nil
	case int64:
		if id < 0 {
			return 0, invalid(fieldMosaicID, "mosaic id cannot be negative")
		}
		return uint64(id), nil
	case float64:
		if id < 0 || id != math.Trunc(id) || id > math.MaxUint64 {
			return 0, invalid(fieldMosaicID, "mosaic id must be a non negative integer")
		}
		return uint64(id), nil
	case string:
		s := strings.ToLower(strings.TrimSpace(id))
		s = strings.TrimPrefix(s, "0x")
		if s == "" {
			return 0, invalid(fieldMosaicID, "mosaic id is empty")
		}
		if len(s) > 16 {
			return 0, invalid(fieldMosaicID, "mosaic id %q is longer than 16 hex digits", id)
		}
		n, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return 0, invalid(fieldMosaicID, "mosaic id %q is not hex", id)
		}
		return n, nil
	case nil:
		return 0, invalid(fieldMosaicID, "mosaic id is missing")
	default:
		return 0, invalid(fieldMosaicID, "unsupported mosaic id type %T", v)
	}
}

// NormalizeAmount accepts a positive integer or a string holding a positive integer in atomic units.
func NormalizeAmount(v any) (int64, error) {
	var amount int64
	switch a := v.(type) {
	case int:
		amount = int64(a)
	case int64:
		amount = a
	case int32:
		amount = int64(a)
	case uint64:
		if a > math.MaxInt64 {
			return 0, invalid(fieldAmount, "amount %d overflows", a)
		}
		amount = int64(a)
	case float64:
		if a != math.Trunc(a) || a > math.MaxInt64 || a < math.MinInt64 {
			return 0, invalid(fieldAmount, "amount %v must be an integer number of atomic units", a)
		}
		amount = int64(a)
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(a))
		if err != nil {
			return 0, invalid(fieldAmount, "amount %q is not a number", a)
		}
		if !d.IsInteger() {
			return 0, invalid(fieldAmount, "amount %q has a fractional part, atomic units are expected", a)
		}
		if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
			return 0, invalid(fieldAmount, "amount %q overflows", a)
		}
		amount = d.IntPart()
	case nil:
		return 0, invalid(fieldAmount, "amount is missing")
	default:
		return 0, invalid(fieldAmount, "unsupported amount type %T", v)
	}
	if amount <= 0 {
		return 0, invalid(fieldAmount, "mosaic amount must be positive")
	}
	return amount, nil
}

// NormalizeHumanAmount converts a human readable decimal amount like "1.5" in to atomic units
// of a mosaic with given divisibility.
func NormalizeHumanAmount(s string, divisibility uint8) (int64, error) {
	if divisibility > maxDivisibility {
		return 0, invalid(fieldDivisibility, "divisibility %d exceeds %d", divisibility, maxDivisibility)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, invalid(fieldAmount, "amount %q is not a number", s)
	}
	atomic := d.Shift(int32(divisibility))
	if !atomic.IsInteger() {
		return 0, invalid(fieldAmount, "amount %q has more than %d decimal places", s, divisibility)
	}
	if atomic.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, invalid(fieldAmount, "amount %q overflows", s)
	}
	if !atomic.IsPositive() {
		return 0, invalid(fieldAmount, "mosaic amount must be positive")
	}
	return atomic.IntPart(), nil
}

// FormatAmount formats atomic units as a human readable decimal amount.
func FormatAmount(amount int64, divisibility uint8) string {
	return decimal.New(amount, -int32(divisibility)).StringFixed(int32(divisibility))
}

// NormalizeMosaics validates every mosaic, sums amounts of duplicated ids and sorts result by id ascending.
func NormalizeMosaics(in []MosaicInput) ([]MosaicAmount, error) {
	if len(in) == 0 {
		return nil, invalid(fieldMosaics, "at least one mosaic is required")
	}
	sums := make(map[uint64]int64, len(in))
	for i, m := range in {
		id, err := NormalizeMosaicID(m.MosaicID)
		if err != nil {
			return nil, withIndex(err, i)
		}
		amount, err := NormalizeAmount(m.Amount)
		if err != nil {
			return nil, withIndex(err, i)
		}
		if sums[id] > math.MaxInt64-amount {
			return nil, invalid(fieldMosaics, "sum of amounts for mosaic %016X overflows", id)
		}
		sums[id] += amount
	}
	if len(sums) > MaxMosaicsInTrx {
		return nil, invalid(fieldMosaics, "at most %d distinct mosaics are allowed", MaxMosaicsInTrx)
	}
	out := make([]MosaicAmount, 0, len(sums))
	for id, amount := range sums {
		out = append(out, MosaicAmount{MosaicID: id, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MosaicID < out[j].MosaicID })
	return out, nil
}

// MosaicInputs turns normalized mosaics back in to inputs.
func MosaicInputs(mosaics []MosaicAmount) []MosaicInput {
	out := make([]MosaicInput, 0, len(mosaics))
	for _, m := range mosaics {
		out = append(out, MosaicInput{MosaicID: m.MosaicID, Amount: m.Amount})
	}
	return out
}

func withIndex(err error, i int) error {
	if ve, ok := err.(*ValidationError); ok {
		return &ValidationError{Field: fmt.Sprintf("%s[%d].%s", fieldMosaics, i, ve.Field), Reason: ve.Reason}
	}
	return err
}

// NormalizeMessage trims the message and checks it is valid UTF-8 of at most 1023 bytes.
func NormalizeMessage(s string) (string, error) {
	m := strings.TrimSpace(s)
	if !utf8.ValidString(m) {
		return "", invalid(fieldMessage, "message is not valid UTF-8")
	}
	if len(m) > MessageMaxBytes {
		return "", invalid(fieldMessage, "message is too long, maximum is %d bytes, got %d", MessageMaxBytes, len(m))
	}
	return m, nil
}

// TransferInput is the raw transfer request.
type TransferInput struct {
	Recipient string        `json:"recipient"`
	Mosaics   []MosaicInput `json:"mosaics"`
	Message   string        `json:"message"`
}

// TransferRequest is the validated and canonical transfer request.
type TransferRequest struct {
	Recipient string
	Mosaics   []MosaicAmount
	Message   string
}

// NormalizeTransfer validates all parts of the transfer input.
func NormalizeTransfer(in TransferInput) (TransferRequest, error) {
	recipient, err := NormalizeAddress(in.Recipient)
	if err != nil {
		return TransferRequest{}, err
	}
	mosaics, err := NormalizeMosaics(in.Mosaics)
	if err != nil {
		return TransferRequest{}, err
	}
	msg, err := NormalizeMessage(in.Message)
	if err != nil {
		return TransferRequest{}, err
	}
	return TransferRequest{Recipient: recipient, Mosaics: mosaics, Message: msg}, nil
}
