package multisig

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bartossh/Courier/address"
	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/normalizer"
	"github.com/bartossh/Courier/transaction"
	"github.com/bartossh/Courier/txmanager"
)

const (
	MaxCosignatories = 25
	CosignaturePath  = "/transactions/cosignature"
	PartialPath      = "/transactions/partial"

	// LockAmount is the currency amount in atomic units locked for every aggregate bonded transaction.
	LockAmount = 10_000_000
	// LockDuration is the hash lock duration in blocks.
	LockDuration = 480
)

var (
	ErrNoModification = errors.New("no multisig modification specified")
	ErrLockNotFinal   = errors.New("hash lock transaction was not confirmed")
)

// Result is the announce result of a multisig operation.
// LockHash is set when the aggregate was announced as bonded after a hash lock.
type Result struct {
	txmanager.AnnounceResult
	Bonded   bool   `json:"bonded"`
	LockHash string `json:"lock_hash,omitempty"`
}

// Coordinator builds and announces multisig account modifications and multisig transactions.
type Coordinator struct {
	tm  *txmanager.Manager
	log logger.Logger
}

// New creates a new Coordinator using the transaction manager primitives.
func New(tm *txmanager.Manager, log logger.Logger) *Coordinator {
	return &Coordinator{tm: tm, log: log}
}

// CreateModificationEmbedded creates embedded multisig account modification signed by the signerPublicKey account.
// The approval and removal values are deltas applied to the current thresholds.
func (c *Coordinator) CreateModificationEmbedded(
	signerPublicKey transaction.PublicKey, minApprovalDelta, minRemovalDelta int, additions, deletions []string,
) (transaction.Embedded, error) {
	var violations []string
	if minApprovalDelta < -MaxCosignatories || minApprovalDelta > MaxCosignatories {
		violations = append(violations, fmt.Sprintf("min approval delta must be between %d and %d", -MaxCosignatories, MaxCosignatories))
	}
	if minRemovalDelta < -MaxCosignatories || minRemovalDelta > MaxCosignatories {
		violations = append(violations, fmt.Sprintf("min removal delta must be between %d and %d", -MaxCosignatories, MaxCosignatories))
	}
	add, v := c.decodeAddresses(additions)
	violations = append(violations, v...)
	del, v := c.decodeAddresses(deletions)
	violations = append(violations, v...)
	if len(violations) > 0 {
		return transaction.Embedded{}, violation(violations)
	}
	return transaction.Embedded{
		Network: c.tm.Network(),
		Signer:  signerPublicKey,
		Body: transaction.MultisigModification{
			MinApprovalDelta: int8(minApprovalDelta),
			MinRemovalDelta:  int8(minRemovalDelta),
			Additions:        add,
			Deletions:        del,
		},
	}, nil
}

func (c *Coordinator) decodeAddresses(in []string) ([]address.Address, []string) {
	var violations []string
	out := make([]address.Address, 0, len(in))
	prefix := c.tm.Network().Identifier.Prefix()
	for _, s := range in {
		normalized, err := normalizer.RequireNetworkPrefix(s, prefix)
		if err != nil {
			violations = append(violations, fmt.Sprintf("invalid cosigner address %q: %s", s, reason(err)))
			continue
		}
		a, err := address.Decode(normalized)
		if err != nil {
			violations = append(violations, fmt.Sprintf("invalid cosigner address %q: %s", s, err))
			continue
		}
		out = append(out, a)
	}
	return out, violations
}

func reason(err error) string {
	var ve *normalizer.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}

func violation(v []string) error {
	return &normalizer.ValidationError{Field: "multisig", Reason: strings.Join(v, "; ")}
}

// CreateAggregateComplete wraps embedded transactions in to an aggregate complete transaction signed by the signer.
// The fee covers the requiredCosigners cosignatures: (size + requiredCosigners * 104) * feeMultiplier.
func (c *Coordinator) CreateAggregateComplete(
	feeMultiplier uint64, requiredCosigners int, embedded ...transaction.Embedded,
) (*transaction.Transaction, error) {
	return c.aggregate(false, feeMultiplier, requiredCosigners, embedded...)
}

func (c *Coordinator) aggregate(bonded bool, feeMultiplier uint64, requiredCosigners int, embedded ...transaction.Embedded) (*transaction.Transaction, error) {
	if feeMultiplier == 0 {
		feeMultiplier = c.tm.Config().FeeMultiplier
	}
	tx, err := c.tm.NewTransaction(&transaction.Aggregate{Bonded: bonded, Transactions: embedded}, requiredCosigners)
	if err != nil {
		return nil, err
	}
	tx.Fee = transaction.CalculateFee(tx.Size(), requiredCosigners, feeMultiplier)
	return tx, nil
}

// ConvertRequest converts the signer account in to a multisig account.
// MinApproval and MinRemoval are the target thresholds of the new account.
type ConvertRequest struct {
	Cosigners     []string             `json:"cosigners"`
	MinApproval   int                  `json:"min_approval"`
	MinRemoval    int                  `json:"min_removal"`
	FeeMultiplier uint64               `json:"fee_multiplier"`
	LocalSigners  []transaction.Signer `json:"-"` // cosigners whose keys are available
}

// ValidateConversion checks the conversion request reporting every violated constraint.
func (c *Coordinator) ValidateConversion(req ConvertRequest) error {
	var violations []string
	n := len(req.Cosigners)
	if n == 0 {
		violations = append(violations, "at least one cosigner is required")
	}
	if n > MaxCosignatories {
		violations = append(violations, fmt.Sprintf("maximum %d cosigners allowed", MaxCosignatories))
	}
	if req.MinApproval < 1 || req.MinApproval > n {
		violations = append(violations, fmt.Sprintf("min approval threshold must be between 1 and %d", n))
	}
	if req.MinRemoval < 1 || req.MinRemoval > n {
		violations = append(violations, fmt.Sprintf("min removal threshold must be between 1 and %d", n))
	}
	cosigners, v := c.decodeAddresses(req.Cosigners)
	violations = append(violations, v...)
	seen := make(map[address.Address]bool, len(cosigners))
	for _, a := range cosigners {
		if seen[a] {
			violations = append(violations, fmt.Sprintf("cosigner %s is listed more than once", a))
		}
		seen[a] = true
	}
	_, v = localCosigners(seen, req.LocalSigners)
	violations = append(violations, v...)
	if len(violations) > 0 {
		return violation(violations)
	}
	return nil
}

// localCosigners counts local signers that are listed cosigners, each signer counted once.
func localCosigners(cosigners map[address.Address]bool, local []transaction.Signer) (int, []string) {
	var violations []string
	counted := make(map[address.Address]bool, len(local))
	for _, s := range local {
		a, err := s.Address()
		if err != nil {
			violations = append(violations, fmt.Sprintf("local signer address unavailable: %s", err))
			continue
		}
		switch {
		case !cosigners[a]:
			violations = append(violations, fmt.Sprintf("local signer %s is not a listed cosigner", a))
		case counted[a]:
			violations = append(violations, fmt.Sprintf("local signer %s is given more than once", a))
		}
		counted[a] = true
	}
	var n int
	for a := range counted {
		if cosigners[a] {
			n++
		}
	}
	return n, violations
}

// BuildConversion validates the request and builds the unsigned conversion aggregate.
// The aggregate is bonded when not every cosigner key is available locally.
func (c *Coordinator) BuildConversion(req ConvertRequest) (*transaction.Transaction, error) {
	if err := c.ValidateConversion(req); err != nil {
		return nil, err
	}
	pub, err := c.signerKey()
	if err != nil {
		return nil, err
	}
	// a fresh account has zero thresholds so targets are the deltas
	embedded, err := c.CreateModificationEmbedded(pub, req.MinApproval, req.MinRemoval, req.Cosigners, nil)
	if err != nil {
		return nil, err
	}
	cosigners, _ := c.decodeAddresses(req.Cosigners)
	listed := make(map[address.Address]bool, len(cosigners))
	for _, a := range cosigners {
		listed[a] = true
	}
	local, _ := localCosigners(listed, req.LocalSigners)
	bonded := local < len(listed)
	return c.aggregate(bonded, req.FeeMultiplier, len(req.Cosigners), embedded)
}

// ConvertToMultisig converts the signer account in to multisig account and announces it.
// Additions opt in with their cosignatures, local signers cosign right away, the others later on the partial transaction.
func (c *Coordinator) ConvertToMultisig(ctx context.Context, req ConvertRequest) (Result, error) {
	tx, err := c.BuildConversion(req)
	if err != nil {
		return Result{}, err
	}
	res, err := c.signCosignAndAnnounce(ctx, tx, req.LocalSigners)
	if err != nil {
		return res, err
	}
	c.logInfo(fmt.Sprintf("multisig conversion %s announced with %d cosigners", res.Hash, len(req.Cosigners)))
	return res, nil
}

// ModifyRequest modifies an existing multisig account.
type ModifyRequest struct {
	MultisigPublicKey string               `json:"multisig_public_key"`
	MinApprovalDelta  int                  `json:"min_approval_delta"`
	MinRemovalDelta   int                  `json:"min_removal_delta"`
	Additions         []string             `json:"additions"`
	Deletions         []string             `json:"deletions"`
	Bonded            bool                 `json:"bonded"`
	FeeMultiplier     uint64               `json:"fee_multiplier"`
	LocalSigners      []transaction.Signer `json:"-"`
}

// ModifyMultisig changes thresholds by deltas and the set of cosignatories of the multisig account.
func (c *Coordinator) ModifyMultisig(ctx context.Context, req ModifyRequest) (Result, error) {
	if len(req.Additions) == 0 && len(req.Deletions) == 0 && req.MinApprovalDelta == 0 && req.MinRemovalDelta == 0 {
		return Result{}, ErrNoModification
	}
	multisigKey, err := transaction.ParsePublicKey(req.MultisigPublicKey)
	if err != nil {
		return Result{}, &normalizer.ValidationError{Field: "multisig_public_key", Reason: err.Error()}
	}
	embedded, err := c.CreateModificationEmbedded(multisigKey, req.MinApprovalDelta, req.MinRemovalDelta, req.Additions, req.Deletions)
	if err != nil {
		return Result{}, err
	}
	tx, err := c.aggregate(req.Bonded, req.FeeMultiplier, len(req.LocalSigners)+len(req.Additions), embedded)
	if err != nil {
		return Result{}, err
	}
	return c.signCosignAndAnnounce(ctx, tx, req.LocalSigners)
}

// TransferRequest is a transfer made from the multisig account and initiated by the signer as its cosigner.
type TransferRequest struct {
	MultisigPublicKey string                   `json:"multisig_public_key"`
	Transfer          normalizer.TransferInput `json:"transfer"`
	Bonded            bool                     `json:"bonded"`
	FeeMultiplier     uint64                   `json:"fee_multiplier"`
	LocalSigners      []transaction.Signer     `json:"-"`
}

// InitiateMultisigTransfer wraps the transfer from the multisig account in to an aggregate signed by the signer.
func (c *Coordinator) InitiateMultisigTransfer(ctx context.Context, req TransferRequest) (Result, error) {
	multisigKey, err := transaction.ParsePublicKey(req.MultisigPublicKey)
	if err != nil {
		return Result{}, &normalizer.ValidationError{Field: "multisig_public_key", Reason: err.Error()}
	}
	treq, err := normalizer.NormalizeTransfer(req.Transfer)
	if err != nil {
		return Result{}, err
	}
	// build only the body, the signer of the embedded transfer is the multisig account
	draft, err := c.tm.BuildTransfer(treq)
	if err != nil {
		return Result{}, err
	}
	embedded := transaction.Embedded{Network: c.tm.Network(), Signer: multisigKey, Body: draft.Body}
	tx, err := c.aggregate(req.Bonded, req.FeeMultiplier, len(req.LocalSigners), embedded)
	if err != nil {
		return Result{}, err
	}
	return c.signCosignAndAnnounce(ctx, tx, req.LocalSigners)
}

func (c *Coordinator) signCosignAndAnnounce(ctx context.Context, tx *transaction.Transaction, local []transaction.Signer) (Result, error) {
	signed, err := c.tm.Sign(tx)
	if err != nil {
		return Result{}, err
	}
	agg := tx.Body.(*transaction.Aggregate)
	for _, s := range local {
		cos, err := transaction.Cosign(s, signed.Hash)
		if err != nil {
			return Result{}, err
		}
		if err := agg.AddCosignature(cos); err != nil {
			return Result{}, err
		}
	}
	signed, err = tx.Signed()
	if err != nil {
		return Result{}, err
	}
	if !agg.Bonded {
		res, err := c.tm.Announce(ctx, txmanager.AnnouncePath, signed)
		return Result{AnnounceResult: res}, err
	}
	return c.announceBonded(ctx, signed)
}

// announceBonded locks funds for the bonded aggregate, waits for the lock confirmation and announces the partial transaction.
func (c *Coordinator) announceBonded(ctx context.Context, signed transaction.Signed) (Result, error) {
	n := c.tm.Network()
	lock, err := c.tm.NewTransaction(transaction.HashLock{
		Mosaic:   transaction.Mosaic{ID: n.CurrencyMosaicID, Amount: LockAmount},
		Duration: LockDuration,
		Hash:     signed.Hash,
	}, 0)
	if err != nil {
		return Result{}, err
	}
	lockRes, err := c.tm.SignAndAnnounce(ctx, lock)
	if err != nil {
		return Result{}, err
	}
	st, err := c.tm.WaitForConfirmation(ctx, lockRes.Hash, nil)
	if err != nil {
		return Result{LockHash: lockRes.Hash, Bonded: true}, err
	}
	if st.Group != txmanager.GroupConfirmed {
		return Result{LockHash: lockRes.Hash, Bonded: true}, errors.Join(ErrLockNotFinal, fmt.Errorf("lock status %s %s", st.Group, st.Code))
	}
	res, err := c.tm.Announce(ctx, txmanager.AnnouncePartialPath, signed)
	if err != nil {
		return Result{LockHash: lockRes.Hash, Bonded: true}, err
	}
	return Result{AnnounceResult: res, Bonded: true, LockHash: lockRes.Hash}, nil
}

// CosignPartialTransaction signs the hash of the partial transaction and announces the detached cosignature.
func (c *Coordinator) CosignPartialTransaction(ctx context.Context, hash string) (txmanager.AnnounceResult, error) {
	h, err := transaction.ParseHash(hash)
	if err != nil {
		return txmanager.AnnounceResult{}, &normalizer.ValidationError{Field: "hash", Reason: err.Error()}
	}
	if c.tm.Signer() == nil {
		return txmanager.AnnounceResult{}, txmanager.ErrSignerUnavailable
	}
	cos, err := transaction.Cosign(c.tm.Signer(), h)
	if err != nil {
		return txmanager.AnnounceResult{}, err
	}
	msg, err := c.tm.Client().Put(ctx, CosignaturePath, cos.Detached(h))
	if err != nil {
		return txmanager.AnnounceResult{}, err
	}
	c.logInfo(fmt.Sprintf("cosignature of %s announced", h))
	return txmanager.AnnounceResult{Hash: h.String(), APIMessage: msg.Message}, nil
}

// WaitForConfirmation follows the aggregate status, the partial group is reported as an update and polling continues.
func (c *Coordinator) WaitForConfirmation(
	ctx context.Context, hash string, timeout, interval time.Duration, onUpdate txmanager.StatusUpdateFunc,
) (txmanager.TransactionStatus, error) {
	return c.tm.PollForTransactionStatus(ctx, hash, timeout, interval, onUpdate)
}

func (c *Coordinator) signerKey() (transaction.PublicKey, error) {
	if c.tm.Signer() == nil {
		return transaction.PublicKey{}, txmanager.ErrSignerUnavailable
	}
	return c.tm.Signer().PublicKey()
}

func (c *Coordinator) logInfo(msg string) {
	if c.log != nil {
		c.log.Info(msg)
	}
}
