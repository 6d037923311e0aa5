package multisig

import (
	"context"
	"net/url"
	"strings"

	"github.com/bartossh/Courier/address"
	"github.com/bartossh/Courier/normalizer"
)

// AccountInfo describes multisig relations of an account.
type AccountInfo struct {
	AccountAddress       string   `json:"accountAddress"`
	MinApproval          int      `json:"minApproval"`
	MinRemoval           int      `json:"minRemoval"`
	CosignatoryAddresses []string `json:"cosignatoryAddresses"`
	MultisigAddresses    []string `json:"multisigAddresses"`
}

// IsMultisig reports whether the account is a multisig account.
func (a AccountInfo) IsMultisig() bool {
	return len(a.CosignatoryAddresses) > 0
}

// IsCosignerOf reports whether the account cosigns at least one multisig account.
func (a AccountInfo) IsCosignerOf() bool {
	return len(a.MultisigAddresses) > 0
}

type accountMultisig struct {
	Multisig *AccountInfo `json:"multisig"`
}

// GetAccountInfo returns multisig information of the account, nil when the node has none.
func (c *Coordinator) GetAccountInfo(ctx context.Context, addr string) (*AccountInfo, error) {
	normalized, err := normalizer.NormalizeAddress(addr)
	if err != nil {
		return nil, err
	}
	var resp accountMultisig
	found, err := c.tm.Client().GetOptional(ctx, "/accounts/"+normalized+"/multisig", &resp)
	if err != nil || !found || resp.Multisig == nil {
		return nil, err
	}
	info := resp.Multisig
	info.AccountAddress = readable(info.AccountAddress)
	for i, a := range info.CosignatoryAddresses {
		info.CosignatoryAddresses[i] = readable(a)
	}
	for i, a := range info.MultisigAddresses {
		info.MultisigAddresses[i] = readable(a)
	}
	return info, nil
}

// readable converts hex encoded addresses returned by the node in to base32 form.
func readable(s string) string {
	if len(s) != 2*address.Size {
		return s
	}
	a, err := address.FromHex(s)
	if err != nil {
		return s
	}
	return a.String()
}

// PartialTransaction is an aggregate bonded transaction waiting for cosignatures.
type PartialTransaction struct {
	Meta struct {
		Hash                string `json:"hash"`
		MerkleComponentHash string `json:"merkleComponentHash"`
	} `json:"meta"`
	Transaction struct {
		SignerPublicKey string `json:"signerPublicKey"`
		Type            int    `json:"type"`
		Network         int    `json:"network"`
		MaxFee          string `json:"maxFee"`
		Deadline        string `json:"deadline"`
		Cosignatures    []struct {
			SignerPublicKey string `json:"signerPublicKey"`
		} `json:"cosignatures"`
	} `json:"transaction"`
}

// CosignedBy reports whether the public key already cosigned the transaction or is its signer.
func (p PartialTransaction) CosignedBy(publicKey string) bool {
	if equalHex(p.Transaction.SignerPublicKey, publicKey) {
		return true
	}
	for _, c := range p.Transaction.Cosignatures {
		if equalHex(c.SignerPublicKey, publicKey) {
			return true
		}
	}
	return false
}

type partialPage struct {
	Data []PartialTransaction `json:"data"`
}

// FetchPartialTransactions lists partial transactions involving the address.
func (c *Coordinator) FetchPartialTransactions(ctx context.Context, addr string) ([]PartialTransaction, error) {
	normalized, err := normalizer.NormalizeAddress(addr)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("address", normalized)
	var page partialPage
	if err := c.tm.Client().Get(ctx, PartialPath+"?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

func equalHex(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
