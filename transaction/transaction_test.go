package transaction

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/bartossh/Courier/address"
)

type keySigner struct {
	private ed25519.PrivateKey
	network Network
}

func newKeySigner(t *testing.T) keySigner {
	_, prv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return keySigner{private: prv, network: Testnet}
}

func (k keySigner) PublicKey() (PublicKey, error) {
	var p PublicKey
	copy(p[:], k.private.Public().(ed25519.PublicKey))
	return p, nil
}

func (k keySigner) Address() (address.Address, error) {
	p, _ := k.PublicKey()
	return k.network.Address(p), nil
}

func (k keySigner) Sign(data []byte) (Signature, error) {
	var s Signature
	copy(s[:], ed25519.Sign(k.private, data))
	return s, nil
}

func (k keySigner) SignTransaction(tx *Transaction) (Signature, error) {
	data, err := tx.SigningPayload()
	if err != nil {
		return Signature{}, err
	}
	return k.Sign(data)
}

func testRecipient(t *testing.T) address.Address {
	a, err := address.FromPublicKey(address.Testnet, make([]byte, 32))
	require.NoError(t, err)
	return a
}

func transferTx(t *testing.T, s keySigner) *Transaction {
	pub, _ := s.PublicKey()
	return &Transaction{
		Network:  Testnet,
		Signer:   pub,
		Fee:      18200,
		Deadline: Testnet.Deadline(time.Now(), DefaultDeadline),
		Body: Transfer{
			Recipient: testRecipient(t),
			Mosaics:   []Mosaic{{ID: Testnet.CurrencyMosaicID, Amount: 1_000_000}},
			Message:   "hello",
		},
	}
}

func TestTransferSerialize(t *testing.T) {
	s := newKeySigner(t)
	tx := transferTx(t, s)

	assert.Equal(t, HeaderSize+24+2+1+1+4+16+6, tx.Size())

	raw, err := tx.Serialize()
	assert.Nil(t, err)
	assert.Len(t, raw, tx.Size())

	h, err := ParseHeader(raw)
	assert.Nil(t, err)
	assert.Equal(t, uint32(tx.Size()), h.Size)
	assert.Equal(t, TypeTransfer, h.Type)
	assert.Equal(t, uint8(1), h.Version)
	assert.Equal(t, byte(address.Testnet), h.Network)
	assert.Equal(t, tx.Fee, h.Fee)
	assert.Equal(t, tx.Deadline, h.Deadline)
	assert.Equal(t, tx.Signer, h.Signer)

	rcp := testRecipient(t)
	assert.Equal(t, rcp[:], raw[HeaderSize:HeaderSize+24])
	assert.Equal(t, []byte{0x00, 'h', 'e', 'l', 'l', 'o'}, raw[len(raw)-6:])
}

func TestSignAttachAndHash(t *testing.T) {
	s := newKeySigner(t)
	tx := transferTx(t, s)

	_, err := tx.Signed()
	assert.ErrorIs(t, err, ErrUnsignedPayload)

	sig, err := s.SignTransaction(tx)
	require.NoError(t, err)
	signed, err := tx.AttachSignature(sig)
	require.NoError(t, err)

	assert.Len(t, signed.Hash.String(), 64)
	assert.Equal(t, TypeTransfer, signed.Type)

	data, err := tx.SigningPayload()
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(s.private.Public().(ed25519.PublicKey), data, sig[:]))

	fromPayload, err := HashFromPayload(Testnet, signed.Payload)
	assert.Nil(t, err)
	assert.Equal(t, signed.Hash, fromPayload)

	_, err = HashFromPayload(Mainnet, signed.Payload)
	assert.ErrorIs(t, err, ErrNetworkMismatch)

	tx.Deadline++
	changed, err := tx.Hash()
	assert.Nil(t, err)
	assert.NotEqual(t, signed.Hash, changed)
}

func TestParseHeaderFailures(t *testing.T) {
	_, err := ParseHeader(make([]byte, 10))
	assert.ErrorIs(t, err, ErrPayloadTooShort)

	raw := make([]byte, HeaderSize)
	raw[0] = 200
	_, err = ParseHeader(raw)
	assert.ErrorIs(t, err, ErrPayloadSize)
}

func TestAggregateCosignaturesDoNotChangeHash(t *testing.T) {
	initiator := newKeySigner(t)
	cosigner := newKeySigner(t)
	pub, _ := initiator.PublicKey()

	agg := &Aggregate{Transactions: []Embedded{
		{Network: Testnet, Signer: pub, Body: Transfer{Recipient: testRecipient(t), Mosaics: []Mosaic{{ID: 1, Amount: 1}}}},
		{Network: Testnet, Signer: pub, Body: MultisigModification{MinApprovalDelta: 1, MinRemovalDelta: 1, Additions: []address.Address{testRecipient(t)}}},
	}}
	tx := &Transaction{Network: Testnet, Signer: pub, Deadline: 1, Body: agg}

	embeddedTransfer := EmbeddedHeaderSize + 24 + 2 + 1 + 1 + 4 + 16
	embeddedModification := EmbeddedHeaderSize + 8 + 24
	assert.Equal(t, HeaderSize+40+padded(embeddedTransfer)+padded(embeddedModification), tx.Size())
	tx.Fee = CalculateFee(tx.Size(), 1, 100)

	sig, err := initiator.SignTransaction(tx)
	require.NoError(t, err)
	signed, err := tx.AttachSignature(sig)
	require.NoError(t, err)

	cosig, err := Cosign(cosigner, signed.Hash)
	require.NoError(t, err)
	assert.Nil(t, agg.AddCosignature(cosig))
	assert.ErrorIs(t, agg.AddCosignature(cosig), ErrCosignatureSigner)

	cosigned, err := tx.Signed()
	require.NoError(t, err)
	assert.Equal(t, signed.Hash, cosigned.Hash)
	assert.Equal(t, len(signed.Payload)+CosignatureSize, len(cosigned.Payload))

	cpub, _ := cosigner.PublicKey()
	assert.True(t, agg.HasCosigner(cpub))
	assert.True(t, ed25519.Verify(cosigner.private.Public().(ed25519.PublicKey), signed.Hash[:], cosig.Signature[:]))
}

func TestMerkleRoot(t *testing.T) {
	assert.Equal(t, Hash{}, merkleRoot(nil))

	a := Hash(sha3.Sum256([]byte("a")))
	b := Hash(sha3.Sum256([]byte("b")))
	c := Hash(sha3.Sum256([]byte("c")))
	assert.Equal(t, a, merkleRoot([]Hash{a}))

	pair := func(x, y Hash) Hash {
		return Hash(sha3.Sum256(append(append([]byte{}, x[:]...), y[:]...)))
	}
	assert.Equal(t, pair(a, b), merkleRoot([]Hash{a, b}))
	assert.Equal(t, pair(pair(a, b), pair(c, c)), merkleRoot([]Hash{a, b, c}))
}

func TestCalculateFee(t *testing.T) {
	assert.Equal(t, uint64(200*100), CalculateFee(200, 0, 100))
	assert.Equal(t, uint64((200+2*104)*100), CalculateFee(200, 2, 100))
	assert.Equal(t, uint64(0), CalculateFee(200, 2, 0))
}

func TestDeadline(t *testing.T) {
	now := time.Now()
	d := Testnet.Deadline(now, DefaultDeadline)
	assert.WithinDuration(t, now.Add(DefaultDeadline), Testnet.Time(d), time.Millisecond)
	assert.Equal(t, uint64(now.Add(DefaultDeadline).UnixMilli()-Testnet.EpochAdjustment*1000), uint64(d))
}

func TestDerivations(t *testing.T) {
	root := NamespaceID("symbol", 0)
	assert.NotZero(t, root&idFlag)
	child := NamespaceID("xym", root)
	assert.NotEqual(t, root, child)

	path, err := NamespacePath("symbol.xym")
	assert.Nil(t, err)
	assert.Equal(t, []uint64{root, child}, path)

	_, err = NamespacePath("symbol..xym")
	assert.ErrorIs(t, err, ErrEmptyNamespaceName)

	id := MosaicID(testRecipient(t), 7)
	assert.Zero(t, id&idFlag)
	assert.NotEqual(t, id, MosaicID(testRecipient(t), 8))

	k := MetadataKey("rating")
	assert.NotZero(t, k&idFlag)
	assert.Equal(t, k, MetadataKey("rating"))
}

func TestNamespaceRegistrationLayout(t *testing.T) {
	root := NamespaceRegistration{ID: NamespaceID("foo", 0), Duration: 86400, Name: "foo"}
	raw := root.appendTo(nil)
	assert.Len(t, raw, root.Size())
	assert.Equal(t, byte(0), raw[16])
	assert.Equal(t, byte(3), raw[17])

	child := NamespaceRegistration{ID: NamespaceID("bar", root.ID), ParentID: root.ID, Name: "bar"}
	raw = child.appendTo(nil)
	assert.Len(t, raw, child.Size())
	assert.Equal(t, byte(1), raw[16])
}

func TestMetadataLayout(t *testing.T) {
	m := Metadata{Target: MetadataMosaic, TargetAddress: testRecipient(t), TargetID: 5, Key: MetadataKey("k"), ValueSizeDelta: -2, Value: []byte{1, 2, 3}}
	assert.Equal(t, TypeMosaicMetadata, m.Type())
	raw := m.appendTo(nil)
	assert.Len(t, raw, m.Size())

	a := Metadata{TargetAddress: testRecipient(t), Key: 1, Value: []byte{1}}
	assert.Equal(t, TypeAccountMetadata, a.Type())
	assert.Len(t, a.appendTo(nil), a.Size())
	assert.Equal(t, m.Size()-8-2, a.Size())
}

func TestDetachedCosignatureJSON(t *testing.T) {
	s := newKeySigner(t)
	var h Hash
	h[0] = 0xAB
	c, err := Cosign(s, h)
	require.NoError(t, err)

	raw, err := json.Marshal(c.Detached(h))
	require.NoError(t, err)

	var m map[string]string
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "0", m["version"])
	assert.Equal(t, h.String(), m["parentHash"])
	assert.Len(t, m["signature"], 128)
	assert.Len(t, m["signerPublicKey"], 64)
}

func TestParseKeys(t *testing.T) {
	h, err := ParseHash("AB" + strings.Repeat("0", 62))
	assert.Nil(t, err)
	assert.Equal(t, byte(0xAB), h[0])

	_, err = ParseHash("zz")
	assert.ErrorIs(t, err, ErrInvalidHex)
	_, err = ParsePublicKey("AB")
	assert.ErrorIs(t, err, ErrInvalidHex)
}
