package walletapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/bartossh/Courier/batch"
	"github.com/bartossh/Courier/connmonitor"
	"github.com/bartossh/Courier/emulator"
	"github.com/bartossh/Courier/httpclient"
	"github.com/bartossh/Courier/logging"
	"github.com/bartossh/Courier/multisig"
	"github.com/bartossh/Courier/telemetry"
	"github.com/bartossh/Courier/transaction"
	"github.com/bartossh/Courier/txmanager"
	"github.com/bartossh/Courier/txqueue"
	"github.com/bartossh/Courier/wallet"
)

const testNode = "http://emulated-node:3000"

type online struct{}

func (online) InternetAvailable(context.Context) bool { return true }

func (online) NodeReachable(context.Context, string) (bool, string) { return true, "" }

type fixture struct {
	node   *emulator.Node
	svc    Services
	wallet *wallet.Wallet
}

func newFixture(t *testing.T, cfg emulator.Config) fixture {
	t.Helper()
	n, err := emulator.New(cfg, logging.New(nil, nil))
	require.NoError(t, err)
	ln := fasthttputil.NewInmemoryListener()
	ctx, cancel := context.WithCancel(context.Background())
	go n.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		n.Shutdown()
		ln.Close()
	})

	ccfg := httpclient.DefaultConfig(testNode)
	ccfg.Retry.MaxRetries = 0
	client := httpclient.New(ccfg, nil, httpclient.WithDial(func(string) (net.Conn, error) { return ln.Dial() }))
	w, err := wallet.New(transaction.Testnet)
	require.NoError(t, err)
	tcfg := txmanager.DefaultConfig()
	tcfg.PollInterval = 10 * time.Millisecond
	tm := txmanager.New(client, w, transaction.Testnet, tcfg, nil)
	q, err := txqueue.New(t.TempDir(), nil)
	require.NoError(t, err)
	bcfg := batch.DefaultConfig()
	bcfg.PollInterval = 10 * time.Millisecond

	return fixture{
		node:   n,
		wallet: w,
		svc: Services{
			Manager:      tm,
			Multisig:     multisig.New(tm, nil),
			Queue:        q,
			Submitter:    batch.New(tm, bcfg, nil),
			Monitor:      connmonitor.New(testNode, connmonitor.DefaultConfig(), nil, connmonitor.WithProber(online{})),
			Measurements: telemetry.New(),
		},
	}
}

func do(t *testing.T, f fixture, method, url string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, url, r)
	req.Header.Set("Content-Type", "application/json")
	res, err := NewRouter(f.svc, nil).Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, raw
}

func recipient(t *testing.T) string {
	t.Helper()
	w, err := wallet.New(transaction.Testnet)
	require.NoError(t, err)
	a, err := w.Address()
	require.NoError(t, err)
	return a.String()
}

func transfer(t *testing.T, message string) map[string]any {
	return map[string]any{
		"recipient": recipient(t),
		"mosaics":   []map[string]any{{"mosaic_id": "72C0212E67A08BCE", "amount": "1000000"}},
		"message":   message,
	}
}

func TestAliveAndAddress(t *testing.T) {
	f := newFixture(t, emulator.DefaultConfig())
	code, raw := do(t, f, http.MethodGet, AliveURL, nil)
	assert.Equal(t, http.StatusOK, code)
	var alive AliveResponse
	require.NoError(t, json.Unmarshal(raw, &alive))
	assert.True(t, alive.Alive)
	assert.Equal(t, ApiVersion, alive.APIVersion)

	code, raw = do(t, f, http.MethodGet, AddressURL, nil)
	assert.Equal(t, http.StatusOK, code)
	var addr AddressResponse
	require.NoError(t, json.Unmarshal(raw, &addr))
	want, _ := f.wallet.Address()
	assert.Equal(t, want.String(), addr.Address)
	assert.Equal(t, "testnet", addr.Network)
}

func TestSendAndStatus(t *testing.T) {
	f := newFixture(t, emulator.DefaultConfig())

	code, raw := do(t, f, http.MethodPost, EstimateURL, transfer(t, "hello"))
	require.Equal(t, http.StatusOK, code, string(raw))
	var est EstimateResponse
	require.NoError(t, json.Unmarshal(raw, &est))
	assert.Greater(t, est.Fee, uint64(0))

	code, raw = do(t, f, http.MethodPost, SendURL+"?wait=true", transfer(t, "hello"))
	require.Equal(t, http.StatusAccepted, code, string(raw))
	var sent SendResponse
	require.NoError(t, json.Unmarshal(raw, &sent))
	assert.True(t, sent.Ok)
	assert.Len(t, sent.Hash, 64)
	require.NotNil(t, sent.Status)
	assert.Equal(t, txmanager.GroupConfirmed, sent.Status.Group)

	code, raw = do(t, f, http.MethodGet, "/transactions/status/"+sent.Hash, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(raw), txmanager.GroupConfirmed)

	code, _ = do(t, f, http.MethodGet, "/transactions/status/"+strings.Repeat("0", 64), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestErrorMapping(t *testing.T) {
	cfg := emulator.DefaultConfig()
	cfg.RejectMessage = "Failure_Core_Insufficient_Balance"
	f := newFixture(t, cfg)

	bad := transfer(t, "x")
	bad["recipient"] = "not an address"
	code, raw := do(t, f, http.MethodPost, SendURL, bad)
	assert.Equal(t, http.StatusBadRequest, code)
	var res ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, "recipient", res.Field)
	assert.False(t, res.Ok)

	code, raw = do(t, f, http.MethodPost, SendURL, transfer(t, "x"))
	assert.Equal(t, http.StatusBadGateway, code)
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Contains(t, res.Err, "Failure_Core_Insufficient_Balance")

	code, _ = do(t, f, http.MethodGet, "/transactions/status/xyz", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestQueueLifecycle(t *testing.T) {
	f := newFixture(t, emulator.DefaultConfig())

	var ids []string
	for _, m := range []string{"first", "second"} {
		code, raw := do(t, f, http.MethodPost, QueueURL, transfer(t, m))
		require.Equal(t, http.StatusCreated, code, string(raw))
		var q QueuedResponse
		require.NoError(t, json.Unmarshal(raw, &q))
		assert.Greater(t, q.EstimatedFee, uint64(0))
		ids = append(ids, q.ID)
	}

	code, raw := do(t, f, http.MethodPost, QueueReorderURL, ReorderRequest{IDs: []string{ids[1], ids[0]}})
	require.Equal(t, http.StatusOK, code, string(raw))
	var list QueueResponse
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, ids[1], list.Transactions[0].ID)
	assert.Equal(t, list.Transactions[0].EstimatedFee+list.Transactions[1].EstimatedFee, list.TotalEstimatedFee)

	code, _ = do(t, f, http.MethodPost, QueueReorderURL, ReorderRequest{IDs: []string{ids[0]}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, raw = do(t, f, http.MethodPost, QueueSubmitURL, nil)
	require.Equal(t, http.StatusOK, code, string(raw))
	var sub SubmitResponse
	require.NoError(t, json.Unmarshal(raw, &sub))
	assert.Len(t, sub.Results, 2)
	assert.Equal(t, 2, sub.Confirmed)
	assert.True(t, f.svc.Queue.IsEmpty())
	assert.Len(t, f.node.Announced(), 2)

	code, raw = do(t, f, http.MethodPost, QueueSubmitURL, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(raw, &sub))
	assert.Empty(t, sub.Results)
}

func TestQueueRemoveAndClear(t *testing.T) {
	f := newFixture(t, emulator.DefaultConfig())
	for _, m := range []string{"a", "b", "c"} {
		code, _ := do(t, f, http.MethodPost, QueueURL, transfer(t, m))
		require.Equal(t, http.StatusCreated, code)
	}
	all := f.svc.Queue.GetAll()

	code, _ := do(t, f, http.MethodDelete, "/queue/"+all[0].ID, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, f, http.MethodDelete, "/queue/"+all[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, raw := do(t, f, http.MethodDelete, QueueURL, nil)
	assert.Equal(t, http.StatusOK, code)
	var cleared ClearedResponse
	require.NoError(t, json.Unmarshal(raw, &cleared))
	assert.Equal(t, 2, cleared.Removed)
}

func TestConnection(t *testing.T) {
	f := newFixture(t, emulator.DefaultConfig())
	code, raw := do(t, f, http.MethodGet, ConnectionURL+"?refresh=true", nil)
	require.Equal(t, http.StatusOK, code)
	var res ConnectionResponse
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, connmonitor.Online, res.State)
	assert.Equal(t, testNode, res.NodeURL)
	assert.NotEmpty(t, res.Title)

	f.svc.Monitor = nil
	code, _ = do(t, f, http.MethodGet, ConnectionURL, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestMultisigRoutes(t *testing.T) {
	f := newFixture(t, emulator.DefaultConfig())
	ms, cos := recipient(t), recipient(t)
	f.node.SetMultisig(ms, emulator.MultisigAccount{MinApproval: 1, MinRemoval: 1, CosignatoryAddresses: []string{cos}})

	code, raw := do(t, f, http.MethodGet, "/multisig/"+ms, nil)
	require.Equal(t, http.StatusOK, code, string(raw))
	var info multisig.AccountInfo
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, []string{cos}, info.CosignatoryAddresses)

	code, _ = do(t, f, http.MethodGet, "/multisig/"+cos, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, raw = do(t, f, http.MethodPost, MultisigConvertURL, map[string]any{
		"cosigners": []string{cos}, "min_approval": 1, "min_removal": 1,
	})
	require.Equal(t, http.StatusAccepted, code, string(raw))
	var res multisig.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.Bonded)
	assert.NotEmpty(t, res.LockHash)

	own, _ := f.wallet.Address()
	code, raw = do(t, f, http.MethodGet, "/multisig/"+own.String()+"/partial", nil)
	require.Equal(t, http.StatusOK, code)
	var partial []multisig.PartialTransaction
	require.NoError(t, json.Unmarshal(raw, &partial))
	require.Len(t, partial, 1)
	assert.Equal(t, res.Hash, partial[0].Meta.Hash)

	code, raw = do(t, f, http.MethodPost, MultisigConvertURL, map[string]any{"cosigners": []string{}, "min_approval": 1})
	assert.Equal(t, http.StatusBadRequest, code, string(raw))

	code, _ = do(t, f, http.MethodPost, "/multisig/cosign/"+res.Hash, nil)
	assert.Equal(t, http.StatusAccepted, code)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, emulator.DefaultConfig())
	do(t, f, http.MethodGet, AliveURL, nil)
	code, raw := do(t, f, http.MethodGet, MetricsURL, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(raw), metricRequest)
}
