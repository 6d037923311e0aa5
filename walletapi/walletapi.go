package walletapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bartossh/Courier/batch"
	"github.com/bartossh/Courier/connmonitor"
	"github.com/bartossh/Courier/httpclient"
	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/multisig"
	"github.com/bartossh/Courier/normalizer"
	"github.com/bartossh/Courier/telemetry"
	"github.com/bartossh/Courier/transaction"
	"github.com/bartossh/Courier/txmanager"
	"github.com/bartossh/Courier/txqueue"
)

const (
	ApiVersion = "1.0.0"
	Header     = "Courier-Wallet-API"
)

const (
	MetricsURL         = "/metrics"                   // URL serves prometheus metrics.
	MonitorURL         = "/monitor"                   // URL serves fiber monitor page.
	AliveURL           = "/alive"                     // URL allows to check if server is alive.
	AddressURL         = "/address"                   // URL allows to check wallet address.
	EstimateURL        = "/transactions/estimate"     // URL allows to estimate transfer fee.
	SendURL            = "/transactions/send"         // URL allows to sign and announce transfer.
	StatusURL          = "/transactions/status/:hash" // URL allows to read transaction status.
	QueueURL           = "/queue"                     // URL allows to list, add to and clear the queue.
	QueueItemURL       = "/queue/:id"                 // URL allows to remove transaction from the queue.
	QueueReorderURL    = "/queue/reorder"             // URL allows to reorder the queue.
	QueueSubmitURL     = "/queue/submit"              // URL allows to submit all queued transactions.
	ConnectionURL      = "/connection"                // URL allows to read connection status.
	MultisigConvertURL = "/multisig/convert"          // URL allows to convert wallet account in to multisig.
	MultisigCosignURL  = "/multisig/cosign/:hash"     // URL allows to cosign partial transaction.
	MultisigInfoURL    = "/multisig/:address"         // URL allows to read multisig account info.
	MultisigPartialURL = "/multisig/:address/partial" // URL allows to read partial transactions of the account.
	metricRequest      = "courier_walletapi_request_seconds"
)

var ErrServiceUnavailable = errors.New("service is not configured")

// Config is the configuration of the wallet API.
type Config struct {
	Port int `yaml:"port"`
}

// Services are the wallet components exposed by the API. Monitor and Measurements are optional.
type Services struct {
	Manager      *txmanager.Manager
	Multisig     *multisig.Coordinator
	Queue        *txqueue.Queue
	Submitter    *batch.Submitter
	Monitor      *connmonitor.Monitor
	Measurements *telemetry.Measurements
}

type app struct {
	log logger.Logger
	s   Services
}

// NewRouter creates the wallet API router.
func NewRouter(s Services, log logger.Logger) *fiber.App {
	a := app{log: log, s: s}

	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   time.Second * 5,
		WriteTimeout:  time.Minute * 5,
		ServerHeader:  Header,
		AppName:       ApiVersion,
		Concurrency:   1024,
	})
	router.Use(recover.New())
	if s.Measurements != nil {
		s.Measurements.CreateObservableHistogram(metricRequest, "wallet API request handling time")
		router.Use(a.measure)
		router.Get(MetricsURL, adaptor.HTTPHandler(promhttp.HandlerFor(s.Measurements.Registry(), promhttp.HandlerOpts{})))
	}
	router.Get(MonitorURL, monitor.New(monitor.Config{Title: "Courier Wallet API"}))

	router.Get(AliveURL, a.alive)
	router.Get(AddressURL, a.address)

	router.Post(EstimateURL, a.estimate)
	router.Post(SendURL, a.send)
	router.Get(StatusURL, a.status)

	router.Get(QueueURL, a.listQueue)
	router.Post(QueueURL, a.addToQueue)
	router.Delete(QueueURL, a.clearQueue)
	router.Post(QueueReorderURL, a.reorderQueue)
	router.Post(QueueSubmitURL, a.submitQueue)
	router.Delete(QueueItemURL, a.removeFromQueue)

	router.Get(ConnectionURL, a.connection)

	router.Post(MultisigConvertURL, a.convert)
	router.Post(MultisigCosignURL, a.cosign)
	router.Get(MultisigPartialURL, a.partial)
	router.Get(MultisigInfoURL, a.multisigInfo)

	return router
}

// Run runs the wallet API. This blocks until the context is canceled.
func Run(ctx context.Context, cfg Config, s Services, log logger.Logger) error {
	router := NewRouter(s, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Listen(fmt.Sprintf("0.0.0.0:%v", cfg.Port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return router.ShutdownWithTimeout(5 * time.Second)
}

func (a *app) measure(c *fiber.Ctx) error {
	t0 := time.Now()
	err := c.Next()
	a.s.Measurements.RecordHistogramTime(metricRequest, time.Since(t0))
	return err
}

// ErrorResponse is returned by every failed request.
type ErrorResponse struct {
	Err   string `json:"err"`
	Field string `json:"field,omitempty"`
	Ok    bool   `json:"ok"`
}

// fail maps err to the response status and a message the wallet user can act on.
func (a *app) fail(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	res := ErrorResponse{Err: httpclient.UserMessage(err)}
	var ve *normalizer.ValidationError
	var ne *httpclient.NetworkError
	switch {
	case errors.As(err, &ve):
		code, res.Field = fiber.StatusBadRequest, ve.Field
	case errors.Is(err, multisig.ErrNoModification), errors.Is(err, transaction.ErrInvalidHex):
		code = fiber.StatusBadRequest
	case errors.Is(err, txmanager.ErrSignerUnavailable), errors.Is(err, ErrServiceUnavailable):
		code = fiber.StatusServiceUnavailable
	case errors.Is(err, txmanager.ErrTransactionStatusTimeout):
		code = fiber.StatusGatewayTimeout
	case errors.As(err, &ne):
		code = fiber.StatusBadGateway
	}
	if a.log != nil {
		a.log.Error(fmt.Sprintf("%s %s: %s", c.Method(), c.Path(), err))
	}
	return c.Status(code).JSON(res)
}

func (a *app) badRequest(c *fiber.Ctx, err error) error {
	return a.fail(c, &normalizer.ValidationError{Field: "body", Reason: err.Error()})
}

// AliveResponse is containing server alive data such as ApiVersion and APIHeader.
type AliveResponse struct {
	Alive      bool   `json:"alive"`
	APIVersion string `json:"api_version"`
	APIHeader  string `json:"api_header"`
}

func (a *app) alive(c *fiber.Ctx) error {
	return c.JSON(AliveResponse{Alive: true, APIVersion: ApiVersion, APIHeader: Header})
}

// AddressResponse is wallet address response.
type AddressResponse struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
	Network   string `json:"network"`
}

func (a *app) address(c *fiber.Ctx) error {
	signer := a.s.Manager.Signer()
	if signer == nil {
		return a.fail(c, txmanager.ErrSignerUnavailable)
	}
	addr, err := signer.Address()
	if err != nil {
		return a.fail(c, err)
	}
	pub, err := signer.PublicKey()
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(AddressResponse{Address: addr.String(), PublicKey: pub.String(), Network: a.s.Manager.Network().Name})
}

// EstimateResponse is the fee estimate of the transfer in atomic units.
type EstimateResponse struct {
	Fee uint64 `json:"fee"`
}

func (a *app) estimate(c *fiber.Ctx) error {
	var in normalizer.TransferInput
	if err := c.BodyParser(&in); err != nil {
		return a.badRequest(c, err)
	}
	fee, err := a.s.Manager.EstimateFee(in)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(EstimateResponse{Fee: fee})
}

// SendResponse is the announced transfer, Status is set when the request waited for the final status.
type SendResponse struct {
	txmanager.AnnounceResult
	Status *txmanager.TransactionStatus `json:"status,omitempty"`
	Ok     bool                         `json:"ok"`
}

func (a *app) send(c *fiber.Ctx) error {
	var in normalizer.TransferInput
	if err := c.BodyParser(&in); err != nil {
		return a.badRequest(c, err)
	}
	res, err := a.s.Manager.CreateSignAndAnnounce(c.UserContext(), in)
	if err != nil {
		return a.fail(c, err)
	}
	out := SendResponse{AnnounceResult: res, Ok: true}
	if c.Query("wait") == "true" {
		st, err := a.s.Manager.WaitForConfirmation(c.UserContext(), res.Hash, nil)
		if err != nil {
			return a.fail(c, err)
		}
		out.Status = &st
	}
	return c.Status(fiber.StatusAccepted).JSON(out)
}

func (a *app) status(c *fiber.Ctx) error {
	st, err := a.s.Manager.TransactionStatus(c.UserContext(), c.Params("hash"))
	if err != nil {
		return a.fail(c, err)
	}
	if st.Group == txmanager.GroupNotFound {
		return c.Status(fiber.StatusNotFound).JSON(st)
	}
	return c.JSON(st)
}

// QueueResponse lists queued transactions.
type QueueResponse struct {
	Transactions      []txqueue.QueuedTransaction `json:"transactions"`
	Count             int                         `json:"count"`
	TotalEstimatedFee uint64                      `json:"total_estimated_fee"`
}

func (a *app) queue() (*txqueue.Queue, error) {
	if a.s.Queue == nil {
		return nil, errors.Join(ErrServiceUnavailable, errors.New("transaction queue"))
	}
	return a.s.Queue, nil
}

func (a *app) listQueue(c *fiber.Ctx) error {
	q, err := a.queue()
	if err != nil {
		return a.fail(c, err)
	}
	txs := q.GetAll()
	return c.JSON(QueueResponse{Transactions: txs, Count: len(txs), TotalEstimatedFee: q.TotalEstimatedFee()})
}

// QueuedResponse is the id of the queued transaction.
type QueuedResponse struct {
	ID           string `json:"id"`
	EstimatedFee uint64 `json:"estimated_fee"`
}

func (a *app) addToQueue(c *fiber.Ctx) error {
	q, err := a.queue()
	if err != nil {
		return a.fail(c, err)
	}
	var in normalizer.TransferInput
	if err := c.BodyParser(&in); err != nil {
		return a.badRequest(c, err)
	}
	tx, err := Enqueueable(a.s.Manager, in)
	if err != nil {
		return a.fail(c, err)
	}
	id, err := q.Add(tx)
	if err != nil {
		return a.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(QueuedResponse{ID: id, EstimatedFee: tx.EstimatedFee})
}

// Enqueueable validates the transfer and estimates its fee so it can be queued.
func Enqueueable(tm *txmanager.Manager, in normalizer.TransferInput) (txqueue.QueuedTransaction, error) {
	req, err := normalizer.NormalizeTransfer(in)
	if err != nil {
		return txqueue.QueuedTransaction{}, err
	}
	fee, err := tm.EstimateFee(in)
	if err != nil {
		return txqueue.QueuedTransaction{}, err
	}
	return txqueue.QueuedTransaction{
		Recipient:    req.Recipient,
		Mosaics:      req.Mosaics,
		Message:      req.Message,
		EstimatedFee: fee,
	}, nil
}

// ClearedResponse is the number of removed transactions.
type ClearedResponse struct {
	Removed int `json:"removed"`
}

func (a *app) clearQueue(c *fiber.Ctx) error {
	q, err := a.queue()
	if err != nil {
		return a.fail(c, err)
	}
	n, err := q.Clear()
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(ClearedResponse{Removed: n})
}

func (a *app) removeFromQueue(c *fiber.Ctx) error {
	q, err := a.queue()
	if err != nil {
		return a.fail(c, err)
	}
	ok, err := q.Remove(c.Params("id"))
	if err != nil {
		return a.fail(c, err)
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Err: "transaction is not queued"})
	}
	return c.JSON(ClearedResponse{Removed: 1})
}

// ReorderRequest holds every queued id in the new order.
type ReorderRequest struct {
	IDs []string `json:"ids"`
}

func (a *app) reorderQueue(c *fiber.Ctx) error {
	q, err := a.queue()
	if err != nil {
		return a.fail(c, err)
	}
	var req ReorderRequest
	if err := c.BodyParser(&req); err != nil {
		return a.badRequest(c, err)
	}
	ok, err := q.Reorder(req.IDs)
	if err != nil {
		return a.fail(c, err)
	}
	if !ok {
		return a.fail(c, &normalizer.ValidationError{Field: "ids", Reason: "ids must list every queued transaction once"})
	}
	return a.listQueue(c)
}

// SubmitResponse is the outcome of the batch submission.
type SubmitResponse struct {
	Results   []batch.Result `json:"results"`
	Confirmed int            `json:"confirmed"`
}

func (a *app) submitQueue(c *fiber.Ctx) error {
	q, err := a.queue()
	if err != nil {
		return a.fail(c, err)
	}
	if a.s.Submitter == nil {
		return a.fail(c, errors.Join(ErrServiceUnavailable, errors.New("batch submitter")))
	}
	results, err := a.s.Submitter.SubmitAll(c.UserContext(), q)
	if errors.Is(err, batch.ErrEmptyQueue) {
		return c.JSON(SubmitResponse{Results: []batch.Result{}})
	}
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(SubmitResponse{Results: results, Confirmed: batch.Confirmed(results)})
}

// ConnectionResponse is the last connection status.
type ConnectionResponse struct {
	connmonitor.Status
	NodeURL string `json:"node_url"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

func (a *app) connection(c *fiber.Ctx) error {
	if a.s.Monitor == nil {
		return a.fail(c, errors.Join(ErrServiceUnavailable, errors.New("connection monitor")))
	}
	st := a.s.Monitor.Status()
	if c.Query("refresh") == "true" {
		st = a.s.Monitor.CheckConnection(c.UserContext())
	}
	title, body := connmonitor.StateMessage(st.State)
	return c.JSON(ConnectionResponse{Status: st, NodeURL: a.s.Monitor.NodeURL(), Title: title, Body: body})
}

func (a *app) convert(c *fiber.Ctx) error {
	var req multisig.ConvertRequest
	if err := c.BodyParser(&req); err != nil {
		return a.badRequest(c, err)
	}
	res, err := a.s.Multisig.ConvertToMultisig(c.UserContext(), req)
	if err != nil {
		return a.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

func (a *app) cosign(c *fiber.Ctx) error {
	res, err := a.s.Multisig.CosignPartialTransaction(c.UserContext(), c.Params("hash"))
	if err != nil {
		return a.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

func (a *app) multisigInfo(c *fiber.Ctx) error {
	info, err := a.s.Multisig.GetAccountInfo(c.UserContext(), c.Params("address"))
	if err != nil {
		return a.fail(c, err)
	}
	if info == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Err: "account is not multisig"})
	}
	return c.JSON(info)
}

func (a *app) partial(c *fiber.Ctx) error {
	txs, err := a.s.Multisig.FetchPartialTransactions(c.UserContext(), c.Params("address"))
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(txs)
}
