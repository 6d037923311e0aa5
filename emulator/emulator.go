package emulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/transaction"
)

const (
	ApiVersion = "1.2.0"
	Header     = "Courier-Node-Emulator"
)

var ErrWrongPortSpecified = errors.New("port must be between 1 and 65535")

// Config contains configuration of the node emulator.
type Config struct {
	Port                  int    `yaml:"port"`
	Network               string `yaml:"network"`                 // testnet or mainnet
	ConfirmAfterPolls     int    `yaml:"confirm_after_polls"`     // status queries answered unconfirmed before the final group
	FailureCode           string `yaml:"failure_code"`            // when set announced transactions end in the failed group with this code
	RejectMessage         string `yaml:"reject_message"`          // when set announces are rejected with 400 and this message
	APINode               string `yaml:"api_node"`                // reported api node health, up by default
	CosignaturesToConfirm int    `yaml:"cosignatures_to_confirm"` // detached cosignatures moving partial transaction to unconfirmed
}

// DefaultConfig returns the emulator configuration used by tests.
func DefaultConfig() Config {
	return Config{Port: 3000, Network: transaction.Testnet.Name, ConfirmAfterPolls: 2, APINode: "up", CosignaturesToConfirm: 1}
}

// Node emulates the REST and websocket API of a chain node, keeping all state in memory.
type Node struct {
	mux      sync.Mutex
	cfg      Config
	network  transaction.Network
	txs      map[string]*record
	order    []string
	accounts map[string]MultisigAccount
	metadata []MetadataEntry
	height   uint64
	hub      *hub
	app      *fiber.App
	log      logger.Logger
}

// New creates the node emulator with its routes.
func New(cfg Config, log logger.Logger) (*Node, error) {
	if cfg.Network == "" {
		cfg.Network = transaction.Testnet.Name
	}
	network, err := transaction.NetworkByName(cfg.Network)
	if err != nil {
		return nil, err
	}
	if cfg.APINode == "" {
		cfg.APINode = "up"
	}
	if cfg.CosignaturesToConfirm < 1 {
		cfg.CosignaturesToConfirm = 1
	}
	n := &Node{
		cfg:      cfg,
		network:  network,
		txs:      make(map[string]*record),
		accounts: make(map[string]MultisigAccount),
		height:   1,
		hub:      newHub(log),
		log:      log,
	}
	n.app = n.routes()
	return n, nil
}

// Network returns the emulated network.
func (n *Node) Network() transaction.Network {
	return n.network
}

// App returns the fiber application serving the node API.
func (n *Node) App() *fiber.App {
	return n.app
}

// Serve serves the node API on the listener until Shutdown.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	go n.hub.run(ctx)
	return n.app.Listener(ln)
}

// Shutdown stops the server.
func (n *Node) Shutdown() error {
	return n.app.Shutdown()
}

// SetHealth changes reported api node health.
func (n *Node) SetHealth(apiNode string) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.cfg.APINode = apiNode
}

// SetFailureCode makes transactions announced from now on fail with the code, empty code restores confirmation.
func (n *Node) SetFailureCode(code string) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.cfg.FailureCode = code
}

// SetRejectMessage makes the announce endpoints reject payloads with the message, empty message accepts them again.
func (n *Node) SetRejectMessage(msg string) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.cfg.RejectMessage = msg
}

// SetMultisig stores multisig information of the account returned by the multisig endpoint.
func (n *Node) SetMultisig(address string, account MultisigAccount) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.accounts[address] = account
}

// AddMetadata stores the metadata entry returned by the metadata endpoint.
func (n *Node) AddMetadata(e MetadataEntry) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.metadata = append(n.metadata, e)
}

// Announced returns announced transactions in announce order.
func (n *Node) Announced() []Announced {
	n.mux.Lock()
	defer n.mux.Unlock()
	out := make([]Announced, 0, len(n.order))
	for _, h := range n.order {
		r := n.txs[h]
		out = append(out, Announced{Hash: h, Type: r.header.Type, Payload: r.payload, Group: r.group, Cosigners: len(r.cosigners)})
	}
	return out
}

// Run runs the node emulator on the configured port until the context is canceled.
func Run(ctx context.Context, cfg Config, log logger.Logger) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return ErrWrongPortSpecified
	}
	n, err := New(cfg, log)
	if err != nil {
		return err
	}
	ctxx, cancel := context.WithCancel(ctx)
	defer cancel()
	go n.hub.run(ctxx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.app.Listen(fmt.Sprintf("0.0.0.0:%v", cfg.Port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctxx.Done():
		return n.app.ShutdownWithTimeout(5 * time.Second)
	}
}

func newRouter() *fiber.App {
	router := fiber.New(fiber.Config{
		Prefork:               false,
		CaseSensitive:         true,
		StrictRouting:         false,
		ReadTimeout:           time.Second * 5,
		WriteTimeout:          time.Second * 5,
		ServerHeader:          Header,
		AppName:               ApiVersion,
		Concurrency:           4096,
		DisableStartupMessage: true,
	})
	router.Use(recover.New())
	return router
}
