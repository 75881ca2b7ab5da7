package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/brojonat/mintmarket/service/market"
	"github.com/brojonat/mintmarket/service/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

var (
	// ErrNoSigner is returned by write methods when the client has no signer.
	ErrNoSigner = errors.New("ledger client has no signer")
	// ErrReverted is returned when a mined transaction did not succeed.
	ErrReverted = errors.New("transaction reverted")
	// ErrEmptyResult is returned when a read comes back with no data, which
	// usually means nothing is deployed at the contract address.
	ErrEmptyResult = errors.New("contract call returned no data")
)

// DefaultReceiptPollInterval is how often a pending transaction's receipt is polled.
const DefaultReceiptPollInterval = 2 * time.Second

// RPCClient is the subset of the JSON-RPC API the client needs.
// *ethclient.Client satisfies it; tests substitute an in-memory node.
type RPCClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Signer signs transactions on behalf of one account.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Options configures a Client.
type Options struct {
	RegistryAddress    common.Address
	MarketplaceAddress common.Address

	// ChainID is queried from the node when nil.
	ChainID *big.Int
	// Signer is required for writes only.
	Signer Signer
	// GasLimit fixes the gas of every write. Zero means estimate.
	GasLimit            uint64
	ReceiptPollInterval time.Duration
	// ReadsPerSecond paces contract reads. Zero disables pacing.
	ReadsPerSecond float64

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Client is the ledger gateway: typed access to the token registry and the
// marketplace contracts over JSON-RPC.
type Client struct {
	rpc          RPCClient
	registry     common.Address
	marketplace  common.Address
	signer       Signer
	gasLimit     uint64
	pollInterval time.Duration
	limiter      *rate.Limiter
	metrics      *metrics.Metrics
	logger       *slog.Logger
	closeFn      func()

	chainMu sync.Mutex
	chainID *big.Int
}

var (
	_ RPCClient            = (*ethclient.Client)(nil)
	_ market.TokenRegistry = (*Client)(nil)
	_ market.Marketplace   = (*Client)(nil)
)

// NewClient wraps an RPC connection.
func NewClient(rpc RPCClient, opts Options) (*Client, error) {
	if rpc == nil {
		return nil, fmt.Errorf("rpc client is required")
	}
	if opts.RegistryAddress == (common.Address{}) {
		return nil, fmt.Errorf("token registry address is required")
	}
	if opts.MarketplaceAddress == (common.Address{}) {
		return nil, fmt.Errorf("marketplace address is required")
	}
	if opts.ReceiptPollInterval <= 0 {
		opts.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		rpc:          rpc,
		registry:     opts.RegistryAddress,
		marketplace:  opts.MarketplaceAddress,
		signer:       opts.Signer,
		gasLimit:     opts.GasLimit,
		pollInterval: opts.ReceiptPollInterval,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With("component", "ledger"),
	}
	if opts.ChainID != nil {
		c.chainID = new(big.Int).Set(opts.ChainID)
	}
	if opts.ReadsPerSecond > 0 {
		burst := int(opts.ReadsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.ReadsPerSecond), burst)
	}
	return c, nil
}

// Dial connects to a JSON-RPC endpoint and returns a client over it.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger rpc: %w", err)
	}
	c, err := NewClient(ec, opts)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closeFn = ec.Close
	return c, nil
}

// Close releases the underlying connection when the client owns it.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// Account returns the signing account, or the zero account when read-only.
func (c *Client) Account() market.Account {
	if c.signer == nil {
		return ""
	}
	return market.Account(c.signer.Address().Hex())
}

// ChainID returns the chain id writes are signed for.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.rpc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	c.chainID = id
	return id, nil
}

// TotalSupply returns the number of tokens the registry tracks.
func (c *Client) TotalSupply(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, c.registry, registryABI, "totalSupply")
	if err != nil {
		return 0, err
	}
	n, err := single[*big.Int](out, "totalSupply")
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("totalSupply: %s does not fit in 64 bits", n)
	}
	return n.Uint64(), nil
}

// TokenByIndex returns the id of the token at enumeration position index.
func (c *Client) TokenByIndex(ctx context.Context, index uint64) (market.TokenID, error) {
	out, err := c.call(ctx, c.registry, registryABI, "tokenByIndex", new(big.Int).SetUint64(index))
	if err != nil {
		return 0, err
	}
	v, err := single[*big.Int](out, "tokenByIndex")
	if err != nil {
		return 0, err
	}
	return market.TokenIDFromBig(v)
}

// OwnerOf returns the current owner of id.
func (c *Client) OwnerOf(ctx context.Context, id market.TokenID) (market.Account, error) {
	out, err := c.call(ctx, c.registry, registryABI, "ownerOf", id.Big())
	if err != nil {
		return "", err
	}
	owner, err := single[common.Address](out, "ownerOf")
	if err != nil {
		return "", err
	}
	return market.Account(owner.Hex()), nil
}

// TokenURI returns the metadata locator stored for id.
func (c *Client) TokenURI(ctx context.Context, id market.TokenID) (string, error) {
	out, err := c.call(ctx, c.registry, registryABI, "tokenURI", id.Big())
	if err != nil {
		return "", err
	}
	return single[string](out, "tokenURI")
}

// Mint submits safeMint(to, cid). The cid is stored verbatim as the token URI.
func (c *Client) Mint(ctx context.Context, to market.Account, cid string) (market.PendingWrite, error) {
	addr, err := parseAddress(to)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, c.registry, registryABI, "safeMint", nil, addr, cid)
}

// GetPrice returns the listing price of id. Unlisted tokens report zero.
func (c *Client) GetPrice(ctx context.Context, id market.TokenID) (market.Price, error) {
	out, err := c.call(ctx, c.marketplace, marketplaceABI, "getPrice", id.Big())
	if err != nil {
		return market.Price{}, err
	}
	wei, err := single[*big.Int](out, "getPrice")
	if err != nil {
		return market.Price{}, err
	}
	return market.PriceFromWei(wei)
}

// IsForSale reports whether id is currently listed.
func (c *Client) IsForSale(ctx context.Context, id market.TokenID) (bool, error) {
	out, err := c.call(ctx, c.marketplace, marketplaceABI, "isForSale", id.Big())
	if err != nil {
		return false, err
	}
	return single[bool](out, "isForSale")
}

// ListForSale submits listNFTForSale(id, price in wei).
func (c *Client) ListForSale(ctx context.Context, id market.TokenID, price market.Price) (market.PendingWrite, error) {
	return c.transact(ctx, c.marketplace, marketplaceABI, "listNFTForSale", nil, id.Big(), price.Wei())
}

// Delist submits delistNFT(id).
func (c *Client) Delist(ctx context.Context, id market.TokenID) (market.PendingWrite, error) {
	return c.transact(ctx, c.marketplace, marketplaceABI, "delistNFT", nil, id.Big())
}

// Buy submits buyNFT(id) carrying payment as the transaction value.
func (c *Client) Buy(ctx context.Context, id market.TokenID, payment market.Price) (market.PendingWrite, error) {
	return c.transact(ctx, c.marketplace, marketplaceABI, "buyNFT", payment.Wei(), id.Big())
}

// call performs a read-only contract call and decodes its return values.
func (c *Client) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) (out []any, err error) {
	if err := c.waitRead(ctx, method); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordLedgerCall(method, time.Since(start).Seconds(), err)
		}
	}()

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &contract, Data: data}
	if c.signer != nil {
		msg.From = c.signer.Address()
	}
	raw, err := c.rpc.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s at %s: %w", method, contract.Hex(), ErrEmptyResult)
	}

	out, err = parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return out, nil
}

func (c *Client) waitRead(ctx context.Context, method string) error {
	if c.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if c.metrics != nil {
		c.metrics.RecordLedgerReadWait(method, time.Since(start).Seconds())
	}
	return nil
}

// transact builds, signs and broadcasts a contract call. It returns once the
// node has accepted the transaction; confirmation is awaited separately.
func (c *Client) transact(ctx context.Context, contract common.Address, parsed abi.ABI, method string, value *big.Int, args ...any) (pw market.PendingWrite, err error) {
	if c.signer == nil {
		return nil, ErrNoSigner
	}

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordLedgerCall(method, time.Since(start).Seconds(), err)
		}
	}()

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}
	if value == nil {
		value = new(big.Int)
	}
	from := c.signer.Address()

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce for %s: %w", from.Hex(), err)
	}

	gas := c.gasLimit
	if gas == 0 {
		estimate, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &contract, Value: value, Data: data})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas for %s: %w", method, err)
		}
		gas = estimate * 6 / 5
	}

	tx, err := c.buildTx(ctx, chainID, nonce, gas, contract, value, data)
	if err != nil {
		return nil, err
	}

	signed, err := c.signer.SignTx(tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", method, err)
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	c.logger.InfoContext(ctx, "transaction submitted",
		"method", method,
		"tx_hash", signed.Hash().Hex(),
		"from", from.Hex(),
		"nonce", nonce,
		"gas", gas,
	)

	return &pendingTx{
		rpc:      c.rpc,
		hash:     signed.Hash(),
		method:   method,
		interval: c.pollInterval,
		logger:   c.logger,
	}, nil
}

// buildTx prices a transaction as EIP-1559 when the chain reports a base fee
// and falls back to a legacy gas price otherwise.
func (c *Client) buildTx(ctx context.Context, chainID *big.Int, nonce, gas uint64, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	head, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	if head.BaseFee == nil {
		gasPrice, err := c.rpc.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     data,
		}), nil
	}

	tip, err := c.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas tip: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	}), nil
}

func parseAddress(a market.Account) (common.Address, error) {
	s := string(a)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not a hex address", market.ErrInvalidInput, s)
	}
	return common.HexToAddress(s), nil
}

// single extracts the only return value of a call.
func single[T any](out []any, method string) (T, error) {
	var zero T
	if len(out) != 1 {
		return zero, fmt.Errorf("%s: expected 1 return value, got %d", method, len(out))
	}
	v, ok := out[0].(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return v, nil
}
