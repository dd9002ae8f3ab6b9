package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"coinfolio/internal/domain"
)

const defaultBlocksTimeout = 10 * time.Second

// BlocksOptions parameterise per-chain block count access.
type BlocksOptions struct {
	EthereumRPCURL     string
	BitcoinExplorerURL string
	Timeout            time.Duration
}

// Blocks retrieves block counts: Ethereum over JSON-RPC, Bitcoin from a
// blockchain.info-style explorer endpoint.
type Blocks struct {
	opts   BlocksOptions
	logger zerolog.Logger
	client *http.Client

	ethMux sync.Mutex
	eth    *ethclient.Client
}

// NewBlocks constructs a block count fetcher.
func NewBlocks(opts BlocksOptions, logger zerolog.Logger) *Blocks {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultBlocksTimeout
	}
	return &Blocks{
		opts:   opts,
		logger: logger.With().Str("component", "blocks_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// FetchBlockCount returns the chain's current block count.
func (b *Blocks) FetchBlockCount(ctx context.Context, chain domain.Chain) (uint64, error) {
	timeout := b.opts.Timeout
	if timeout <= 0 {
		timeout = defaultBlocksTimeout
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	switch chain {
	case domain.ChainEthereum:
		return b.fetchEthereum(ctx)
	case domain.ChainBitcoin:
		return b.fetchBitcoin(ctx)
	default:
		return 0, fmt.Errorf("no block count source for chain %q", chain)
	}
}

func (b *Blocks) fetchEthereum(ctx context.Context) (uint64, error) {
	if b.opts.EthereumRPCURL == "" {
		return 0, errors.New("ethereum rpc url not configured")
	}
	client, err := b.getEthClient(ctx)
	if err != nil {
		return 0, err
	}
	count, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ethereum block number: %w", err)
	}
	return count, nil
}

func (b *Blocks) fetchBitcoin(ctx context.Context) (uint64, error) {
	if b.opts.BitcoinExplorerURL == "" {
		return 0, errors.New("bitcoin explorer url not configured")
	}

	endpoint := strings.TrimRight(b.opts.BitcoinExplorerURL, "/") + "/q/getblockcount"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("bitcoin explorer error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	count, err := strconv.ParseUint(strings.TrimSpace(string(payload)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse bitcoin block count: %w", err)
	}
	return count, nil
}

func (b *Blocks) getEthClient(ctx context.Context) (*ethclient.Client, error) {
	b.ethMux.Lock()
	defer b.ethMux.Unlock()

	if b.eth != nil {
		return b.eth, nil
	}
	client, err := ethclient.DialContext(ctx, b.opts.EthereumRPCURL)
	if err != nil {
		return nil, err
	}
	b.eth = client
	return client, nil
}

var _ BlockCountFetcher = (*Blocks)(nil)
