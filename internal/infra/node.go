package infra

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"ratekeeper/internal/domain"
	"ratekeeper/pkg/units"
)

// NodeClient asks an Ethereum node for its suggested gas price.
// It implements domain.GasNode.
type NodeClient struct {
	client  *ethclient.Client
	url     string
	timeout time.Duration
	logger  *slog.Logger
}

// DialNode connects to the node RPC endpoint. For HTTP endpoints no request
// is made until the first call.
func DialNode(ctx context.Context, url string, timeout time.Duration) (*NodeClient, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, domain.NewFatalNetworkError("dial node", err)
	}
	return &NodeClient{
		client:  client,
		url:     url,
		timeout: timeout,
		logger:  slog.Default().With("module", "node"),
	}, nil
}

// SuggestGasPrice returns the node's gas price in wei.
func (n *NodeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	price, err := n.client.SuggestGasPrice(callCtx)
	if err != nil {
		return nil, domain.NewNetworkError("node gas price", fmt.Errorf("failed to get gas price: %w", err))
	}

	n.logger.Info("Fetched node gas price",
		slog.String("gas_price_wei", price.String()),
		slog.String("gas_price_gwei", units.FormatGwei(price)),
	)
	return price, nil
}

// Close releases the RPC connection.
func (n *NodeClient) Close() {
	n.client.Close()
}
