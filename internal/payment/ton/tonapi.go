package ton

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
)

const DefaultTonAPIBaseURL = "https://tonapi.io"

// TonAPIClient: основной эксплорер (tonapi.io v2).
type TonAPIClient struct {
	*explorerClient
}

func NewTonAPIClient(baseURL, proxyAddr string, logger zerolog.Logger) *TonAPIClient {
	if baseURL == "" {
		baseURL = DefaultTonAPIBaseURL
	}
	return &TonAPIClient{explorerClient: newExplorerClient("tonapi", baseURL, proxyAddr, logger)}
}

type tonAPIResponse struct {
	Transactions []struct {
		Hash          string `json:"hash"`
		TransactionID *struct {
			Hash string `json:"hash"`
		} `json:"transaction_id"`
		InMsg *struct {
			Value       nanoValue `json:"value"`
			MsgData     msgData   `json:"msg_data"`
			DecodedBody *struct {
				Text string `json:"text"`
			} `json:"decoded_body"`
		} `json:"in_msg"`
	} `json:"transactions"`
}

func (c *TonAPIClient) Transactions(ctx context.Context, address string) ([]Transaction, error) {
	body, err := c.get(ctx, "/v2/blockchain/accounts/"+url.PathEscape(address)+"/transactions",
		url.Values{"limit": {strconv.Itoa(TxLimit)}})
	if err != nil {
		return nil, fmt.Errorf("tonapi: %w", err)
	}

	var resp tonAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("tonapi: failed to parse response: %w", err)
	}

	txs := make([]Transaction, 0, len(resp.Transactions))
	for _, raw := range resp.Transactions {
		tx := Transaction{Hash: raw.Hash}
		if tx.Hash == "" && raw.TransactionID != nil {
			tx.Hash = raw.TransactionID.Hash
		}
		tx.Hash = NormalizeHash(tx.Hash)
		if raw.InMsg != nil {
			tx.ValueNano = int64(raw.InMsg.Value)
			tx.Comment = string(raw.InMsg.MsgData)
			if tx.Comment == "" && raw.InMsg.DecodedBody != nil {
				tx.Comment = raw.InMsg.DecodedBody.Text
			}
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
