package ton

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
)

const DefaultToncenterBaseURL = "https://toncenter.com"

// ToncenterClient: запасной эксплорер (toncenter v2).
type ToncenterClient struct {
	*explorerClient
	apiKey string
}

func NewToncenterClient(baseURL, apiKey, proxyAddr string, logger zerolog.Logger) *ToncenterClient {
	if baseURL == "" {
		baseURL = DefaultToncenterBaseURL
	}
	return &ToncenterClient{
		explorerClient: newExplorerClient("toncenter", baseURL, proxyAddr, logger),
		apiKey:         apiKey,
	}
}

// WithAPIKey возвращает копию клиента с другим ключом; breaker и транспорт общие.
func (c *ToncenterClient) WithAPIKey(apiKey string) Explorer {
	return &ToncenterClient{explorerClient: c.explorerClient, apiKey: apiKey}
}

type toncenterResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Result []struct {
		TransactionID struct {
			Hash string `json:"hash"`
		} `json:"transaction_id"`
		TransactionHash string `json:"transaction_hash"`
		InMsg           *struct {
			Value   nanoValue `json:"value"`
			Message string    `json:"message"`
			MsgData msgData   `json:"msg_data"`
		} `json:"in_msg"`
	} `json:"result"`
}

func (c *ToncenterClient) Transactions(ctx context.Context, address string) ([]Transaction, error) {
	query := url.Values{
		"address": {address},
		"limit":   {strconv.Itoa(TxLimit)},
	}
	if c.apiKey != "" {
		query.Set("api_key", c.apiKey)
	}

	body, err := c.get(ctx, "/api/v2/getTransactions", query)
	if err != nil {
		return nil, fmt.Errorf("toncenter: %w", err)
	}

	var resp toncenterResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("toncenter: failed to parse response: %w", err)
	}
	if !resp.OK && resp.Error != "" {
		return nil, fmt.Errorf("toncenter: %s", resp.Error)
	}

	txs := make([]Transaction, 0, len(resp.Result))
	for _, raw := range resp.Result {
		tx := Transaction{Hash: raw.TransactionID.Hash}
		if tx.Hash == "" {
			tx.Hash = raw.TransactionHash
		}
		// base64 в hex, как у tonapi
		tx.Hash = NormalizeHash(tx.Hash)
		if raw.InMsg != nil {
			tx.ValueNano = int64(raw.InMsg.Value)
			// message: уже декодированный комментарий
			tx.Comment = raw.InMsg.Message
			if tx.Comment == "" {
				tx.Comment = string(raw.InMsg.MsgData)
			}
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
