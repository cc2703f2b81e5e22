package ton

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTonAPIClient_Transactions(t *testing.T) {
	var gotPath, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transactions":[
			{"hash":"h1","in_msg":{"value":5000000000,"decoded_body":{"text":"VIP-42-p30"}}},
			{"transaction_id":{"hash":"h2"},"in_msg":{"value":1000,"msg_data":{"text":"VIP-7-p30"}}},
			{"hash":"h3"}
		]}`))
	}))
	defer srv.Close()

	c := NewTonAPIClient(srv.URL, "", zerolog.Nop())
	txs, err := c.Transactions(context.Background(), "EQwallet")
	require.NoError(t, err)

	assert.Equal(t, "/v2/blockchain/accounts/EQwallet/transactions", gotPath)
	assert.Equal(t, "50", gotLimit)
	require.Len(t, txs, 3)
	assert.Equal(t, Transaction{Hash: "h1", ValueNano: 5_000_000_000, Comment: "VIP-42-p30"}, txs[0])
	assert.Equal(t, Transaction{Hash: "h2", ValueNano: 1000, Comment: "VIP-7-p30"}, txs[1])
	assert.Equal(t, Transaction{Hash: "h3"}, txs[2])
	assert.Equal(t, "tonapi", c.Name())
}

func TestToncenterClient_Transactions(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{"address": q.Get("address"), "limit": q.Get("limit"), "api_key": q.Get("api_key")}
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"transaction_id":{"lt":"1","hash":"c1"},"in_msg":{"value":"5000000000","message":"VIP-42-p30"}},
			{"transaction_id":{"hash":"c2"},"in_msg":{"value":"7","msg_data":{"@type":"msg.dataText","text":"VIP-1-p"}}}
		]}`))
	}))
	defer srv.Close()

	c := NewToncenterClient(srv.URL, "", "", zerolog.Nop())
	keyed := c.WithAPIKey("secret-key")
	txs, err := keyed.Transactions(context.Background(), "EQwallet")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"address": "EQwallet", "limit": "50", "api_key": "secret-key"}, gotQuery)
	require.Len(t, txs, 2)
	assert.Equal(t, Transaction{Hash: "c1", ValueNano: 5_000_000_000, Comment: "VIP-42-p30"}, txs[0])
	assert.Equal(t, "VIP-1-p", txs[1].Comment)
}

func TestExplorers_SameTransactionSameHash(t *testing.T) {
	raw := sha256.Sum256([]byte("payment"))
	hexHash := hex.EncodeToString(raw[:])
	b64Hash := base64.StdEncoding.EncodeToString(raw[:])

	tonapi := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transactions":[{"hash":"` + strings.ToUpper(hexHash) + `","in_msg":{"value":1,"decoded_body":{"text":"VIP-42-p30"}}}]}`))
	}))
	defer tonapi.Close()
	toncenter := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":[{"transaction_id":{"hash":"` + b64Hash + `"},"in_msg":{"value":"1","message":"VIP-42-p30"}}]}`))
	}))
	defer toncenter.Close()

	a, err := NewTonAPIClient(tonapi.URL, "", zerolog.Nop()).Transactions(context.Background(), "EQwallet")
	require.NoError(t, err)
	b, err := NewToncenterClient(toncenter.URL, "", "", zerolog.Nop()).Transactions(context.Background(), "EQwallet")
	require.NoError(t, err)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, hexHash, a[0].Hash)
	assert.Equal(t, hexHash, b[0].Hash)
}

func TestToncenterClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"invalid address"}`))
	}))
	defer srv.Close()

	_, err := NewToncenterClient(srv.URL, "", "", zerolog.Nop()).Transactions(context.Background(), "bad")
	assert.ErrorContains(t, err, "invalid address")
}

func TestExplorer_HTTPErrorAndBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewTonAPIClient(srv.URL, "", zerolog.Nop())
	for i := 0; i < 5; i++ {
		_, err := c.Transactions(context.Background(), "EQwallet")
		assert.Error(t, err)
	}
	// после трёх неудач breaker размыкается и запросы не уходят
	assert.Equal(t, 3, calls)
}
