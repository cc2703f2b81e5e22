package ton

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// NanoPerTon: 1 TON = 10^9 нанотон.
const NanoPerTon = 1_000_000_000

// Transaction: входящая транзакция кошелька, как её видит эксплорер.
type Transaction struct {
	Hash      string
	ValueNano int64
	Comment   string
}

// Memo: комментарий, по которому платёж привязывается к пользователю и плану.
func Memo(userID, planID string) string {
	return fmt.Sprintf("VIP-%s-%s", userID, planID)
}

// ToNano переводит цену плана в нанотоны. Дробные нанотоны округляются вверх.
func ToNano(amount decimal.Decimal) int64 {
	return amount.Shift(9).Ceil().IntPart()
}

// NormalizeHash приводит хеш транзакции к нижнему hex. tonapi отдаёт hex, toncenter base64;
// одна и та же транзакция должна давать один ключ.
func NormalizeHash(h string) string {
	h = strings.TrimSpace(h)
	if len(h) == 64 {
		if b, err := hex.DecodeString(h); err == nil {
			return hex.EncodeToString(b)
		}
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(h); err == nil && len(b) == 32 {
			return hex.EncodeToString(b)
		}
	}
	return h
}

// Candidates возвращает все транзакции с memo в комментарии и суммой не меньше minNano,
// в порядке ответа эксплорера. Хеши в результате нормализованы.
func Candidates(txs []Transaction, memo string, minNano int64) []Transaction {
	var out []Transaction
	for _, tx := range txs {
		if tx.Hash == "" || tx.Comment == "" {
			continue
		}
		if containsMemo(tx.Comment, memo) && tx.ValueNano >= minNano {
			tx.Hash = NormalizeHash(tx.Hash)
			out = append(out, tx)
		}
	}
	return out
}

// containsMemo: memo входит в комментарий, и сразу за ним не продолжается идентификатор.
// Иначе VIP-1-2 совпал бы с VIP-1-23.
func containsMemo(comment, memo string) bool {
	for rest := comment; ; {
		i := strings.Index(rest, memo)
		if i < 0 {
			return false
		}
		end := i + len(memo)
		if end == len(rest) || !isIDChar(rest[end]) {
			return true
		}
		rest = rest[i+1:]
	}
}

func isIDChar(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == '-'
}

// Match: первая подходящая транзакция.
func Match(txs []Transaction, memo string, minNano int64) (Transaction, bool) {
	c := Candidates(txs, memo, minNano)
	if len(c) == 0 {
		return Transaction{}, false
	}
	return c[0], true
}

// nanoValue принимает сумму и числом (tonapi), и строкой (toncenter).
type nanoValue int64

func (v *nanoValue) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid nanoton value %q: %w", s, err)
	}
	*v = nanoValue(n)
	return nil
}

// msgData: строка или объект с text/comment.
type msgData string

func (m *msgData) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = msgData(s)
		return nil
	}

	var obj struct {
		Text    string `json:"text"`
		Comment string `json:"comment"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		// неизвестный формат тела сообщения: просто без комментария
		return nil
	}
	if obj.Text != "" {
		*m = msgData(obj.Text)
	} else {
		*m = msgData(obj.Comment)
	}
	return nil
}
