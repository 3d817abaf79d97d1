// Package normalize はFriend APIの応答を安定したJSON形状に整形する。
// 数値は常に数値型に変換し、欠落時は0とする。元の応答はrawDataに保持する。
package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/friendproxy/internal/model"
)

// DefaultProfitLossMessage は応答にmessageがない場合のメッセージ。
const DefaultProfitLossMessage = "Profit/loss calculated successfully"

// Normalizer はレスポンスノーマライザー。
type Normalizer struct {
	now func() time.Time
}

// New はNormalizerを生成する。
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// decode は本文をJSONとして解釈する。JSONでない場合は本文の文字列とfalseを返す。
func decode(body []byte) (any, bool) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return string(body), false
	}
	return doc, true
}

// Quote は株価応答を整形する。
func (n *Normalizer) Quote(symbol string, body []byte) model.Quote {
	doc, ok := decode(body)
	q := model.Quote{
		Symbol:    symbol,
		Name:      symbol,
		Timestamp: n.now().UTC().Format(time.RFC3339),
		RawData:   doc,
	}
	if !ok {
		return q
	}

	q.Price = PriceRule.Number(doc)
	q.Change = ChangeRule.Number(doc)
	q.ChangePercent = ChangePercentRule.Number(doc)
	if name, found := NameRule.String(doc); found {
		q.Name = name
	}
	if ts, found := TimestampRule.Lookup(doc); found {
		switch v := ts.(type) {
		case string:
			if v != "" {
				q.Timestamp = v
			}
		case float64:
			q.Timestamp = decimal.NewFromFloat(v).String()
		default:
			q.Timestamp = fmt.Sprint(v)
		}
	}
	return q
}

// ProfitLoss は損益応答を整形する。
//
// data.data（またはdata）が配列の場合、各要素のprofitを合計してtotalProfitとし、
// percentageは totalProfit / max(|最大のprofit|, 1) * 100 とする。
// 配列がない場合はトップレベルのtotalProfit、percentage相当の値を使う。
func (n *Normalizer) ProfitLoss(body []byte) model.ProfitLoss {
	doc, ok := decode(body)
	pl := model.ProfitLoss{
		Data:    []map[string]any{},
		Message: DefaultProfitLossMessage,
		RawData: doc,
	}
	if !ok {
		return pl
	}

	if msg, found := MessageRule.String(doc); found {
		pl.Message = msg
	}

	items, found := ProfitItemsRule.Array(doc)
	if !found {
		pl.TotalProfit = TotalProfitRule.Number(doc)
		pl.Percentage = PercentageRule.Number(doc)
		return pl
	}

	total := decimal.Zero
	var maxProfit decimal.Decimal
	for _, raw := range items {
		item, isMap := raw.(map[string]any)
		if !isMap {
			continue
		}
		profit := ToDecimal(item["profit"])

		row := make(map[string]any, len(item))
		for k, v := range item {
			row[k] = v
		}
		row["profit"] = profit.InexactFloat64()
		pl.Data = append(pl.Data, row)

		total = total.Add(profit)
		if len(pl.Data) == 1 || profit.GreaterThan(maxProfit) {
			maxProfit = profit
		}
	}

	pl.TotalProfit = total.InexactFloat64()
	pl.Percentage = Percentage(total, maxProfit).InexactFloat64()
	return pl
}

// Percentage は totalProfit / max(|maxProfit|, 1) * 100 を返す。
// ポートフォリオ加重の収益率ではない。
func Percentage(total, maxProfit decimal.Decimal) decimal.Decimal {
	denominator := decimal.Max(maxProfit.Abs(), decimal.NewFromInt(1))
	return total.Div(denominator).Mul(decimal.NewFromInt(100))
}
