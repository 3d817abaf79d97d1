package normalize

import (
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// Rule は値の探索順を表すJSONPathのリスト。先頭から順に探索し、最初に見つかった値を採用する。
type Rule []string

// 株価の抽出ルール
var (
	PriceRule         = Rule{"$.currentPrice", "$.price", "$.data.currentPrice", "$.data.price"}
	ChangeRule        = Rule{"$.change", "$.data.change"}
	ChangePercentRule = Rule{"$.changePercent", "$.percentageChange", "$.data.changePercent", "$.data.percentageChange"}
	NameRule          = Rule{"$.name", "$.companyName", "$.shortName", "$.data.name"}
	TimestampRule     = Rule{"$.timestamp", "$.lastUpdated", "$.data.timestamp"}
)

// 損益の抽出ルール
var (
	ProfitItemsRule = Rule{"$.data.data", "$.data"}
	TotalProfitRule = Rule{"$.totalProfit", "$.total_profit", "$.profit", "$.data.totalProfit"}
	PercentageRule  = Rule{"$.percentage", "$.profitPercentage", "$.percent", "$.data.percentage"}
	MessageRule     = Rule{"$.message"}
)

// Lookup はdocに対してルールを順に評価し、最初に見つかったnil以外の値を返す。
func (r Rule) Lookup(doc any) (any, bool) {
	for _, path := range r {
		v, err := jsonpath.Get(path, doc)
		if err != nil || v == nil {
			continue
		}
		return v, true
	}
	return nil, false
}

// Number はルールで見つかった値を数値に変換する。見つからない、または変換できない場合は0を返す。
func (r Rule) Number(doc any) float64 {
	v, ok := r.Lookup(doc)
	if !ok {
		return 0
	}
	return ToDecimal(v).InexactFloat64()
}

// String はルールで見つかった最初の空でない文字列を返す。
func (r Rule) String(doc any) (string, bool) {
	for _, path := range r {
		v, err := jsonpath.Get(path, doc)
		if err != nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// Array はルールで見つかった最初の配列を返す。
func (r Rule) Array(doc any) ([]any, bool) {
	for _, path := range r {
		v, err := jsonpath.Get(path, doc)
		if err != nil {
			continue
		}
		if arr, ok := v.([]any); ok {
			return arr, true
		}
	}
	return nil, false
}

// ToDecimal はJSON値を数値に変換する。
// 数値はそのまま、数値文字列は "%"、","、"+"、空白を除いて解釈し、それ以外は0とする。
func ToDecimal(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case float32:
		return decimal.NewFromFloat32(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case string:
		cleaned := strings.Map(func(r rune) rune {
			switch r {
			case '%', ',', '+', ' ', '\t', '\n', '\r':
				return -1
			}
			return r
		}, n)
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}
