package model

// Quote は正規化済みの株価情報。
// RawDataには上流のペイロードを無加工で保持する。
type Quote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Timestamp     string  `json:"timestamp"`
	RawData       any     `json:"rawData"`
}

// ProfitLoss は正規化済みの損益情報。
type ProfitLoss struct {
	TotalProfit float64          `json:"totalProfit"`
	Percentage  float64          `json:"percentage"`
	Data        []map[string]any `json:"data"`
	Message     string           `json:"message"`
	RawData     any              `json:"rawData"`
}
