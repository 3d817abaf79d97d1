package model

// Holding はユーザーのポートフォリオ1銘柄分の保有情報。
// 他コンポーネントが管理するデータソースから読み取る。
type Holding struct {
	Symbol       string
	Name         string
	Quantity     float64
	AveragePrice float64
	PurchaseDate string // YYYY-MM-DD
}

// Profile は同期ペイロードに載せるユーザープロフィール。
// nilのフィールドは既定値で補完される。
type Profile struct {
	Name                *string
	Age                 *int
	RiskScore           *int
	InvestmentHorizon   *int
	FinancialGoal       *int
	FinancialCondition  *int
	AnnualIncome        *int64
	TotalNetWorth       *int64
	Dependents          *int
	InvestmentKnowledge *int
}
