package proxy

import (
	"github.com/hitoshi/friendproxy/internal/model"
)

// プロフィール未登録時の既定値
const (
	DefaultAge                 = 32
	DefaultRiskScore           = 7
	DefaultInvestmentHorizon   = 20
	DefaultFinancialGoal       = 2
	DefaultFinancialCondition  = 2
	DefaultAnnualIncome        = int64(2000000)
	DefaultTotalNetWorth       = int64(10000000)
	DefaultDependents          = 3
	DefaultInvestmentKnowledge = 2
)

// SyncHolding は同期ペイロードの保有銘柄。
type SyncHolding struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	PurchaseDate string  `json:"purchase_date"`
}

// SyncPayload はPOST /api/input/updateUserのリクエストボディ。
type SyncPayload struct {
	Name                string        `json:"name"`
	Email               string        `json:"email"`
	Password            string        `json:"password"`
	Portfolio           []SyncHolding `json:"portfolio"`
	Age                 int           `json:"Age"`
	RiskScore           int           `json:"RiskScore"`
	InvestmentHorizon   int           `json:"InvestmentHorizon"`
	FinancialGoal       int           `json:"FinancialGoal"`
	FinancialCondition  int           `json:"FinancialCondition"`
	AnnualIncome        int64         `json:"AnnualIncome"`
	TotalNetWorth       int64         `json:"TotalNetWorth"`
	Dependents          int           `json:"Dependents"`
	InvestmentKnowledge int           `json:"InvestmentKnowledge"`
}

// BuildSyncPayload はログイン情報・保有銘柄・プロフィールから同期ペイロードを組み立てる。
// profileがnil、または個々の項目がnilの場合は既定値を使う。名前が未登録の場合はメールアドレスを使う。
func BuildSyncPayload(secret model.Secret, holdings []model.Holding, profile *model.Profile) SyncPayload {
	if profile == nil {
		profile = &model.Profile{}
	}

	portfolio := make([]SyncHolding, 0, len(holdings))
	for _, h := range holdings {
		portfolio = append(portfolio, SyncHolding{
			Symbol:       h.Symbol,
			Name:         h.Name,
			Quantity:     h.Quantity,
			AveragePrice: h.AveragePrice,
			PurchaseDate: h.PurchaseDate,
		})
	}

	name := secret.Email
	if profile.Name != nil && *profile.Name != "" {
		name = *profile.Name
	}

	return SyncPayload{
		Name:                name,
		Email:               secret.Email,
		Password:            secret.Password,
		Portfolio:           portfolio,
		Age:                 orDefault(profile.Age, DefaultAge),
		RiskScore:           orDefault(profile.RiskScore, DefaultRiskScore),
		InvestmentHorizon:   orDefault(profile.InvestmentHorizon, DefaultInvestmentHorizon),
		FinancialGoal:       orDefault(profile.FinancialGoal, DefaultFinancialGoal),
		FinancialCondition:  orDefault(profile.FinancialCondition, DefaultFinancialCondition),
		AnnualIncome:        orDefault(profile.AnnualIncome, DefaultAnnualIncome),
		TotalNetWorth:       orDefault(profile.TotalNetWorth, DefaultTotalNetWorth),
		Dependents:          orDefault(profile.Dependents, DefaultDependents),
		InvestmentKnowledge: orDefault(profile.InvestmentKnowledge, DefaultInvestmentKnowledge),
	}
}

func orDefault[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}
