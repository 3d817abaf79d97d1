package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/friendproxy/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByUserID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
// NULLのカラムはnilのまま返し、既定値の補完は呼び出し側で行う。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	var name sql.NullString
	var age, risk, horizon, goal, condition sql.NullInt64
	var income, netWorth, dependents, knowledge sql.NullInt64

	err := r.db.QueryRowContext(ctx,
		`SELECT name, age, risk_score, investment_horizon, financial_goal, financial_condition,
		        annual_income, total_net_worth, dependents, investment_knowledge
		 FROM user_profiles WHERE user_id = $1`,
		userID,
	).Scan(&name, &age, &risk, &horizon, &goal, &condition, &income, &netWorth, &dependents, &knowledge)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by user ID: %w", err)
	}

	p := &model.Profile{
		Age:                 nullInt(age),
		RiskScore:           nullInt(risk),
		InvestmentHorizon:   nullInt(horizon),
		FinancialGoal:       nullInt(goal),
		FinancialCondition:  nullInt(condition),
		AnnualIncome:        nullInt64(income),
		TotalNetWorth:       nullInt64(netWorth),
		Dependents:          nullInt(dependents),
		InvestmentKnowledge: nullInt(knowledge),
	}
	if name.Valid && name.String != "" {
		p.Name = &name.String
	}

	return p, nil
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
