package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/friendproxy/internal/model"
)

// purchaseDateLayout は同期ペイロードで使う購入日の書式。
const purchaseDateLayout = "2006-01-02"

// PostgresPortfolioRepo はPostgreSQLを使用したポートフォリオリポジトリ。
type PostgresPortfolioRepo struct {
	db *sql.DB
}

// NewPostgresPortfolioRepo はPostgresPortfolioRepoを生成する。
func NewPostgresPortfolioRepo(db *sql.DB) *PostgresPortfolioRepo {
	return &PostgresPortfolioRepo{db: db}
}

// ListHoldings は指定ユーザーの保有銘柄を登録順に返す。
func (r *PostgresPortfolioRepo) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT symbol, name, quantity, average_price, purchase_date
		 FROM portfolio_holdings WHERE user_id = $1 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	holdings := []model.Holding{}
	for rows.Next() {
		var h model.Holding
		var purchased sql.NullTime
		if err := rows.Scan(&h.Symbol, &h.Name, &h.Quantity, &h.AveragePrice, &purchased); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		if purchased.Valid {
			h.PurchaseDate = purchased.Time.Format(purchaseDateLayout)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate holdings: %w", err)
	}

	return holdings, nil
}

// compile-time interface check
var _ PortfolioRepository = (*PostgresPortfolioRepo)(nil)
