package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var profileColumns = []string{
	"name", "age", "risk_score", "investment_horizon", "financial_goal", "financial_condition",
	"annual_income", "total_net_worth", "dependents", "investment_knowledge",
}

func TestPostgresProfileRepo_FindByUserID_PartialProfile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT name, age, risk_score").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(profileColumns).
			AddRow("Alice", int64(41), nil, nil, nil, nil, int64(5000000), nil, nil, nil))

	p, err := NewPostgresProfileRepo(db).FindByUserID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FindByUserID がエラーを返した: %v", err)
	}
	if p == nil {
		t.Fatal("プロフィールがnilである")
	}
	if p.Name == nil || *p.Name != "Alice" {
		t.Errorf("Name = %v, want Alice", p.Name)
	}
	if p.Age == nil || *p.Age != 41 {
		t.Errorf("Age = %v, want 41", p.Age)
	}
	if p.AnnualIncome == nil || *p.AnnualIncome != 5000000 {
		t.Errorf("AnnualIncome = %v, want 5000000", p.AnnualIncome)
	}
	if p.RiskScore != nil {
		t.Errorf("RiskScore = %v, want nil", *p.RiskScore)
	}
	if p.Dependents != nil {
		t.Errorf("Dependents = %v, want nil", *p.Dependents)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("未実行の期待クエリがある: %v", err)
	}
}

func TestPostgresProfileRepo_FindByUserID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT name, age, risk_score").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(profileColumns))

	p, err := NewPostgresProfileRepo(db).FindByUserID(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("FindByUserID がエラーを返した: %v", err)
	}
	if p != nil {
		t.Errorf("存在しないユーザーでプロフィールが返された: %+v", p)
	}
}
