// Package dashboard はホーム画面に表示する集計データを組み立てる。
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/walletgate/internal/backend"
	"github.com/hitoshi/walletgate/internal/model"
	"github.com/hitoshi/walletgate/internal/permission"
	"github.com/hitoshi/walletgate/internal/security"
)

const (
	// fetchLimit はバックエンドから取得する直近取引の件数。
	fetchLimit = 7
	// displayLimit は画面に表示する直近取引の件数。
	displayLimit = 6
)

// グラフの表示モード
const (
	ModeBoth    = "both"
	ModeIncome  = "income"
	ModeExpense = "expense"
)

var (
	chartFloor = decimal.NewFromInt(300)
	chartStep  = decimal.NewFromInt(500)
	chartTicks = 5
)

// TransactionSource は直近取引を取得するバックエンド操作。
type TransactionSource interface {
	RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
}

// PermissionLister は連携状況の一覧を返す。permission.Service が実装する。
type PermissionLister interface {
	List(ctx context.Context, userID string) []permission.Permission
}

// Chart は支出推移グラフの縦軸。
type Chart struct {
	Mode  string            `json:"mode"`
	Max   decimal.Decimal   `json:"max"`
	Ticks []decimal.Decimal `json:"ticks"`
}

// Home はホーム画面のレスポンス。
type Home struct {
	User               *model.User           `json:"user"`
	TotalBalance       decimal.Decimal       `json:"total_balance"`
	MonthlyIncome      decimal.Decimal       `json:"monthly_income"`
	MonthlyExpense     decimal.Decimal       `json:"monthly_expense"`
	RecentTransactions []model.Transaction   `json:"recent_transactions"`
	SpendingTrends     []model.SpendingTrend `json:"spending_trends"`
	Chart              Chart                 `json:"chart"`
	SetupItems         []model.SetupItem     `json:"setup_items"`
	SetupProgress      string                `json:"setup_progress"`
}

// Service はホーム画面の集計を行う。
type Service struct {
	transactions TransactionSource
	permissions  PermissionLister
	sanitizer    security.TextSanitizer
	logger       *slog.Logger
	now          func() time.Time
}

// NewService はServiceを生成する。
func NewService(transactions TransactionSource, permissions PermissionLister, sanitizer security.TextSanitizer, logger *slog.Logger) *Service {
	return &Service{
		transactions: transactions,
		permissions:  permissions,
		sanitizer:    sanitizer,
		logger:       logger,
		now:          time.Now,
	}
}

// ValidMode はグラフの表示モードとして受け付ける値かを返す。
func ValidMode(mode string) bool {
	switch mode {
	case ModeBoth, ModeIncome, ModeExpense:
		return true
	}
	return false
}

// Home はユーザーのホーム画面データを返す。
// mode が空の場合は収入と支出の合計でグラフを描く。
func (s *Service) Home(ctx context.Context, user *model.User, mode string) (*Home, error) {
	if mode == "" {
		mode = ModeBoth
	}
	if !ValidMode(mode) {
		return nil, model.NewValidationError("mode", "Mode must be one of both, income or expense.")
	}

	txs, err := s.fetch(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	trends := aggregateTrends(txs)
	income, expense := monthlyTotals(txs, s.now())
	items := s.setupItems(ctx, user.ID)

	return &Home{
		User:               user,
		TotalBalance:       user.NetAmount,
		MonthlyIncome:      income,
		MonthlyExpense:     expense,
		RecentTransactions: limit(txs, displayLimit),
		SpendingTrends:     trends,
		Chart:              buildChart(trends, mode),
		SetupItems:         items,
		SetupProgress:      setupProgress(items),
	}, nil
}

// Recent は表示用の直近取引を返す。取引がない場合は空スライス。
func (s *Service) Recent(ctx context.Context, userID string) ([]model.Transaction, error) {
	txs, err := s.fetch(ctx, userID)
	if err != nil {
		return nil, err
	}
	return limit(txs, displayLimit), nil
}

// fetch は直近取引を取得して説明文をプレーンテキストに整える。
// 404は取引なしとして扱う。
func (s *Service) fetch(ctx context.Context, userID string) ([]model.Transaction, error) {
	txs, err := s.transactions.RecentTransactions(ctx, userID, fetchLimit)
	if err != nil {
		if backend.IsNotFound(err) {
			s.logger.Debug("no recent transactions", slog.String("user_id", userID))
			return []model.Transaction{}, nil
		}
		return nil, fmt.Errorf("fetch recent transactions: %w", err)
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	for i := range txs {
		txs[i].Description = s.sanitizer.SanitizeText(txs[i].Description)
	}
	return txs, nil
}

func (s *Service) setupItems(ctx context.Context, userID string) []model.SetupItem {
	perms := s.permissions.List(ctx, userID)
	items := make([]model.SetupItem, 0, len(perms))
	for _, p := range perms {
		items = append(items, model.SetupItem{
			ID:          p.ID,
			Name:        p.Name,
			IsCompleted: p.IsConnected,
			ActionURL:   actionURL(p.Kind),
		})
	}
	return items
}

func actionURL(kind string) string {
	switch kind {
	case permission.KindWhatsApp:
		return "/api/integrations/whatsapp"
	case permission.KindEmail:
		return "/api/integrations/gmail"
	}
	return "/api/permissions"
}

func setupProgress(items []model.SetupItem) string {
	completed := 0
	for _, item := range items {
		if item.IsCompleted {
			completed++
		}
	}
	return fmt.Sprintf("%d/%d Complete", completed, len(items))
}

// aggregateTrends は取引を日付ごとに集計し、日付の昇順で返す。
func aggregateTrends(txs []model.Transaction) []model.SpendingTrend {
	byDate := make(map[string]*model.SpendingTrend)
	for _, tx := range txs {
		t, ok := byDate[tx.Date]
		if !ok {
			t = &model.SpendingTrend{Date: tx.Date, Income: decimal.Zero, Expense: decimal.Zero}
			byDate[tx.Date] = t
		}
		if tx.IsIncome {
			t.Income = t.Income.Add(tx.Amount.Abs())
		} else {
			t.Expense = t.Expense.Add(tx.Amount.Abs())
		}
	}

	trends := make([]model.SpendingTrend, 0, len(byDate))
	for _, t := range byDate {
		trends = append(trends, *t)
	}
	sort.Slice(trends, func(i, j int) bool { return trends[i].Date < trends[j].Date })
	return trends
}

// monthlyTotals は now と同じ年月の取引の収入と支出を合計する。
// 日付を解釈できない取引は含めない。
func monthlyTotals(txs []model.Transaction, now time.Time) (income, expense decimal.Decimal) {
	income, expense = decimal.Zero, decimal.Zero
	for _, tx := range txs {
		d, err := time.Parse(time.DateOnly, tx.Date)
		if err != nil {
			continue
		}
		if d.Year() != now.Year() || d.Month() != now.Month() {
			continue
		}
		if tx.IsIncome {
			income = income.Add(tx.Amount.Abs())
		} else {
			expense = expense.Add(tx.Amount.Abs())
		}
	}
	return income, expense
}

// buildChart はグラフの最大値と目盛りを求める。
// 最大値は300を下限とし、500の倍数に切り上げる。
func buildChart(trends []model.SpendingTrend, mode string) Chart {
	peak := chartFloor
	for _, t := range trends {
		var v decimal.Decimal
		switch mode {
		case ModeIncome:
			v = t.Income
		case ModeExpense:
			v = t.Expense
		default:
			v = t.Income.Add(t.Expense)
		}
		if v.GreaterThan(peak) {
			peak = v
		}
	}

	top := peak.Div(chartStep).Ceil().Mul(chartStep)
	step := top.Div(decimal.NewFromInt(int64(chartTicks - 1)))
	ticks := make([]decimal.Decimal, chartTicks)
	for i := range ticks {
		ticks[i] = top.Sub(step.Mul(decimal.NewFromInt(int64(i))))
	}
	return Chart{Mode: mode, Max: top, Ticks: ticks}
}

func limit(txs []model.Transaction, n int) []model.Transaction {
	if len(txs) > n {
		return txs[:n]
	}
	return txs
}
