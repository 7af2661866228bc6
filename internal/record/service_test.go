package record

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/walletgate/internal/model"
	"github.com/hitoshi/walletgate/internal/security"
)

func newTestService() *Service {
	svc := NewService(security.NewTextSanitizer())
	svc.now = func() time.Time { return time.Date(2025, 7, 3, 0, 48, 0, 0, time.UTC) }
	return svc
}

func TestFormatAmount(t *testing.T) {
	svc := newTestService()

	tests := []struct {
		mode   string
		amount decimal.Decimal
		want   string
	}{
		{mode: ModeExpense, amount: decimal.NewFromInt(10000), want: "-PKR 10,000"},
		{mode: ModeIncome, amount: decimal.NewFromInt(10000), want: "+PKR 10,000"},
		{mode: ModeTransfer, amount: decimal.NewFromInt(10000), want: "PKR 10,000"},
		{mode: ModeExpense, amount: decimal.NewFromInt(250), want: "-PKR 250"},
		{mode: ModeIncome, amount: decimal.NewFromInt(1234567), want: "+PKR 1,234,567"},
		{mode: ModeTransfer, amount: decimal.RequireFromString("1500.5"), want: "PKR 1,500.50"},
		{mode: ModeExpense, amount: decimal.RequireFromString("99.999"), want: "-PKR 100"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := svc.FormatAmount(tt.mode, tt.amount); got != tt.want {
				t.Errorf("FormatAmount(%q, %s) = %q, want %q", tt.mode, tt.amount, got, tt.want)
			}
		})
	}
}

func TestPreview_ExpenseDefaults(t *testing.T) {
	p, err := newTestService().Preview(Draft{
		Amount:   decimal.NewFromInt(10000),
		Category: " Food ",
		Note:     "<b>Dinner</b> &amp; drinks",
		ToWallet: "ignored",
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	if p.Draft.Mode != ModeExpense {
		t.Errorf("Mode = %q, want %q", p.Draft.Mode, ModeExpense)
	}
	if p.DisplayAmount != "-PKR 10,000" {
		t.Errorf("DisplayAmount = %q, want %q", p.DisplayAmount, "-PKR 10,000")
	}
	if p.Draft.Category != "Food" {
		t.Errorf("Category = %q, want %q", p.Draft.Category, "Food")
	}
	if p.Draft.Note != "Dinner & drinks" {
		t.Errorf("Note = %q, want %q", p.Draft.Note, "Dinner & drinks")
	}
	if p.Draft.WalletID != defaultWallet || p.Draft.PaymentType != defaultPaymentType {
		t.Errorf("WalletID/PaymentType = %q/%q, want defaults", p.Draft.WalletID, p.Draft.PaymentType)
	}
	if p.Draft.ToWallet != "" {
		t.Errorf("ToWallet = %q, want empty outside transfer", p.Draft.ToWallet)
	}
	if p.DisplayDate != "3 Jul 2025" || p.DisplayTime != "12:48 am" {
		t.Errorf("display = %q %q, want %q %q", p.DisplayDate, p.DisplayTime, "3 Jul 2025", "12:48 am")
	}
}

func TestPreview_ExplicitDateTime(t *testing.T) {
	p, err := newTestService().Preview(Draft{
		Mode:     ModeIncome,
		Amount:   decimal.NewFromInt(500),
		Category: "Salary",
		Date:     "2025-12-31",
		Time:     "18:05",
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if p.DisplayDate != "31 Dec 2025" || p.DisplayTime != "6:05 pm" {
		t.Errorf("display = %q %q", p.DisplayDate, p.DisplayTime)
	}
	if p.DisplayAmount != "+PKR 500" {
		t.Errorf("DisplayAmount = %q, want %q", p.DisplayAmount, "+PKR 500")
	}
}

func TestPreview_Transfer(t *testing.T) {
	p, err := newTestService().Preview(Draft{
		Mode:       "Transfer",
		Amount:     decimal.NewFromInt(10000),
		Category:   "ignored",
		FromWallet: "Cash Wallet",
		ToWallet:   "Bank",
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if p.DisplayAmount != "PKR 10,000" {
		t.Errorf("DisplayAmount = %q, want %q", p.DisplayAmount, "PKR 10,000")
	}
	if p.Draft.Category != "" || p.Draft.PaymentType != "" {
		t.Errorf("Category/PaymentType = %q/%q, want empty for transfer", p.Draft.Category, p.Draft.PaymentType)
	}
}

func TestPreview_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		draft   Draft
		wantMsg string
	}{
		{
			name:    "unknown mode",
			draft:   Draft{Mode: "loan", Amount: decimal.NewFromInt(1), Category: "x"},
			wantMsg: "Mode must be expense, income or transfer.",
		},
		{
			name:    "zero amount",
			draft:   Draft{Amount: decimal.Zero, Category: "Food"},
			wantMsg: "Please enter an amount greater than zero.",
		},
		{
			name:    "negative amount",
			draft:   Draft{Amount: decimal.NewFromInt(-5), Category: "Food"},
			wantMsg: "Please enter an amount greater than zero.",
		},
		{
			name:    "missing category",
			draft:   Draft{Mode: ModeIncome, Amount: decimal.NewFromInt(5)},
			wantMsg: "Please select a category.",
		},
		{
			name:    "transfer without source",
			draft:   Draft{Mode: ModeTransfer, Amount: decimal.NewFromInt(5), ToWallet: "Bank"},
			wantMsg: "Please select the wallet to transfer from.",
		},
		{
			name:    "transfer to same wallet",
			draft:   Draft{Mode: ModeTransfer, Amount: decimal.NewFromInt(5), FromWallet: "Bank", ToWallet: "bank"},
			wantMsg: "Transfer wallets must be different.",
		},
		{
			name:    "malformed date",
			draft:   Draft{Amount: decimal.NewFromInt(5), Category: "Food", Date: "03/07/2025"},
			wantMsg: "Date must be in YYYY-MM-DD format.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestService().Preview(tt.draft)

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *model.APIError", err)
			}
			if apiErr.Code != model.ErrCodeValidation {
				t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeValidation)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
		})
	}
}
