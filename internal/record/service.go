// Package record は記録追加画面の入力検証とプレビューを提供する。
// バックエンドに保存用のエンドポイントがないため、検証済みの下書きを返すだけで永続化しない。
package record

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/hitoshi/walletgate/internal/model"
	"github.com/hitoshi/walletgate/internal/security"
)

// 記録の種類
const (
	ModeExpense  = "expense"
	ModeIncome   = "income"
	ModeTransfer = "transfer"
)

const (
	// Currency は表示通貨。
	Currency = "PKR"

	defaultWallet      = "Cash Wallet"
	defaultPaymentType = "Cash"
)

// Draft は記録追加画面の入力。
type Draft struct {
	Mode        string          `json:"mode" validate:"omitempty,oneof=expense income transfer"`
	Amount      decimal.Decimal `json:"amount"`
	WalletID    string          `json:"walletId" validate:"max=64"`
	Category    string          `json:"category" validate:"required_unless=Mode transfer,max=64"`
	Subcategory string          `json:"subcategory" validate:"max=64"`
	FromWallet  string          `json:"fromWallet" validate:"required_if=Mode transfer,max=64"`
	ToWallet    string          `json:"toWallet" validate:"required_if=Mode transfer,max=64"`
	Date        string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time        string          `json:"time" validate:"omitempty,datetime=15:04"`
	Label       string          `json:"label" validate:"max=32"`
	Note        string          `json:"note" validate:"max=500"`
	PaymentType string          `json:"paymentType" validate:"max=32"`
}

// Preview は検証済みの下書きと表示用の文字列。
type Preview struct {
	Draft         Draft  `json:"draft"`
	DisplayAmount string `json:"displayAmount"`
	DisplayDate   string `json:"displayDate"`
	DisplayTime   string `json:"displayTime"`
}

var fieldMessages = map[string]string{
	"mode":                     "Mode must be expense, income or transfer.",
	"amount":                   "Please enter an amount greater than zero.",
	"category.required_unless": "Please select a category.",
	"fromWallet.required_if":   "Please select the wallet to transfer from.",
	"toWallet.required_if":     "Please select the wallet to transfer to.",
	"toWallet.nefield":         "Transfer wallets must be different.",
	"date":                     "Date must be in YYYY-MM-DD format.",
	"time":                     "Time must be in HH:MM format.",
	"note":                     "Note must be at most 500 characters.",
}

// Service は記録の下書きを検証する。
type Service struct {
	validate  *validator.Validate
	sanitizer security.TextSanitizer
	printer   *message.Printer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(sanitizer security.TextSanitizer) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return &Service{
		validate:  v,
		sanitizer: sanitizer,
		printer:   message.NewPrinter(language.English),
		now:       time.Now,
	}
}

// Preview は下書きを正規化・検証し、表示用の金額と日時を返す。
// 振替ではカテゴリと支払方法を持たず、通常の記録では振替元と振替先を持たない。
func (s *Service) Preview(d Draft) (*Preview, error) {
	d = s.normalize(d)

	if err := s.check(d); err != nil {
		return nil, err
	}

	when, err := s.timestamp(d)
	if err != nil {
		return nil, err
	}

	return &Preview{
		Draft:         d,
		DisplayAmount: s.FormatAmount(d.Mode, d.Amount),
		DisplayDate:   when.Format("2 Jan 2006"),
		DisplayTime:   strings.ToLower(when.Format("3:04 PM")),
	}, nil
}

func (s *Service) normalize(d Draft) Draft {
	d.Mode = strings.ToLower(strings.TrimSpace(d.Mode))
	if d.Mode == "" {
		d.Mode = ModeExpense
	}
	d.Category = strings.TrimSpace(d.Category)
	d.Subcategory = strings.TrimSpace(d.Subcategory)
	d.FromWallet = strings.TrimSpace(d.FromWallet)
	d.ToWallet = strings.TrimSpace(d.ToWallet)
	d.Label = strings.TrimSpace(d.Label)
	d.Note = s.sanitizer.SanitizeText(d.Note)

	if d.Mode == ModeTransfer {
		d.Category = ""
		d.Subcategory = ""
		d.PaymentType = ""
		d.WalletID = ""
		return d
	}

	d.FromWallet = ""
	d.ToWallet = ""
	if strings.TrimSpace(d.WalletID) == "" {
		d.WalletID = defaultWallet
	}
	if strings.TrimSpace(d.PaymentType) == "" {
		d.PaymentType = defaultPaymentType
	}
	return d
}

// check は最初の違反を *model.APIError で返す。
func (s *Service) check(d Draft) error {
	if err := s.validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return err
		}
		fe := verrs[0]
		return model.NewValidationError(fe.Field(), fieldMessage(fe.Field(), fe.Tag()))
	}
	if !d.Amount.IsPositive() {
		return model.NewValidationError("amount", fieldMessages["amount"])
	}
	if d.Mode == ModeTransfer && strings.EqualFold(d.FromWallet, d.ToWallet) {
		return model.NewValidationError("toWallet", fieldMessages["toWallet.nefield"])
	}
	return nil
}

func fieldMessage(field, tag string) string {
	if msg, ok := fieldMessages[field+"."+tag]; ok {
		return msg
	}
	if msg, ok := fieldMessages[field]; ok {
		return msg
	}
	return "Invalid " + field + "."
}

// timestamp は入力された日付と時刻、省略時は現在時刻を返す。
func (s *Service) timestamp(d Draft) (time.Time, error) {
	now := s.now()
	date := now
	if d.Date != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, d.Date, now.Location())
		if err != nil {
			return time.Time{}, model.NewValidationError("date", fieldMessages["date"])
		}
		date = parsed
	}
	hour, minute := now.Hour(), now.Minute()
	if d.Time != "" {
		parsed, err := time.Parse("15:04", d.Time)
		if err != nil {
			return time.Time{}, model.NewValidationError("time", fieldMessages["time"])
		}
		hour, minute = parsed.Hour(), parsed.Minute()
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, now.Location()), nil
}

// FormatAmount は符号付きの表示用金額を返す。
// 支出は "-PKR 10,000"、収入は "+PKR 10,000"、振替は "PKR 10,000"。
// 小数部がある場合のみ2桁で表示する。
func (s *Service) FormatAmount(mode string, amount decimal.Decimal) string {
	amount = amount.Abs().Round(2)

	body := s.printer.Sprintf("%d", amount.IntPart())
	if frac := amount.Sub(amount.Truncate(0)); !frac.IsZero() {
		body += "." + strings.SplitN(frac.StringFixed(2), ".", 2)[1]
	}

	sign := ""
	switch mode {
	case ModeExpense:
		sign = "-"
	case ModeIncome:
		sign = "+"
	}
	return sign + Currency + " " + body
}
