package handler

import (
	"net/http"

	"github.com/hitoshi/walletgate/internal/record"
)

// RecordServiceInterface は記録追加ハンドラーが必要とするサービスインターフェース。
type RecordServiceInterface interface {
	Preview(d record.Draft) (*record.Preview, error)
}

// RecordHandler は記録追加画面のHTTPハンドラー。
type RecordHandler struct {
	service RecordServiceInterface
}

// NewRecordHandler はRecordHandlerを生成する。
func NewRecordHandler(service RecordServiceInterface) *RecordHandler {
	return &RecordHandler{service: service}
}

// Preview は下書きを検証し、表示用の金額と日時を返す。
// POST /api/records/preview
func (h *RecordHandler) Preview(w http.ResponseWriter, r *http.Request) {
	if _, ok := identityOrUnauthorized(w, r); !ok {
		return
	}

	var draft record.Draft
	if !decodeJSON(w, r, &draft) {
		return
	}

	preview, err := h.service.Preview(draft)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}
