package handler

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/drivingschool/internal/payment"
)

const maxCallbackBody = 1 << 20

// ack содержит ответ провайдеру. Он не зависит от результата обработки уведомления:
// внутренние ошибки только журналируются, иначе провайдер будет повторять доставку.
type ack struct {
	OK bool `json:"ok"`
}

type callbackParser func(raw []byte) (payment.Callback, error)

// QliroOrderValidate принимает запрос проверки заказа от Qliro.
func (h *Handler) QliroOrderValidate(w http.ResponseWriter, r *http.Request) {
	h.callback(w, r, payment.ParseQliroValidation)
}

// QliroOrderStatus принимает уведомление о статусе заказа от Qliro.
func (h *Handler) QliroOrderStatus(w http.ResponseWriter, r *http.Request) {
	h.callback(w, r, payment.ParseQliroStatus)
}

// SwishCallback принимает уведомление о платёжном запросе Swish.
func (h *Handler) SwishCallback(w http.ResponseWriter, r *http.Request) {
	h.callback(w, r, payment.ParseSwish)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, parse callbackParser) {
	defer r.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		h.logger.Warn("read payment callback error", zap.Error(err), zap.String("path", r.URL.Path))
		h.writeJSON(w, http.StatusInternalServerError, ack{OK: false})
		return
	}

	cb, err := parse(raw)
	if err != nil {
		h.logger.Warn("malformed payment callback", zap.Error(err), zap.String("path", r.URL.Path))
		h.writeJSON(w, http.StatusInternalServerError, ack{OK: false})
		return
	}

	// Ошибка обработки не меняет ответ: провайдер получает подтверждение,
	// а расхождение разбирается по журналу и метрикам адаптера.
	res := h.callbacks.Process(r.Context(), cb)
	h.logger.Debug("payment callback acknowledged",
		zap.String("provider", string(cb.Provider)),
		zap.String("outcome", string(res.Outcome)),
		zap.Bool("applied", res.Err == nil),
	)

	h.writeJSON(w, http.StatusOK, ack{OK: true})
}
