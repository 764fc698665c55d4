package handler

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
}

// Health はプロセスの生存確認に応答する。healthcheckサブコマンドが呼び出す。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
