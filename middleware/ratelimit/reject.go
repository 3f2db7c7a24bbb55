package ratelimit

import (
	"encoding/json"
	"net/http"
)

// Mensagens devolvidas no corpo das rejeições.
const (
	MsgOverLimit   = "Whoa, calm down and wait a bit before posting again."
	MsgUnavailable = "We are having trouble right now, please try again later."
	MsgBusy        = "The server is busy, please try again in a moment."
)

// Rejection é o payload estruturado de erro: {"status":"error","error":["..."]}.
type Rejection struct {
	Status string   `json:"status"`
	Error  []string `json:"error"`
}

// WriteRejection escreve uma Rejection com o status HTTP informado.
func WriteRejection(w http.ResponseWriter, status int, msgs ...string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Rejection{Status: "error", Error: msgs})
}
