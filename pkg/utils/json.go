// Package utils
package utils

import (
	"encoding/json"
	"net/http"
)

type Body map[string]any

func ReplyJSON(w http.ResponseWriter, status int, body Body) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

// ReplyError writes {error, detalles?}. Empty details are omitted.
func ReplyError(w http.ResponseWriter, status int, msg string, details any) error {
	body := Body{"error": msg}
	if details != nil && details != "" {
		body["detalles"] = details
	}
	return ReplyJSON(w, status, body)
}

func ReplyBadRequest(w http.ResponseWriter, msg string) {
	ReplyError(w, http.StatusBadRequest, msg, nil)
}

func ReplyNotFound(w http.ResponseWriter, msg string) {
	ReplyError(w, http.StatusNotFound, msg, nil)
}

func ReplyInternalServerError(w http.ResponseWriter, details string) {
	ReplyError(w, http.StatusInternalServerError, "error inesperado", details)
}

func ReplyMethodNotAllowed(w http.ResponseWriter) {
	ReplyError(w, http.StatusMethodNotAllowed, "método no permitido", nil)
}
