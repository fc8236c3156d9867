package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
)

// maxLeaderboardQuery caps ?limit= on /api/leaderboard.
const maxLeaderboardQuery = 1000

func (h *routerHandlers) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.canvas.Status(h.statusTopN))
}

func (h *routerHandlers) handleGetPixels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.canvas.Pixels())
}

func (h *routerHandlers) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLeaderboardQuery)
	}
	writeJSON(w, h.canvas.Leaderboard(limit))
}

func (h *routerHandlers) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if !h.adminReset {
		writeError(w, "Admin reset is disabled", http.StatusForbidden)
		return
	}
	removed := h.canvas.ResetGrid()
	log.Printf("🧹 Grid reset via API from %s", GetClientIP(r))
	writeJSON(w, map[string]interface{}{
		"success": true,
		"removed": removed,
	})
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
