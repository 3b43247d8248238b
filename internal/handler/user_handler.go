package handler

import (
	"log/slog"
	"net/http"
)

// UserHandler serves the admin user endpoints.
type UserHandler struct {
	accounts accountService
}

func NewUserHandler(accounts accountService) *UserHandler {
	return &UserHandler{accounts: accounts}
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := requiredQuery(r, "userId")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.DeleteUser(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}

	actor := actorFromRequest(r)
	slog.Info("admin deleted user", "user_id", userID, "actor_id", actor.UserID, "actor", actor.Username, "ip", actor.IP)
	writeSuccess(w, http.StatusOK, "User deleted successfully", map[string]any{"deleted": true, "userId": userID}, nil)
}
