package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/domain"
)

// HistoryStore is the slice of the event repository the history endpoints
// read from.
type HistoryStore interface {
	SettledByPlayer(ctx context.Context, player string, limit, offset int) ([]*domain.EventRecord, error)
	SettledByRoom(ctx context.Context, roomID uint32, limit, offset int) ([]*domain.EventRecord, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.EventRecord, error)
}

// HistoryHandler serves the settled-bet query endpoints.
type HistoryHandler struct {
	store HistoryStore
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(store HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// ByPlayer godoc
// GET /api/bets/player/:address?page=1&limit=20
func (h *HistoryHandler) ByPlayer(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "invalid player address")
		return
	}
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	settled, err := h.store.SettledByPlayer(c.Request.Context(), domain.NormalizePlayer(address), limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch bet history")
		return
	}

	entries, err := h.joinCommits(c.Request.Context(), settled)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch bet history")
		return
	}
	respondList(c, entries, len(entries), page, limit)
}

// ByRoom godoc
// GET /api/bets/room/:id?page=1&limit=20
func (h *HistoryHandler) ByRoom(c *gin.Context) {
	roomID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ROOM_ID", "invalid room id")
		return
	}
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	settled, err := h.store.SettledByRoom(c.Request.Context(), uint32(roomID), limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch bet history")
		return
	}

	entries, err := h.joinCommits(c.Request.Context(), settled)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch bet history")
		return
	}
	respondList(c, entries, len(entries), page, limit)
}

// joinCommits resolves the RelatedEventID links of a settled page in one
// batched read and folds each pair into a history entry.  Orphan settlements
// are served with their commit fields empty.
func (h *HistoryHandler) joinCommits(ctx context.Context, settled []*domain.EventRecord) ([]domain.BetHistoryEntry, error) {
	ids := make([]uuid.UUID, 0, len(settled))
	for _, s := range settled {
		if s.RelatedEventID != nil {
			ids = append(ids, *s.RelatedEventID)
		}
	}

	commits, err := h.store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.BetHistoryEntry, 0, len(settled))
	for _, s := range settled {
		var placed *domain.EventRecord
		if s.RelatedEventID != nil {
			placed = commits[*s.RelatedEventID]
		}
		entries = append(entries, domain.ToHistoryEntry(s, placed))
	}
	return entries, nil
}
