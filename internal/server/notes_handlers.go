package server

import (
	"errors"
	"net/http"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/notes"
	"github.com/gin-gonic/gin"
)

type uploadNoteRequest struct {
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Content     string `json:"content"`
	FileURL     string `json:"file_url"`
}

func (h *httpHandler) handleUploadNote(c *gin.Context) {
	user := currentUser(c)
	var request uploadNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notesService.UploadNote(c.Request.Context(), notes.NoteInput{
		Title:       request.Title,
		Subject:     request.Subject,
		Description: request.Description,
		Content:     request.Content,
		FileURL:     request.FileURL,
	}, user.ID)
	if err != nil {
		respondNotesError(c, err)
		return
	}
	status := http.StatusCreated
	if note.IsOffline {
		status = http.StatusAccepted
	}
	c.JSON(status, note)
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	list, err := h.notesService.ListNotes(c.Request.Context())
	if err != nil {
		respondNotesError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": list})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	note, err := h.notesService.GetNote(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondNotesError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleSearchNotes(c *gin.Context) {
	list, err := h.notesService.SearchNotes(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondNotesError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": list})
}

func (h *httpHandler) handleListDrafts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"drafts": h.notesService.PendingDrafts(c.Request.Context())})
}

func (h *httpHandler) handleRecentNotes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notes": h.notesService.RecentNotes(c.Request.Context())})
}

func (h *httpHandler) handleSyncNotes(c *gin.Context) {
	user := currentUser(c)
	result, err := h.notesService.SyncOfflineNotes(c.Request.Context(), user.ID)
	if err != nil {
		respondNotesError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func respondNotesError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "notes_request_failed"
	switch {
	case errors.Is(err, notes.ErrNoteNotFound):
		status, code = http.StatusNotFound, "note_not_found"
	case errors.Is(err, notes.ErrInvalidNoteInput):
		status, code = http.StatusBadRequest, "invalid_note_input"
	case errors.Is(err, notes.ErrInvalidNoteID):
		status, code = http.StatusBadRequest, "invalid_note_id"
	case errors.Is(err, notes.ErrInvalidUserID):
		status, code = http.StatusBadRequest, "invalid_user_id"
	}
	payload := gin.H{"error": code}
	var serviceErr *notes.ServiceError
	if errors.As(err, &serviceErr) {
		payload["code"] = serviceErr.Code()
	}
	c.JSON(status, payload)
}
