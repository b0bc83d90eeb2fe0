package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/receipt-reconcile/internal/config"
	"github.com/foxxcyber/receipt-reconcile/internal/database"
	"github.com/foxxcyber/receipt-reconcile/internal/models"
	"github.com/foxxcyber/receipt-reconcile/internal/services"
)

// DraftHandler handles reconciliation draft endpoints
type DraftHandler struct {
	cfg        *config.Config
	db         *database.DB
	maps       *services.GoogleMapsService
	extraction services.Extractor
	backend    *services.BackendService
	archive    *services.ArchiveService
	manager    *services.SessionManager
}

// NewDraftHandler creates a new draft handler. archive may be nil when
// image archival is disabled.
func NewDraftHandler(
	cfg *config.Config,
	db *database.DB,
	maps *services.GoogleMapsService,
	extraction services.Extractor,
	backend *services.BackendService,
	archive *services.ArchiveService,
	manager *services.SessionManager,
) *DraftHandler {
	return &DraftHandler{
		cfg:        cfg,
		db:         db,
		maps:       maps,
		extraction: extraction,
		backend:    backend,
		archive:    archive,
		manager:    manager,
	}
}

// draftResponse is the draft snapshot plus resolver state for rendering
type draftResponse struct {
	models.ReceiptDraft
	Resolver services.ResolverSnapshot `json:"resolver"`
	ImageURL *string                   `json:"image_url,omitempty"`
}

func (h *DraftHandler) respondDraft(c *fiber.Ctx, session *services.ReceiptSession) error {
	resp := draftResponse{
		ReceiptDraft: session.Draft(),
		Resolver:     session.Resolver().Snapshot(),
	}

	if h.archive != nil {
		if key := session.ImageKey(); key != nil {
			if url, err := h.archive.GetPresignedURL(c.Context(), *key, 1*time.Hour); err == nil {
				resp.ImageURL = &url
			}
		}
	}

	return Success(c, resp)
}

// CreateDraft accepts a receipt image upload and runs ingestion. The
// created draft is returned in whatever state ingestion reached, failed
// included, so the client can offer a retry.
func (h *DraftHandler) CreateDraft(c *fiber.Ctx) error {
	file, err := c.FormFile("image")
	if err != nil {
		return Error(c, fiber.StatusBadRequest, "image file is required")
	}

	contentType := file.Header.Get("Content-Type")
	if !isValidImageType(contentType) {
		return Error(c, fiber.StatusBadRequest, "invalid image type. Supported: JPEG, PNG, WebP")
	}

	// Validate file size
	if file.Size > int64(h.cfg.MaxUploadMB)*1024*1024 {
		return Error(c, fiber.StatusBadRequest, fmt.Sprintf("file too large. Maximum size is %dMB", h.cfg.MaxUploadMB))
	}

	src, err := file.Open()
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to read file")
	}
	defer src.Close()

	imageBytes, err := io.ReadAll(src)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to read file")
	}

	resolver := services.NewStoreResolver(h.db, h.maps, h.backend)
	session := services.NewReceiptSession(h.extraction, h.backend, resolver, services.NewDateReconciler())

	if lat, lng, ok := parseLatLng(c.FormValue("latitude"), c.FormValue("longitude")); ok {
		resolver.SetLocation(lat, lng)
	}

	// Archive before ingestion so a failed extraction stays inspectable.
	// Archival failure is non-fatal.
	if h.archive != nil {
		key := archiveKey(session.ID(), file.Filename)
		if err := h.archive.Archive(c.Context(), key, imageBytes, contentType); err != nil {
			log.Printf("Warning: failed to archive receipt image %s: %v", key, err)
		} else {
			session.SetImageKey(key)
		}
	}

	h.manager.Add(session)

	if err := session.Ingest(c.Context(), imageBytes, file.Filename); err != nil {
		log.Printf("Warning: ingestion failed for draft %s: %v", session.ID(), err)
	}

	return h.respondDraft(c, session)
}

// GetDraft returns the current draft snapshot
func (h *DraftHandler) GetDraft(c *fiber.Ctx) error {
	session, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusNotFound, "draft not found")
	}
	return h.respondDraft(c, session)
}

// RetryDraft re-runs ingestion after an extraction failure
func (h *DraftHandler) RetryDraft(c *fiber.Ctx) error {
	session, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusNotFound, "draft not found")
	}

	if err := session.Retry(c.Context()); err != nil {
		if errors.Is(err, services.ErrInvalidTransition) {
			return Error(c, fiber.StatusConflict, "draft is not in a failed state")
		}
		log.Printf("Warning: retry failed for draft %s: %v", session.ID(), err)
	}

	return h.respondDraft(c, session)
}

// UpdateItem patches a single line item
func (h *DraftHandler) UpdateItem(c *fiber.Ctx) error {
	session, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusNotFound, "draft not found")
	}

	var patch models.ItemPatch
	if err := c.BodyParser(&patch); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	item, err := session.EditItem(c.Params("itemId"), &patch)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrItemNotFound):
			return Error(c, fiber.StatusNotFound, "line item not found")
		case errors.Is(err, services.ErrDraftNotEditable):
			return Error(c, fiber.StatusConflict, "draft is not editable")
		case errors.Is(err, services.ErrNegativePrice):
			return Error(c, fiber.StatusBadRequest, "price must not be negative")
		}
		return Error(c, fiber.StatusInternalServerError, "failed to update item")
	}

	return Success(c, item)
}

// DeleteItem removes a line item from the draft
func (h *DraftHandler) DeleteItem(c *fiber.Ctx) error {
	session, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusNotFound, "draft not found")
	}

	if err := session.DeleteItem(c.Params("itemId")); err != nil {
		switch {
		case errors.Is(err, services.ErrItemNotFound):
			return Error(c, fiber.StatusNotFound, "line item not found")
		case errors.Is(err, services.ErrDraftNotEditable):
			return Error(c, fiber.StatusConflict, "draft is not editable")
		}
		return Error(c, fiber.StatusInternalServerError, "failed to delete item")
	}

	return Success(c, fiber.Map{"deleted": true})
}

type confirmDateRequest struct {
	Date string  `json:"date"`
	Time *string `json:"time,omitempty"`
}

// ConfirmDate applies a user date/time correction
func (h *DraftHandler) ConfirmDate(c *fiber.Ctx) error {
	session, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusNotFound, "draft not found")
	}

	var req confirmDateRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Date == "" {
		return Error(c, fiber.StatusBadRequest, "date is required")
	}

	info, err := session.ConfirmDate(req.Date, req.Time)
	if err != nil {
		if errors.Is(err, services.ErrDraftNotEditable) {
			return Error(c, fiber.StatusConflict, "draft is not editable")
		}
		return Error(c, fiber.StatusInternalServerError, "failed to update date")
	}

	return Success(c, info)
}

// SearchStores returns merged store candidates for a query
func (h *DraftHandler) SearchStores(c *fiber.Ctx) error {
	session, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusNotFound, "draft not found")
	}

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return Error(c, fiber.StatusBadRequest, "query parameter q is required")
	}

	resolver := session.Resolver()
	if lat, lng, ok := parseLatLng(c.Query("lat"), c.Query("lon")); ok {
		resolver.SetLocation(lat, lng)
	}

	candidates, err := resolver.Search(c.Context(), query)
	if err != nil {
		return Error(c, fiber.StatusBadGateway, "store search failed")
	}

	return Success(c, fiber.Map{
		"candidates": candidates,
		"resolver":   resolver.Snapshot(),
	})
}

// CreateStore registers a manually entered store and selects it
func (h *DraftHandler) CreateStore(c *fiber.Ctx) error {
	session, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusNotFound, "draft not found")
	}

	var req models.CreateStoreRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return Error(c, fiber.StatusBadRequest, "name is required")
	}

	created, err := session.CreateStore(c.Context(), &req)
	if err != nil {
		if errors.Is(err, database.ErrStoreExists) {
			return Error(c, fiber.StatusConflict, "store already exists at this address")
		}
		return Error(c, fiber.StatusInternalServerError, "failed to create store")
	}

	return Success(c, created)
}

// SelectStore pins a chosen candidate on the draft
func (h *DraftHandler) SelectStore(c *fiber.Ctx) error {
	session, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusNotFound, "draft not found")
	}

	var candidate models.StoreCandidate
	if err := c.BodyParser(&candidate); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if candidate.Name == "" {
		return Error(c, fiber.StatusBadRequest, "candidate name is required")
	}

	if err := session.SelectStore(&candidate); err != nil {
		if errors.Is(err, services.ErrDraftNotEditable) {
			return Error(c, fiber.StatusConflict, "draft is not editable")
		}
		return Error(c, fiber.StatusInternalServerError, "failed to select store")
	}

	return Success(c, candidate)
}

type useLocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// UseLocation resolves the store from the device's current coordinates
func (h *DraftHandler) UseLocation(c *fiber.Ctx) error {
	session, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusNotFound, "draft not found")
	}

	var req useLocationRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	candidate, err := session.UseCurrentLocation(c.Context(), req.Latitude, req.Longitude)
	if err != nil {
		return Error(c, fiber.StatusBadGateway, "could not resolve current location")
	}

	return Success(c, candidate)
}

// SubmitDraft sends the reconciled record to the backend
func (h *DraftHandler) SubmitDraft(c *fiber.Ctx) error {
	session, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusNotFound, "draft not found")
	}

	status, err := session.Submit(c.Context())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrStoreRequired):
			return Error(c, fiber.StatusBadRequest, "select a store before submitting")
		case errors.Is(err, services.ErrInvalidDate):
			return Error(c, fiber.StatusBadRequest, "purchase date must be in YYYY-MM-DD format")
		case errors.Is(err, services.ErrInvalidTransition):
			return Error(c, fiber.StatusConflict, "draft cannot be submitted in its current state")
		}
		// Network failure: the draft survives, submit can be retried
		return Error(c, fiber.StatusBadGateway, "submission failed, please try again")
	}

	draft := session.Draft()
	return Success(c, fiber.Map{
		"status":           status,
		"pending_products": draft.PendingProducts,
	})
}

// DeleteDraft discards a draft and its archived image
func (h *DraftHandler) DeleteDraft(c *fiber.Ctx) error {
	session, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusNotFound, "draft not found")
	}

	h.manager.Remove(session.ID())
	return Success(c, fiber.Map{"deleted": true})
}

// isValidImageType checks if the content type is a valid image
func isValidImageType(contentType string) bool {
	validTypes := []string{
		"image/jpeg",
		"image/jpg",
		"image/png",
		"image/webp",
	}

	for _, t := range validTypes {
		if strings.EqualFold(contentType, t) {
			return true
		}
	}
	return false
}

func parseLatLng(latStr, lngStr string) (float64, float64, bool) {
	if latStr == "" || lngStr == "" {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

// archiveKey builds the storage key for an uploaded receipt image
func archiveKey(draftID, filename string) string {
	ext := ""
	if idx := strings.LastIndex(filename, "."); idx != -1 {
		ext = strings.ToLower(filename[idx:])
	}
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("receipts/%s/%d%s", draftID, time.Now().UnixNano(), ext)
}
