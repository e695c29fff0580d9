// internal/handlers/listing.go
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/scrylabs/scry-backend/internal/i18n"
	"github.com/scrylabs/scry-backend/internal/services"
	"github.com/scrylabs/scry-backend/internal/utils"
)

type ListingHandler struct {
	listingService *services.ListingService
}

func NewListingHandler(listingService *services.ListingService) *ListingHandler {
	return &ListingHandler{
		listingService: listingService,
	}
}

// GET /listings
func (h *ListingHandler) GetListings(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	searchParams := services.ListingSearchParams{
		PaginationParams: params,
	}
	if ownerIDStr := c.Query("owner_id"); ownerIDStr != "" {
		if ownerID, err := uuid.Parse(ownerIDStr); err == nil {
			searchParams.OwnerID = &ownerID
		}
	}

	result, err := h.listingService.ListListings(c.Request.Context(), searchParams)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, *result)
}

// GET /listings/:id
func (h *ListingHandler) GetListing(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid listing ID", nil)
		return
	}

	listing, err := h.listingService.GetListing(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, listing)
}

// POST /seller/listings
func (h *ListingHandler) CreateListing(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	traderID, ok := utils.GetTraderIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	listing, err := h.listingService.CreateListing(c.Request.Context(), traderID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, listing)
}

// POST /seller/upload
func (h *ListingHandler) Upload(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	traderID, ok := utils.GetTraderIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.UploadListingRequest
	if err := c.ShouldBind(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "file"), err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "file"), err.Error())
		return
	}

	listing, err := h.listingService.Upload(c.Request.Context(), traderID, &req, data)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, listing)
}

// GET /seller/download/:cid
func (h *ListingHandler) Download(c *gin.Context) {
	traderID, ok := utils.GetTraderIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	contentID := c.Param("cid")
	if !utils.IsContentID(contentID) {
		utils.BadRequestResponse(c, "Invalid content ID", nil)
		return
	}

	data, err := h.listingService.Download(c.Request.Context(), traderID, contentID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("X-Content-ID", contentID)
	c.Header("Content-Disposition", "attachment; filename=\""+contentID+"\"")
	c.Data(http.StatusOK, "application/octet-stream", data)
}
