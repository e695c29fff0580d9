// internal/services/listing_service.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/scrylabs/scry-backend/internal/config"
	"github.com/scrylabs/scry-backend/internal/models"
	"github.com/scrylabs/scry-backend/internal/utils"
)

type ListingService struct {
	db     *gorm.DB
	cfg    *config.Config
	store  ContentStore
	notify *NotificationService
}

// CreateListingRequest lists content that is already in the content store.
type CreateListingRequest struct {
	ContentID   string `json:"content_id" validate:"required,max=128"`
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=4096"`
	Price       int64  `json:"price" validate:"required,gt=0"`
}

type UploadListingRequest struct {
	Name        string `form:"name" validate:"required,min=1,max=255"`
	Description string `form:"description" validate:"max=4096"`
	Price       int64  `form:"price" validate:"required,gt=0"`
}

type ListingSearchParams struct {
	utils.PaginationParams
	OwnerID *uuid.UUID `json:"owner_id,omitempty"`
}

func NewListingService(db *gorm.DB, cfg *config.Config, store ContentStore, notify *NotificationService) *ListingService {
	return &ListingService{
		db:     db,
		cfg:    cfg,
		store:  store,
		notify: notify,
	}
}

// Upload stores data and lists it in one step.
func (s *ListingService) Upload(ctx context.Context, ownerID uuid.UUID, req *UploadListingRequest, data []byte) (*models.Listing, error) {
	if s.cfg.Storage.MaxUploadSize > 0 && int64(len(data)) > s.cfg.Storage.MaxUploadSize {
		return nil, fmt.Errorf("%d bytes exceeds %d: %w", len(data), s.cfg.Storage.MaxUploadSize, ErrContentTooLarge)
	}

	stored, err := s.store.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}

	return s.create(ctx, ownerID, stored, req.Name, req.Description, req.Price)
}

// CreateListing lists content uploaded earlier, possibly by someone else.
func (s *ListingService) CreateListing(ctx context.Context, ownerID uuid.UUID, req *CreateListingRequest) (*models.Listing, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	data, err := s.store.Get(ctx, req.ContentID)
	if err != nil {
		return nil, err
	}
	stored := &StoredContent{ContentID: req.ContentID, Size: int64(len(data))}

	return s.create(ctx, ownerID, stored, req.Name, req.Description, req.Price)
}

func (s *ListingService) create(ctx context.Context, ownerID uuid.UUID, stored *StoredContent, name, description string, price int64) (*models.Listing, error) {
	var owner models.Trader
	if err := s.db.WithContext(ctx).First(&owner, "id = ?", ownerID).Error; err != nil {
		return nil, lookupError(err, ErrTraderNotFound, "listing owner")
	}

	listing := &models.Listing{
		ContentID:   stored.ContentID,
		OwnerID:     owner.ID,
		Name:        name,
		Description: description,
		Size:        stored.Size,
		Price:       price,
	}
	if err := s.db.WithContext(ctx).Omit("Owner").Create(listing).Error; err != nil {
		return nil, insertError(err, ErrListingExists, "create listing")
	}
	listing.Owner = &owner

	logrus.WithFields(logrus.Fields{
		"listing_id": listing.ID,
		"owner":      owner.Account,
		"content_id": listing.ContentID,
		"price":      listing.Price,
	}).Info("Listing created")

	s.notify.ListingUploaded(listing, &owner)
	return listing, nil
}

// GetListing returns the public view of a listing.
func (s *ListingService) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	listing, err := s.loadListing(ctx, id)
	if err != nil {
		return nil, err
	}
	public := listing.Public()
	return &public, nil
}

func (s *ListingService) loadListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := s.db.WithContext(ctx).Preload("Owner").First(&listing, "id = ?", id).Error; err != nil {
		return nil, lookupError(err, ErrListingNotFound, "listing")
	}
	return &listing, nil
}

func (s *ListingService) ListListings(ctx context.Context, params ListingSearchParams) (*utils.PaginationResult, error) {
	query := s.db.WithContext(ctx).Model(&models.Listing{})

	// Apply filters
	if params.OwnerID != nil {
		query = query.Where("owner_id = ?", *params.OwnerID)
	}
	if params.Search != "" {
		search := "%" + params.Search + "%"
		query = query.Where("name LIKE ? OR description LIKE ?", search, search)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}

	var listings []models.Listing
	query = query.Preload("Owner").Scopes(
		utils.SortBy(params.PaginationParams, "", "created_at", "price", "name", "size"),
		utils.Paginate(params.PaginationParams),
	)
	if err := query.Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch listings: %w", err)
	}

	public := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		public = append(public, l.Public())
	}

	result := utils.CreatePaginationResult(public, total, params.PaginationParams)
	return &result, nil
}

// Download returns content to its owner or to a party of an order for a
// listing of that content.
func (s *ListingService) Download(ctx context.Context, traderID uuid.UUID, contentID string) ([]byte, error) {
	var owned int64
	if err := s.db.WithContext(ctx).Model(&models.Listing{}).
		Where("content_id = ? AND owner_id = ?", contentID, traderID).
		Count(&owned).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if owned == 0 {
		var involved int64
		if err := s.db.WithContext(ctx).Model(&models.PurchaseOrder{}).
			Joins("JOIN listings ON listings.id = purchase_orders.listing_id").
			Where("listings.content_id = ?", contentID).
			Where("purchase_orders.buyer_id = ? OR purchase_orders.verifier_id = ?", traderID, traderID).
			Count(&involved).Error; err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		if involved == 0 {
			return nil, fmt.Errorf("content %s: %w", contentID, ErrForbidden)
		}
	}

	return s.store.Get(ctx, contentID)
}
