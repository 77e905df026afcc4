package services

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/clubpoint/backend/internal/authz"
	"github.com/clubpoint/backend/internal/middleware"
	"github.com/clubpoint/backend/internal/models"
	"github.com/go-chi/chi/v5"
)

// CatalogService manages the branch → zone → place hierarchy. Catalog data
// is consumed by the booking core but carries no invariants of its own
// beyond referential integrity, which the schema enforces with cascading
// foreign keys.
type CatalogService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewCatalogService(db *sql.DB) *CatalogService {
	return &CatalogService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type BranchRequest struct {
	Name    string `json:"name" validate:"required,max=100" example:"Downtown Branch"`
	Address string `json:"address,omitempty" validate:"max=200" example:"123 Main St"`
}

type ZoneRequest struct {
	BranchID int    `json:"branch_id" validate:"required,min=1" example:"1"`
	Name     string `json:"name" validate:"required,max=100" example:"VIP Zone"`
}

type PlaceRequest struct {
	ZoneID int    `json:"zone_id" validate:"required,min=1" example:"1"`
	Name   string `json:"name" validate:"required,max=50" example:"PC-01"`
}

func (s *CatalogService) requireStaff(w http.ResponseWriter, r *http.Request) bool {
	if !authz.Can(middleware.Role(r.Context()), authz.ActionManageCatalog) {
		SendErrorResponse(w, "Not enough permissions", http.StatusForbidden, nil)
		return false
	}
	return true
}

func urlID(r *http.Request, name string) (int, error) {
	return strconv.Atoi(chi.URLParam(r, name))
}

// ListBranches lists branches
// @Summary List branches
// @Tags catalog
// @Produce json
// @Success 200 {array} models.Branch
// @Router /branches [get]
func (s *CatalogService) ListBranches(w http.ResponseWriter, r *http.Request) {
	skip, limit := paginationParams(r, 10)

	rows, err := s.db.QueryContext(r.Context(),
		`SELECT id, name, COALESCE(address, '') FROM branches ORDER BY id LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		log.Printf("[CATALOG] Branch list failed: %v", err)
		SendErrorResponse(w, "Failed to list branches", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	branches := []models.Branch{}
	for rows.Next() {
		var b models.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Address); err != nil {
			SendErrorResponse(w, "Failed to list branches", http.StatusInternalServerError, nil)
			return
		}
		branches = append(branches, b)
	}

	SendJSON(w, http.StatusOK, branches)
}

// CreateBranch creates a branch
// @Summary Create a branch
// @Tags catalog
// @Accept json
// @Produce json
// @Param request body BranchRequest true "Branch"
// @Success 201 {object} models.Branch
// @Failure 403 {object} ErrorResponse
// @Router /branches [post]
func (s *CatalogService) CreateBranch(w http.ResponseWriter, r *http.Request) {
	if !s.requireStaff(w, r) {
		return
	}

	var req BranchRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var b models.Branch
	err := s.db.QueryRowContext(r.Context(),
		`INSERT INTO branches (name, address) VALUES ($1, $2) RETURNING id, name, COALESCE(address, '')`,
		req.Name, req.Address).Scan(&b.ID, &b.Name, &b.Address)
	if err != nil {
		log.Printf("[CATALOG] Branch creation failed: %v", err)
		SendErrorResponse(w, "Failed to create branch", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusCreated, b)
}

// GetBranch fetches a branch
// @Summary Get a branch
// @Tags catalog
// @Produce json
// @Param branchId path int true "Branch ID"
// @Success 200 {object} models.Branch
// @Failure 404 {object} ErrorResponse
// @Router /branches/{branchId} [get]
func (s *CatalogService) GetBranch(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "branchId")
	if err != nil {
		SendErrorResponse(w, "Invalid branch ID", http.StatusBadRequest, nil)
		return
	}

	var b models.Branch
	err = s.db.QueryRowContext(r.Context(),
		`SELECT id, name, COALESCE(address, '') FROM branches WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Address)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Branch not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch branch", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, b)
}

// UpdateBranch updates a branch
// @Summary Update a branch
// @Tags catalog
// @Accept json
// @Produce json
// @Param branchId path int true "Branch ID"
// @Param request body BranchRequest true "Branch"
// @Success 200 {object} models.Branch
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /branches/{branchId} [put]
func (s *CatalogService) UpdateBranch(w http.ResponseWriter, r *http.Request) {
	if !s.requireStaff(w, r) {
		return
	}

	id, err := urlID(r, "branchId")
	if err != nil {
		SendErrorResponse(w, "Invalid branch ID", http.StatusBadRequest, nil)
		return
	}

	var req BranchRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var b models.Branch
	err = s.db.QueryRowContext(r.Context(),
		`UPDATE branches SET name = $1, address = $2 WHERE id = $3 RETURNING id, name, COALESCE(address, '')`,
		req.Name, req.Address, id).Scan(&b.ID, &b.Name, &b.Address)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Branch not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to update branch", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, b)
}

// DeleteBranch deletes a branch and its zones/places
// @Summary Delete a branch
// @Tags catalog
// @Param branchId path int true "Branch ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Router /branches/{branchId} [delete]
func (s *CatalogService) DeleteBranch(w http.ResponseWriter, r *http.Request) {
	if !s.requireStaff(w, r) {
		return
	}

	id, err := urlID(r, "branchId")
	if err != nil {
		SendErrorResponse(w, "Invalid branch ID", http.StatusBadRequest, nil)
		return
	}

	if _, err := s.db.ExecContext(r.Context(), `DELETE FROM branches WHERE id = $1`, id); err != nil {
		SendErrorResponse(w, "Failed to delete branch", http.StatusInternalServerError, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListZones lists zones of a branch
// @Summary List zones
// @Tags catalog
// @Produce json
// @Param branch_id query int true "Branch ID"
// @Success 200 {array} models.Zone
// @Router /zones [get]
func (s *CatalogService) ListZones(w http.ResponseWriter, r *http.Request) {
	branchID, err := strconv.Atoi(r.URL.Query().Get("branch_id"))
	if err != nil || branchID < 1 {
		SendErrorResponse(w, "branch_id is required", http.StatusBadRequest, nil)
		return
	}
	skip, limit := paginationParams(r, 10)

	rows, err := s.db.QueryContext(r.Context(),
		`SELECT id, branch_id, name FROM zones WHERE branch_id = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		branchID, limit, skip)
	if err != nil {
		SendErrorResponse(w, "Failed to list zones", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	zones := []models.Zone{}
	for rows.Next() {
		var z models.Zone
		if err := rows.Scan(&z.ID, &z.BranchID, &z.Name); err != nil {
			SendErrorResponse(w, "Failed to list zones", http.StatusInternalServerError, nil)
			return
		}
		zones = append(zones, z)
	}

	SendJSON(w, http.StatusOK, zones)
}

// CreateZone creates a zone
// @Summary Create a zone
// @Tags catalog
// @Accept json
// @Produce json
// @Param request body ZoneRequest true "Zone"
// @Success 201 {object} models.Zone
// @Failure 403 {object} ErrorResponse
// @Router /zones [post]
func (s *CatalogService) CreateZone(w http.ResponseWriter, r *http.Request) {
	if !s.requireStaff(w, r) {
		return
	}

	var req ZoneRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var z models.Zone
	err := s.db.QueryRowContext(r.Context(),
		`INSERT INTO zones (branch_id, name) VALUES ($1, $2) RETURNING id, branch_id, name`,
		req.BranchID, req.Name).Scan(&z.ID, &z.BranchID, &z.Name)
	if err != nil {
		log.Printf("[CATALOG] Zone creation failed: %v", err)
		SendErrorResponse(w, "Failed to create zone", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusCreated, z)
}

// GetZone fetches a zone
// @Summary Get a zone
// @Tags catalog
// @Produce json
// @Param zoneId path int true "Zone ID"
// @Success 200 {object} models.Zone
// @Failure 404 {object} ErrorResponse
// @Router /zones/{zoneId} [get]
func (s *CatalogService) GetZone(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "zoneId")
	if err != nil {
		SendErrorResponse(w, "Invalid zone ID", http.StatusBadRequest, nil)
		return
	}

	var z models.Zone
	err = s.db.QueryRowContext(r.Context(),
		`SELECT id, branch_id, name FROM zones WHERE id = $1`, id).
		Scan(&z.ID, &z.BranchID, &z.Name)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Zone not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch zone", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, z)
}

// UpdateZone updates a zone name
// @Summary Update a zone
// @Tags catalog
// @Accept json
// @Produce json
// @Param zoneId path int true "Zone ID"
// @Success 200 {object} models.Zone
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /zones/{zoneId} [put]
func (s *CatalogService) UpdateZone(w http.ResponseWriter, r *http.Request) {
	if !s.requireStaff(w, r) {
		return
	}

	id, err := urlID(r, "zoneId")
	if err != nil {
		SendErrorResponse(w, "Invalid zone ID", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Name string `json:"name" validate:"required,max=100"`
	}
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var z models.Zone
	err = s.db.QueryRowContext(r.Context(),
		`UPDATE zones SET name = $1 WHERE id = $2 RETURNING id, branch_id, name`,
		req.Name, id).Scan(&z.ID, &z.BranchID, &z.Name)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Zone not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to update zone", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, z)
}

// DeleteZone deletes a zone and its places
// @Summary Delete a zone
// @Tags catalog
// @Param zoneId path int true "Zone ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Router /zones/{zoneId} [delete]
func (s *CatalogService) DeleteZone(w http.ResponseWriter, r *http.Request) {
	if !s.requireStaff(w, r) {
		return
	}

	id, err := urlID(r, "zoneId")
	if err != nil {
		SendErrorResponse(w, "Invalid zone ID", http.StatusBadRequest, nil)
		return
	}

	if _, err := s.db.ExecContext(r.Context(), `DELETE FROM zones WHERE id = $1`, id); err != nil {
		SendErrorResponse(w, "Failed to delete zone", http.StatusInternalServerError, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPlaces lists places of a zone
// @Summary List places
// @Tags catalog
// @Produce json
// @Param zone_id query int true "Zone ID"
// @Success 200 {array} models.Place
// @Router /places [get]
func (s *CatalogService) ListPlaces(w http.ResponseWriter, r *http.Request) {
	zoneID, err := strconv.Atoi(r.URL.Query().Get("zone_id"))
	if err != nil || zoneID < 1 {
		SendErrorResponse(w, "zone_id is required", http.StatusBadRequest, nil)
		return
	}
	skip, limit := paginationParams(r, 10)

	rows, err := s.db.QueryContext(r.Context(),
		`SELECT id, zone_id, name FROM places WHERE zone_id = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		zoneID, limit, skip)
	if err != nil {
		SendErrorResponse(w, "Failed to list places", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	places := []models.Place{}
	for rows.Next() {
		var p models.Place
		if err := rows.Scan(&p.ID, &p.ZoneID, &p.Name); err != nil {
			SendErrorResponse(w, "Failed to list places", http.StatusInternalServerError, nil)
			return
		}
		places = append(places, p)
	}

	SendJSON(w, http.StatusOK, places)
}

// CreatePlace creates a place
// @Summary Create a place
// @Tags catalog
// @Accept json
// @Produce json
// @Param request body PlaceRequest true "Place"
// @Success 201 {object} models.Place
// @Failure 403 {object} ErrorResponse
// @Router /places [post]
func (s *CatalogService) CreatePlace(w http.ResponseWriter, r *http.Request) {
	if !s.requireStaff(w, r) {
		return
	}

	var req PlaceRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var p models.Place
	err := s.db.QueryRowContext(r.Context(),
		`INSERT INTO places (zone_id, name) VALUES ($1, $2) RETURNING id, zone_id, name`,
		req.ZoneID, req.Name).Scan(&p.ID, &p.ZoneID, &p.Name)
	if err != nil {
		log.Printf("[CATALOG] Place creation failed: %v", err)
		SendErrorResponse(w, "Failed to create place", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusCreated, p)
}

// GetPlace fetches a place
// @Summary Get a place
// @Tags catalog
// @Produce json
// @Param placeId path int true "Place ID"
// @Success 200 {object} models.Place
// @Failure 404 {object} ErrorResponse
// @Router /places/{placeId} [get]
func (s *CatalogService) GetPlace(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "placeId")
	if err != nil {
		SendErrorResponse(w, "Invalid place ID", http.StatusBadRequest, nil)
		return
	}

	var p models.Place
	err = s.db.QueryRowContext(r.Context(),
		`SELECT id, zone_id, name FROM places WHERE id = $1`, id).
		Scan(&p.ID, &p.ZoneID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Place not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch place", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, p)
}

// UpdatePlace updates a place name
// @Summary Update a place
// @Tags catalog
// @Accept json
// @Produce json
// @Param placeId path int true "Place ID"
// @Success 200 {object} models.Place
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /places/{placeId} [put]
func (s *CatalogService) UpdatePlace(w http.ResponseWriter, r *http.Request) {
	if !s.requireStaff(w, r) {
		return
	}

	id, err := urlID(r, "placeId")
	if err != nil {
		SendErrorResponse(w, "Invalid place ID", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Name string `json:"name" validate:"required,max=50"`
	}
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var p models.Place
	err = s.db.QueryRowContext(r.Context(),
		`UPDATE places SET name = $1 WHERE id = $2 RETURNING id, zone_id, name`,
		req.Name, id).Scan(&p.ID, &p.ZoneID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Place not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to update place", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, p)
}

// DeletePlace deletes a place
// @Summary Delete a place
// @Tags catalog
// @Param placeId path int true "Place ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Router /places/{placeId} [delete]
func (s *CatalogService) DeletePlace(w http.ResponseWriter, r *http.Request) {
	if !s.requireStaff(w, r) {
		return
	}

	id, err := urlID(r, "placeId")
	if err != nil {
		SendErrorResponse(w, "Invalid place ID", http.StatusBadRequest, nil)
		return
	}

	if _, err := s.db.ExecContext(r.Context(), `DELETE FROM places WHERE id = $1`, id); err != nil {
		SendErrorResponse(w, "Failed to delete place", http.StatusInternalServerError, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
