package models

// Catalog hierarchy: a branch contains zones, a zone contains places.
// Pure containment, no invariants beyond referential integrity.

type Branch struct {
	ID      int    `json:"id" example:"1"`
	Name    string `json:"name" example:"Downtown Branch"`
	Address string `json:"address,omitempty" example:"123 Main St"`
}

type Zone struct {
	ID       int    `json:"id" example:"1"`
	BranchID int    `json:"branch_id" example:"1"`
	Name     string `json:"name" example:"VIP Zone"`
}

type Place struct {
	ID     int    `json:"id" example:"1"`
	ZoneID int    `json:"zone_id" example:"1"`
	Name   string `json:"name" example:"PC-01"`
}
