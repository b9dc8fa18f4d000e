package inventory

import (
	"context"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConnectRequest describes a new edge. Duplicate and self edges are allowed.
type ConnectRequest struct {
	ComponentA     string
	ComponentB     string
	ConnectionType string
	CableID        string
	Notes          string
}

// Connect records an undirected connection between two components,
// optionally through a cable component.
func (s *Store) Connect(ctx context.Context, req ConnectRequest) (*Connection, error) {
	conn := &Connection{
		ComponentAID:   req.ComponentA,
		ComponentBID:   req.ComponentB,
		ConnectionType: req.ConnectionType,
		CableID:        strPtr(req.CableID),
		Notes:          req.Notes,
	}
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		ids := []string{req.ComponentA, req.ComponentB}
		if req.CableID != "" {
			ids = append(ids, req.CableID)
		}
		for _, id := range ids {
			if err := requireComponent(tx, id); err != nil {
				return err
			}
		}
		conn.InstallationDate = s.timestamp()
		if err := tx.Omit("ComponentA", "ComponentB", "Cable").Create(conn).Error; err != nil {
			return fmt.Errorf("create connection: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("components connected",
		zap.Uint("id", conn.ID), zap.String("a", req.ComponentA), zap.String("b", req.ComponentB))
	return conn, nil
}

// ConnectionsFor returns every connection touching a component, newest first.
func (s *Store) ConnectionsFor(ctx context.Context, componentID string) ([]Connection, error) {
	db := s.db.WithContext(ctx)
	if err := requireComponent(db, componentID); err != nil {
		return nil, err
	}
	var out []Connection
	if err := db.Where("component_a_id = ? OR component_b_id = ?", componentID, componentID).
		Order("installation_date DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return out, nil
}

// Neighbor is a component one edge away.
type Neighbor struct {
	ComponentID    string  `json:"componentId"`
	ConnectionID   uint    `json:"connectionId"`
	ConnectionType string  `json:"connectionType,omitempty"`
	CableID        *string `json:"cableId,omitempty"`
}

// Neighbors returns the components directly connected to componentID,
// regardless of which endpoint it occupies. A self edge yields the
// component itself.
func (s *Store) Neighbors(ctx context.Context, componentID string) ([]Neighbor, error) {
	conns, err := s.ConnectionsFor(ctx, componentID)
	if err != nil {
		return nil, err
	}
	out := make([]Neighbor, 0, len(conns))
	for _, c := range conns {
		out = append(out, Neighbor{
			ComponentID:    c.Other(componentID),
			ConnectionID:   c.ID,
			ConnectionType: c.ConnectionType,
			CableID:        c.CableID,
		})
	}
	return out, nil
}

// NeighborIDs returns the distinct neighbor ids, sorted.
func NeighborIDs(ns []Neighbor) []string {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, n := range ns {
		set.Add(n.ComponentID)
	}
	ids := set.ToSlice()
	sort.Strings(ids)
	return ids
}

// Disconnect hard-deletes a connection.
func (s *Store) Disconnect(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Connection{})
	if res.Error != nil {
		return fmt.Errorf("delete connection: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("connection", fmt.Sprint(id))
	}
	s.logger.Info("connection removed", zap.Uint("id", id))
	return nil
}
