package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ListFilter narrows ListComponents. Empty fields match everything.
type ListFilter struct {
	Type     ComponentType
	Status   Status
	Location string
	Position string
	// Expr is a filter expression such as `type=sensor AND location~SLAC`.
	Expr   string
	Limit  int
	Offset int
}

// ComponentPatch carries optional field updates. Nil fields are left alone.
type ComponentPatch struct {
	SerialNumber    *string
	AssetTag        *string
	Manufacturer    *string
	ManufactureDate *string
	CurrentLocation *string
	Notes           *string
}

func (p ComponentPatch) updates() map[string]any {
	u := map[string]any{}
	if p.SerialNumber != nil {
		u["serial_number"] = *p.SerialNumber
	}
	if p.AssetTag != nil {
		u["asset_tag"] = *p.AssetTag
	}
	if p.Manufacturer != nil {
		u["manufacturer"] = *p.Manufacturer
	}
	if p.ManufactureDate != nil {
		u["manufacture_date"] = *p.ManufactureDate
	}
	if p.CurrentLocation != nil {
		u["current_location"] = *p.CurrentLocation
	}
	if p.Notes != nil {
		u["notes"] = *p.Notes
	}
	return u
}

// CreateComponent validates and inserts a new component. The status
// defaults to incoming and the serial number to the id.
func (s *Store) CreateComponent(ctx context.Context, c *Component) error {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return invalid("component id is required")
	}
	if !c.Type.Valid() {
		return invalid("invalid component type %q (valid: %s)", c.Type, strings.Join(inList(ComponentTypes), ", "))
	}
	if c.InstallationStatus == "" {
		c.InstallationStatus = StatusIncoming
	}
	if !c.InstallationStatus.Valid() {
		return invalid("invalid installation status %q (valid: %s)", c.InstallationStatus, strings.Join(inList(Statuses), ", "))
	}
	if c.SerialNumber == "" {
		c.SerialNumber = c.ID
	}
	if c.Type != TypeModule && (c.AssembledSensorID != nil || c.AssembledHybridID != nil) {
		return newError(ErrTypeMismatch, "only modules carry assembled sensor or hybrid ids, %s is a %s", c.ID, c.Type)
	}
	if c.InstallationStatus == StatusInstalled {
		return newError(ErrTransitionDenied, "new components cannot start as installed, use install")
	}
	c.InstalledPosition = nil
	now := s.timestamp()
	c.CreatedAt = now
	c.UpdatedAt = now

	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Component{}).Where("id = ?", c.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("check component id: %w", err)
		}
		if n > 0 {
			return newError(ErrDuplicate, "component %s already exists", c.ID)
		}
		if err := tx.Model(&Component{}).Where("serial_number = ?", c.SerialNumber).Count(&n).Error; err != nil {
			return fmt.Errorf("check serial number: %w", err)
		}
		if n > 0 {
			return newError(ErrDuplicate, "serial number %s is already registered", c.SerialNumber)
		}
		if c.AssembledSensorID != nil {
			if err := checkAssemblable(tx, c.ID, *c.AssembledSensorID, TypeSensor, "assembled_sensor_id"); err != nil {
				return err
			}
		}
		if c.AssembledHybridID != nil {
			if err := checkAssemblable(tx, c.ID, *c.AssembledHybridID, TypeHybrid, "assembled_hybrid_id"); err != nil {
				return err
			}
		}
		if err := tx.Omit("AssembledSensor", "AssembledHybrid").Create(c).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return newError(ErrDuplicate, "component %s conflicts with an existing record", c.ID)
			}
			return fmt.Errorf("create component: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("component created", zap.String("id", c.ID), zap.String("type", string(c.Type)))
	return nil
}

// GetComponent returns the component with the given id or ErrNotFound.
func (s *Store) GetComponent(ctx context.Context, id string) (*Component, error) {
	return loadComponent(s.db.WithContext(ctx), id)
}

// ListComponents returns components matching f, newest first.
func (s *Store) ListComponents(ctx context.Context, f ListFilter) ([]Component, error) {
	q, err := s.componentQuery(ctx, f)
	if err != nil {
		return nil, err
	}
	q = q.Order("created_at DESC").Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []Component
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	return out, nil
}

// CountComponents returns how many components match f, ignoring paging.
func (s *Store) CountComponents(ctx context.Context, f ListFilter) (int64, error) {
	q, err := s.componentQuery(ctx, f)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count components: %w", err)
	}
	return n, nil
}

func (s *Store) componentQuery(ctx context.Context, f ListFilter) (*gorm.DB, error) {
	q := s.db.WithContext(ctx).Model(&Component{})
	if f.Type != "" {
		if !f.Type.Valid() {
			return nil, invalid("invalid component type %q", f.Type)
		}
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, invalid("invalid installation status %q", f.Status)
		}
		q = q.Where("installation_status = ?", f.Status)
	}
	if f.Location != "" {
		q = q.Where("current_location = ?", f.Location)
	}
	if f.Position != "" {
		q = q.Where("installed_position = ?", f.Position)
	}
	if strings.TrimSpace(f.Expr) != "" {
		expr, err := ParseFilter(f.Expr)
		if err != nil {
			return nil, err
		}
		q = expr.Apply(q)
	}
	return q, nil
}

// UpdateComponent applies a patch of descriptive fields.
func (s *Store) UpdateComponent(ctx context.Context, id string, p ComponentPatch) (*Component, error) {
	updates := p.updates()
	var out *Component
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		c, err := loadComponent(tx, id)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			out = c
			return nil
		}
		if sn, ok := updates["serial_number"].(string); ok {
			if strings.TrimSpace(sn) == "" {
				return invalid("serial number cannot be empty")
			}
			var n int64
			if err := tx.Model(&Component{}).Where("serial_number = ? AND id != ?", sn, id).Count(&n).Error; err != nil {
				return fmt.Errorf("check serial number: %w", err)
			}
			if n > 0 {
				return newError(ErrDuplicate, "serial number %s is already registered", sn)
			}
		}
		updates["updated_at"] = s.timestamp()
		if err := tx.Model(&Component{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("update component: %w", err)
		}
		out, err = loadComponent(tx, id)
		return err
	})
	return out, err
}

// UpdateLocation moves a component to a new free-text location.
func (s *Store) UpdateLocation(ctx context.Context, id, location string) error {
	_, err := s.UpdateComponent(ctx, id, ComponentPatch{CurrentLocation: &location})
	return err
}

// UpdateAttributes merges attrs into the component's attribute bag. A null
// value removes the key.
func (s *Store) UpdateAttributes(ctx context.Context, id string, attrs Bag) (*Component, error) {
	var out *Component
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		c, err := loadComponent(tx, id)
		if err != nil {
			return err
		}
		merged := c.Attributes.Merge(attrs)
		for k, v := range attrs {
			if v.IsNull() {
				delete(merged, k)
			}
		}
		now := s.timestamp()
		if err := tx.Model(&Component{}).Where("id = ?", id).Updates(map[string]any{
			"attributes": merged,
			"updated_at": now,
		}).Error; err != nil {
			return fmt.Errorf("update attributes: %w", err)
		}
		c.Attributes = merged
		c.UpdatedAt = now
		out = c
		return nil
	})
	return out, err
}

// SetAttribute sets a single attribute.
func (s *Store) SetAttribute(ctx context.Context, id, key string, v Value) (*Component, error) {
	if strings.TrimSpace(key) == "" {
		return nil, invalid("attribute key is required")
	}
	return s.UpdateAttributes(ctx, id, Bag{key: v})
}

// SetStatus changes the installation status outside of install and remove.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return invalid("invalid installation status %q", status)
	}
	return s.transaction(ctx, func(tx *gorm.DB) error {
		c, err := loadComponent(tx, id)
		if err != nil {
			return err
		}
		if err := DefaultStatusMachine.ValidateTransition(c.InstallationStatus, status); err != nil {
			return err
		}
		if c.InstallationStatus == status {
			return nil
		}
		if err := tx.Model(&Component{}).Where("id = ?", id).Updates(map[string]any{
			"installation_status": status,
			"updated_at":          s.timestamp(),
		}).Error; err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		s.logger.Info("component status changed",
			zap.String("id", id), zap.String("from", string(c.InstallationStatus)), zap.String("to", string(status)))
		return nil
	})
}

// DeleteComponent removes a component that nothing references.
func (s *Store) DeleteComponent(ctx context.Context, id string) error {
	return s.transaction(ctx, func(tx *gorm.DB) error {
		if _, err := loadComponent(tx, id); err != nil {
			return err
		}
		refs := []struct {
			what  string
			model any
			where string
		}{
			{"installation records", &InstallationRecord{}, "component_id = ?"},
			{"test results", &TestResult{}, "component_id = ?"},
			{"connections", &Connection{}, "component_a_id = ? OR component_b_id = ? OR cable_id = ?"},
			{"maintenance logs", &MaintenanceLog{}, "component_id = ?"},
			{"images", &ComponentImage{}, "component_id = ?"},
			{"module assemblies", &Component{}, "assembled_sensor_id = ? OR assembled_hybrid_id = ?"},
		}
		for _, ref := range refs {
			args := make([]any, strings.Count(ref.where, "?"))
			for i := range args {
				args[i] = id
			}
			var n int64
			if err := tx.Model(ref.model).Where(ref.where, args...).Count(&n).Error; err != nil {
				return fmt.Errorf("check %s: %w", ref.what, err)
			}
			if n > 0 {
				return newError(ErrInUse, "component %s is referenced by %d %s", id, n, ref.what)
			}
		}
		if err := tx.Where("id = ?", id).Delete(&Component{}).Error; err != nil {
			return fmt.Errorf("delete component: %w", err)
		}
		return nil
	})
}
