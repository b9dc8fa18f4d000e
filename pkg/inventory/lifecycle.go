package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StatusRule restricts which statuses a component may move to through
// SetStatus.
type StatusRule struct {
	From Status
	// To lists permitted targets. An empty list means the status is terminal.
	To []Status
}

// StatusMachine validates manual status changes. Install and Remove are the
// only ways in and out of the installed status.
type StatusMachine struct {
	rules map[Status][]Status
}

// NewStatusMachine builds a machine from rules. Statuses without a rule may
// move to any status except installed.
func NewStatusMachine(rules ...StatusRule) *StatusMachine {
	m := &StatusMachine{rules: make(map[Status][]Status, len(rules))}
	for _, r := range rules {
		m.rules[r.From] = r.To
	}
	return m
}

// DefaultStatusMachine is used by Store.SetStatus.
var DefaultStatusMachine = NewStatusMachine(
	StatusRule{From: StatusRetired},
	StatusRule{From: StatusLost, To: []Status{StatusSpare, StatusIncoming}},
)

// ValidateTransition returns nil when from->to is allowed and a
// *TransitionError otherwise.
func (m *StatusMachine) ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	switch {
	case to == StatusInstalled:
		return &TransitionError{
			Code:    "STATUS_REQUIRES_INSTALL",
			From:    from,
			To:      to,
			Message: "components become installed only through install",
		}
	case from == StatusInstalled:
		return &TransitionError{
			Code:    "STATUS_REQUIRES_REMOVE",
			From:    from,
			To:      to,
			Message: "installed components must be removed before changing status",
		}
	}
	allowed, ok := m.rules[from]
	if !ok {
		return nil
	}
	for _, a := range allowed {
		if a == to {
			return nil
		}
	}
	return &TransitionError{
		Code:    "STATUS_TRANSITION_DENIED",
		From:    from,
		To:      to,
		Message: fmt.Sprintf("transition from %s to %s is not allowed", from, to),
	}
}

// AllowedTransitions returns every status reachable from from via SetStatus.
func (m *StatusMachine) AllowedTransitions(from Status) []Status {
	var out []Status
	for _, to := range Statuses {
		if to != from && m.ValidateTransition(from, to) == nil {
			out = append(out, to)
		}
	}
	return out
}

// TransitionError is a structured error for a refused status change.
type TransitionError struct {
	Code    string `json:"code"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Message string `json:"message"`
}

func (e *TransitionError) Error() string { return e.Message }

func (e *TransitionError) Unwrap() error { return ErrTransitionDenied }

// InstallRequest describes placing a component at a detector position.
type InstallRequest struct {
	ComponentID string
	Position    string
	RunPeriod   string
	InstalledBy string
	Notes       string
}

// Install marks the component installed at a position and opens a ledger
// row. A component that is already installed, or has an open ledger row, is
// rejected with ErrAlreadyInstalled.
func (s *Store) Install(ctx context.Context, req InstallRequest) (*InstallationRecord, error) {
	req.Position = strings.TrimSpace(req.Position)
	req.RunPeriod = strings.TrimSpace(req.RunPeriod)
	if req.Position == "" {
		return nil, invalid("position is required")
	}
	if req.RunPeriod == "" {
		return nil, invalid("run period is required")
	}
	var rec *InstallationRecord
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		c, err := loadComponent(tx, req.ComponentID)
		if err != nil {
			return err
		}
		if c.Installed() {
			return newError(ErrAlreadyInstalled, "component %s is already installed at %s", c.ID, c.Position())
		}
		open, err := openInstallation(tx, c.ID)
		if err != nil {
			return err
		}
		if open != nil {
			return newError(ErrAlreadyInstalled, "component %s has an open installation at %s", c.ID, open.Position)
		}
		now := s.timestamp()
		if err := tx.Model(&Component{}).Where("id = ?", c.ID).Updates(map[string]any{
			"installation_status": StatusInstalled,
			"installed_position":  req.Position,
			"updated_at":          now,
		}).Error; err != nil {
			return fmt.Errorf("update component: %w", err)
		}
		rec = &InstallationRecord{
			ComponentID:      c.ID,
			Position:         req.Position,
			InstallationDate: now,
			InstalledBy:      req.InstalledBy,
			RunPeriod:        req.RunPeriod,
			Notes:            req.Notes,
		}
		if err := tx.Omit("Component").Create(rec).Error; err != nil {
			return fmt.Errorf("create installation record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("component installed",
		zap.String("id", req.ComponentID), zap.String("position", req.Position), zap.String("run", req.RunPeriod))
	return rec, nil
}

// RemoveRequest describes taking a component out of its position.
type RemoveRequest struct {
	ComponentID string
	Reason      string
	RemovedBy   string
	// NewLocation defaults to DefaultRemovalLocation.
	NewLocation string
}

// Remove closes the open ledger row, marks the component spare, clears its
// position and moves it to the new location, all in one transaction.
//
// A component can be marked installed without a ledger row (databases
// written by older tooling, or a raw status edit). Remove still succeeds;
// the returned record is then built from the component and has ID 0 since
// nothing was stored.
func (s *Store) Remove(ctx context.Context, req RemoveRequest) (*InstallationRecord, error) {
	location := strings.TrimSpace(req.NewLocation)
	if location == "" {
		location = DefaultRemovalLocation
	}
	var rec *InstallationRecord
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		c, err := loadComponent(tx, req.ComponentID)
		if err != nil {
			return err
		}
		open, err := openInstallation(tx, c.ID)
		if err != nil {
			return err
		}
		if !c.Installed() && open == nil {
			return newError(ErrNotInstalled, "component %s is not installed", c.ID)
		}
		now := s.timestamp()
		if open != nil {
			if err := tx.Model(&InstallationRecord{}).Where("id = ?", open.ID).Updates(map[string]any{
				"removal_date":   now,
				"removed_by":     req.RemovedBy,
				"removal_reason": req.Reason,
			}).Error; err != nil {
				return fmt.Errorf("close installation record: %w", err)
			}
			open.RemovalDate = &now
			open.RemovedBy = req.RemovedBy
			open.RemovalReason = req.Reason
			rec = open
		} else {
			rec = &InstallationRecord{
				ComponentID:   c.ID,
				Position:      c.Position(),
				RemovalDate:   &now,
				RemovedBy:     req.RemovedBy,
				RemovalReason: req.Reason,
			}
		}
		if err := tx.Model(&Component{}).Where("id = ?", c.ID).Updates(map[string]any{
			"installation_status": StatusSpare,
			"installed_position":  gorm.Expr("NULL"),
			"current_location":    location,
			"updated_at":          now,
		}).Error; err != nil {
			return fmt.Errorf("update component: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("component removed",
		zap.String("id", req.ComponentID), zap.String("reason", req.Reason), zap.String("location", location))
	return rec, nil
}

func openInstallation(tx *gorm.DB, componentID string) (*InstallationRecord, error) {
	var rec InstallationRecord
	err := tx.Where("component_id = ? AND removal_date IS NULL", componentID).
		Order("installation_date DESC").Order("id DESC").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get open installation: %w", err)
	}
	return &rec, nil
}

// OpenInstallation returns the current ledger row or nil when not installed.
func (s *Store) OpenInstallation(ctx context.Context, componentID string) (*InstallationRecord, error) {
	return openInstallation(s.db.WithContext(ctx), componentID)
}

// InstallationHistory returns every ledger row for a component, newest first.
func (s *Store) InstallationHistory(ctx context.Context, componentID string) ([]InstallationRecord, error) {
	db := s.db.WithContext(ctx)
	if err := requireComponent(db, componentID); err != nil {
		return nil, err
	}
	var out []InstallationRecord
	if err := db.Where("component_id = ?", componentID).
		Order("installation_date DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list installation history: %w", err)
	}
	return out, nil
}

// AssembleRequest describes attaching a sensor and/or hybrid to a module.
type AssembleRequest struct {
	ModuleID    string
	SensorID    string
	HybridID    string
	Notes       string
	AssembledBy string
}

// Assemble sets the module's sensor and/or hybrid. Each part may belong to
// at most one module. A maintenance entry records the change.
func (s *Store) Assemble(ctx context.Context, req AssembleRequest) (*Component, error) {
	if req.SensorID == "" && req.HybridID == "" {
		return nil, invalid("assemble needs a sensor or a hybrid")
	}
	var out *Component
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		module, err := loadModule(tx, req.ModuleID)
		if err != nil {
			return err
		}
		updates := map[string]any{}
		var parts []string
		if req.SensorID != "" {
			if err := checkAssemblable(tx, module.ID, req.SensorID, TypeSensor, "assembled_sensor_id"); err != nil {
				return err
			}
			updates["assembled_sensor_id"] = req.SensorID
			module.AssembledSensorID = &req.SensorID
			parts = append(parts, "sensor "+req.SensorID)
		}
		if req.HybridID != "" {
			if err := checkAssemblable(tx, module.ID, req.HybridID, TypeHybrid, "assembled_hybrid_id"); err != nil {
				return err
			}
			updates["assembled_hybrid_id"] = req.HybridID
			module.AssembledHybridID = &req.HybridID
			parts = append(parts, "hybrid "+req.HybridID)
		}
		now := s.timestamp()
		updates["updated_at"] = now
		if err := tx.Model(&Component{}).Where("id = ?", module.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("assemble module: %w", err)
		}
		desc := "Assembly: " + strings.Join(parts, " and ")
		if req.Notes != "" {
			desc += " - " + req.Notes
		}
		if err := insertLog(tx, &MaintenanceLog{
			ComponentID: module.ID,
			LogDate:     now,
			LogType:     LogMaintenance,
			Severity:    SeverityInfo,
			Description: desc,
			LoggedBy:    req.AssembledBy,
		}); err != nil {
			return err
		}
		out = module
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("module assembled",
		zap.String("module", req.ModuleID), zap.String("sensor", req.SensorID), zap.String("hybrid", req.HybridID))
	return out, nil
}

// Disassemble clears both assembly fields of a module.
func (s *Store) Disassemble(ctx context.Context, moduleID, notes, by string) (*Component, error) {
	var out *Component
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		module, err := loadModule(tx, moduleID)
		if err != nil {
			return err
		}
		if module.AssembledSensorID == nil && module.AssembledHybridID == nil {
			return newError(ErrNothingAssembled, "module %s has no sensor or hybrid assembled", moduleID)
		}
		var parts []string
		if module.AssembledSensorID != nil {
			parts = append(parts, "sensor "+*module.AssembledSensorID)
		}
		if module.AssembledHybridID != nil {
			parts = append(parts, "hybrid "+*module.AssembledHybridID)
		}
		now := s.timestamp()
		if err := tx.Model(&Component{}).Where("id = ?", moduleID).Updates(map[string]any{
			"assembled_sensor_id": gorm.Expr("NULL"),
			"assembled_hybrid_id": gorm.Expr("NULL"),
			"updated_at":          now,
		}).Error; err != nil {
			return fmt.Errorf("disassemble module: %w", err)
		}
		desc := "Disassembly: removed " + strings.Join(parts, " and ")
		if notes != "" {
			desc += " - " + notes
		}
		if err := insertLog(tx, &MaintenanceLog{
			ComponentID: moduleID,
			LogDate:     now,
			LogType:     LogMaintenance,
			Severity:    SeverityInfo,
			Description: desc,
			LoggedBy:    by,
		}); err != nil {
			return err
		}
		module.AssembledSensorID = nil
		module.AssembledHybridID = nil
		out = module
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("module disassembled", zap.String("module", moduleID))
	return out, nil
}

func loadModule(tx *gorm.DB, id string) (*Component, error) {
	c, err := loadComponent(tx, id)
	if err != nil {
		return nil, err
	}
	if c.Type != TypeModule {
		return nil, newError(ErrTypeMismatch, "component %s is a %s, not a module", id, c.Type)
	}
	return c, nil
}

// checkAssemblable verifies that partID exists, has the wanted type and is
// not already held by a module other than moduleID.
func checkAssemblable(tx *gorm.DB, moduleID, partID string, want ComponentType, column string) error {
	part, err := loadComponent(tx, partID)
	if err != nil {
		return err
	}
	if part.Type != want {
		return newError(ErrTypeMismatch, "component %s is a %s, not a %s", partID, part.Type, want)
	}
	var holder Component
	err = tx.Select("id").Where(column+" = ? AND id != ?", partID, moduleID).First(&holder).Error
	if err == nil {
		return newError(ErrAlreadyAssembled, "%s %s is already assembled on module %s", want, partID, holder.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("check assembly: %w", err)
	}
	return nil
}

// Assembly describes the composition relation around one component.
type Assembly struct {
	// Module is set when the component is a sensor or hybrid held by a module.
	Module *Component `json:"module,omitempty"`
	// Sensor and Hybrid are set when the component is a module.
	Sensor *Component `json:"sensor,omitempty"`
	Hybrid *Component `json:"hybrid,omitempty"`
}

// AssemblyOf reports what a component is assembled with.
func (s *Store) AssemblyOf(ctx context.Context, id string) (*Assembly, error) {
	db := s.db.WithContext(ctx)
	c, err := loadComponent(db, id)
	if err != nil {
		return nil, err
	}
	out := &Assembly{}
	switch c.Type {
	case TypeModule:
		if c.AssembledSensorID != nil {
			if out.Sensor, err = loadComponent(db, *c.AssembledSensorID); err != nil {
				return nil, err
			}
		}
		if c.AssembledHybridID != nil {
			if out.Hybrid, err = loadComponent(db, *c.AssembledHybridID); err != nil {
				return nil, err
			}
		}
	case TypeSensor, TypeHybrid:
		column := "assembled_sensor_id"
		if c.Type == TypeHybrid {
			column = "assembled_hybrid_id"
		}
		var module Component
		err := db.Where(column+" = ?", id).First(&module).Error
		switch {
		case err == nil:
			out.Module = &module
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("get assembly: %w", err)
		}
	}
	return out, nil
}
