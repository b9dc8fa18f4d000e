package inventory

import (
	"time"

	"gorm.io/datatypes"
)

// Component is a physical hardware unit.
type Component struct {
	ID                 string        `gorm:"primaryKey;column:id;type:varchar(128)" json:"id"`
	Type               ComponentType `gorm:"column:type;type:varchar(32);not null;index:idx_components_type;check:chk_components_type,type IN ('module','hybrid','sensor','feb','cable','optical_board','mpod_module','mpod_crate','flange_board','other')" json:"type"`
	SerialNumber       string        `gorm:"column:serial_number;type:varchar(128);uniqueIndex:idx_components_serial;not null" json:"serialNumber"`
	AssetTag           string        `gorm:"column:asset_tag;type:varchar(128)" json:"assetTag,omitempty"`
	Manufacturer       string        `gorm:"column:manufacturer" json:"manufacturer,omitempty"`
	ManufactureDate    string        `gorm:"column:manufacture_date;type:varchar(32)" json:"manufactureDate,omitempty"`
	InstallationStatus Status        `gorm:"column:installation_status;type:varchar(32);not null;index:idx_components_status;check:chk_components_status,installation_status IN ('installed','spare','incoming','testing','qualified','failed','repair','degraded','retired','lost')" json:"installationStatus"`
	CurrentLocation    string        `gorm:"column:current_location" json:"currentLocation,omitempty"`
	InstalledPosition  *string       `gorm:"column:installed_position;index:idx_components_position" json:"installedPosition,omitempty"`
	AssembledSensorID  *string       `gorm:"column:assembled_sensor_id;type:varchar(128);uniqueIndex:idx_components_assembled_sensor;check:chk_components_assembly,type = 'module' OR (assembled_sensor_id IS NULL AND assembled_hybrid_id IS NULL)" json:"assembledSensorId,omitempty"`
	AssembledHybridID  *string       `gorm:"column:assembled_hybrid_id;type:varchar(128);uniqueIndex:idx_components_assembled_hybrid" json:"assembledHybridId,omitempty"`
	Attributes         Bag           `gorm:"column:attributes;type:text" json:"attributes,omitempty"`
	Notes              string        `gorm:"column:notes;type:text" json:"notes,omitempty"`
	CreatedAt          time.Time     `gorm:"column:created_at;index:idx_components_created" json:"createdAt"`
	UpdatedAt          time.Time     `gorm:"column:updated_at" json:"updatedAt"`

	AssembledSensor *Component `gorm:"foreignKey:AssembledSensorID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
	AssembledHybrid *Component `gorm:"foreignKey:AssembledHybridID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
}

// TableName returns the GORM table name.
func (Component) TableName() string { return "components" }

// Installed reports whether the component currently sits at a position.
func (c *Component) Installed() bool { return c.InstallationStatus == StatusInstalled }

// Position returns the installed position or "".
func (c *Component) Position() string {
	if c.InstalledPosition == nil {
		return ""
	}
	return *c.InstalledPosition
}

// Attribute returns a single attribute value.
func (c *Component) Attribute(key string) (Value, bool) {
	v, ok := c.Attributes[key]
	return v, ok
}

// InstallationRecord is one row of the append-only installation ledger.
type InstallationRecord struct {
	ID               uint       `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ComponentID      string     `gorm:"column:component_id;type:varchar(128);not null;index:idx_installation_component" json:"componentId"`
	Position         string     `gorm:"column:position;not null" json:"position"`
	InstallationDate time.Time  `gorm:"column:installation_date;not null" json:"installationDate"`
	RemovalDate      *time.Time `gorm:"column:removal_date;index:idx_installation_open" json:"removalDate,omitempty"`
	InstalledBy      string     `gorm:"column:installed_by" json:"installedBy,omitempty"`
	RemovedBy        string     `gorm:"column:removed_by" json:"removedBy,omitempty"`
	RemovalReason    string     `gorm:"column:removal_reason" json:"removalReason,omitempty"`
	RunPeriod        string     `gorm:"column:run_period;index:idx_installation_run" json:"runPeriod,omitempty"`
	Notes            string     `gorm:"column:notes;type:text" json:"notes,omitempty"`

	Component *Component `gorm:"foreignKey:ComponentID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (InstallationRecord) TableName() string { return "installation_history" }

// Open reports whether the record has not been closed by a removal.
func (r *InstallationRecord) Open() bool { return r.RemovalDate == nil }

// TestResult is one performed test of a component.
type TestResult struct {
	ID              uint      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ComponentID     string    `gorm:"column:component_id;type:varchar(128);not null;index:idx_tests_component" json:"componentId"`
	TestDate        time.Time `gorm:"column:test_date;not null;index:idx_tests_date" json:"testDate"`
	TestType        string    `gorm:"column:test_type;not null;index:idx_tests_type" json:"testType"`
	PassFail        *bool     `gorm:"column:pass_fail" json:"passFail"`
	VoltageMeasured *float64  `gorm:"column:voltage_measured" json:"voltageMeasured,omitempty"`
	CurrentMeasured *float64  `gorm:"column:current_measured" json:"currentMeasured,omitempty"`
	NoiseLevel      *float64  `gorm:"column:noise_level" json:"noiseLevel,omitempty"`
	Temperature     *float64  `gorm:"column:temperature" json:"temperature,omitempty"`
	Measurements    Bag       `gorm:"column:measurements;type:text" json:"measurements,omitempty"`
	TestedBy        string    `gorm:"column:tested_by" json:"testedBy,omitempty"`
	TestSetup       string    `gorm:"column:test_setup" json:"testSetup,omitempty"`
	TestConditions  string    `gorm:"column:test_conditions" json:"testConditions,omitempty"`
	Notes           string    `gorm:"column:notes;type:text" json:"notes,omitempty"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"createdAt"`

	Files     []TestFile `gorm:"foreignKey:TestID;references:ID;constraint:OnDelete:CASCADE" json:"files,omitempty"`
	Component *Component `gorm:"foreignKey:ComponentID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (TestResult) TableName() string { return "test_results" }

// Outcome renders the tri-state pass/fail flag.
func (t *TestResult) Outcome() string {
	switch {
	case t.PassFail == nil:
		return "unknown"
	case *t.PassFail:
		return "pass"
	default:
		return "fail"
	}
}

// TestFile is a file attached to a test result, stored under the data directory.
type TestFile struct {
	ID               uint              `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	TestID           uint              `gorm:"column:test_id;not null;index:idx_test_files_test" json:"testId"`
	FileType         FileType          `gorm:"column:file_type;type:varchar(16);not null;check:chk_test_files_type,file_type IN ('raw_data','plot','image','log','other')" json:"fileType"`
	FilePath         string            `gorm:"column:file_path;not null" json:"filePath"`
	OriginalFilename string            `gorm:"column:original_filename" json:"originalFilename,omitempty"`
	Description      string            `gorm:"column:description" json:"description,omitempty"`
	FileSize         int64             `gorm:"column:file_size" json:"fileSize"`
	Metadata         datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	UploadDate       time.Time         `gorm:"column:upload_date;not null" json:"uploadDate"`
}

func (TestFile) TableName() string { return "test_files" }

// Connection is an undirected edge between two components.
type Connection struct {
	ID               uint      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ComponentAID     string    `gorm:"column:component_a_id;type:varchar(128);not null;index:idx_connections_a" json:"componentAId"`
	ComponentBID     string    `gorm:"column:component_b_id;type:varchar(128);not null;index:idx_connections_b" json:"componentBId"`
	ConnectionType   string    `gorm:"column:connection_type" json:"connectionType,omitempty"`
	CableID          *string   `gorm:"column:cable_id;type:varchar(128)" json:"cableId,omitempty"`
	InstallationDate time.Time `gorm:"column:installation_date;not null" json:"installationDate"`
	Notes            string    `gorm:"column:notes;type:text" json:"notes,omitempty"`

	ComponentA *Component `gorm:"foreignKey:ComponentAID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
	ComponentB *Component `gorm:"foreignKey:ComponentBID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
	Cable      *Component `gorm:"foreignKey:CableID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (Connection) TableName() string { return "connections" }

// Other returns the endpoint opposite to id.
func (c *Connection) Other(id string) string {
	if c.ComponentAID == id {
		return c.ComponentBID
	}
	return c.ComponentAID
}

// MaintenanceLog is an append-only note attached to a component.
type MaintenanceLog struct {
	ID           uint       `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ComponentID  string     `gorm:"column:component_id;type:varchar(128);not null;index:idx_maintenance_component" json:"componentId"`
	LogDate      time.Time  `gorm:"column:log_date;not null;index:idx_maintenance_date" json:"logDate"`
	LogType      LogType    `gorm:"column:log_type;type:varchar(16);not null;check:chk_maintenance_type,log_type IN ('issue','repair','maintenance','note')" json:"logType"`
	Severity     Severity   `gorm:"column:severity;type:varchar(16);not null;check:chk_maintenance_severity,severity IN ('critical','warning','info')" json:"severity"`
	Description  string     `gorm:"column:description;type:text;not null" json:"description"`
	Resolution   string     `gorm:"column:resolution;type:text" json:"resolution,omitempty"`
	ResolvedDate *time.Time `gorm:"column:resolved_date" json:"resolvedDate,omitempty"`
	LoggedBy     string     `gorm:"column:logged_by" json:"loggedBy,omitempty"`
	ImagePath    string     `gorm:"column:image_path" json:"imagePath,omitempty"`

	Component *Component `gorm:"foreignKey:ComponentID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (MaintenanceLog) TableName() string { return "maintenance_log" }

// Resolved reports whether a resolution has been recorded.
func (l *MaintenanceLog) Resolved() bool { return l.ResolvedDate != nil }

// ComponentImage is a general photo of a component, not tied to a test.
type ComponentImage struct {
	ID          uint      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ComponentID string    `gorm:"column:component_id;type:varchar(128);not null;index:idx_images_component" json:"componentId"`
	ImagePath   string    `gorm:"column:image_path;not null" json:"imagePath"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	UploadedBy  string    `gorm:"column:uploaded_by" json:"uploadedBy,omitempty"`
	UploadDate  time.Time `gorm:"column:upload_date;not null" json:"uploadDate"`

	Component *Component `gorm:"foreignKey:ComponentID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (ComponentImage) TableName() string { return "component_images" }

// Models lists every table owned by this package in creation order.
func Models() []any {
	return []any{
		&Component{},
		&InstallationRecord{},
		&TestResult{},
		&TestFile{},
		&Connection{},
		&MaintenanceLog{},
		&ComponentImage{},
	}
}
