package inventory

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// ComponentType is the closed set of hardware kinds the tracker knows about.
type ComponentType string

const (
	TypeModule       ComponentType = "module"
	TypeHybrid       ComponentType = "hybrid"
	TypeSensor       ComponentType = "sensor"
	TypeFEB          ComponentType = "feb"
	TypeCable        ComponentType = "cable"
	TypeOpticalBoard ComponentType = "optical_board"
	TypeMPODModule   ComponentType = "mpod_module"
	TypeMPODCrate    ComponentType = "mpod_crate"
	TypeFlangeBoard  ComponentType = "flange_board"
	TypeOther        ComponentType = "other"
)

// ComponentTypes lists every valid type in display order.
var ComponentTypes = []ComponentType{
	TypeModule, TypeHybrid, TypeSensor, TypeFEB, TypeCable,
	TypeOpticalBoard, TypeMPODModule, TypeMPODCrate, TypeFlangeBoard, TypeOther,
}

var componentTypeSet = mapset.NewThreadUnsafeSet(ComponentTypes...)

// Valid reports whether t is a member of the closed type enumeration.
func (t ComponentType) Valid() bool { return componentTypeSet.Contains(t) }

var typeDisplayNames = map[ComponentType]string{
	TypeModule:       "Module",
	TypeHybrid:       "Hybrid",
	TypeSensor:       "Sensor",
	TypeFEB:          "Front End Board",
	TypeCable:        "Cable",
	TypeOpticalBoard: "Optical Board",
	TypeMPODModule:   "MPOD Module",
	TypeMPODCrate:    "MPOD Crate",
	TypeFlangeBoard:  "Flange Board",
	TypeOther:        "Other",
}

// DisplayName returns the human readable label used by the dashboard.
func (t ComponentType) DisplayName() string {
	if n, ok := typeDisplayNames[t]; ok {
		return n
	}
	return string(t)
}

// Status is the installation status of a component.
type Status string

const (
	StatusInstalled Status = "installed"
	StatusSpare     Status = "spare"
	StatusIncoming  Status = "incoming"
	StatusTesting   Status = "testing"
	StatusQualified Status = "qualified"
	StatusFailed    Status = "failed"
	StatusRepair    Status = "repair"
	StatusDegraded  Status = "degraded"
	StatusRetired   Status = "retired"
	StatusLost      Status = "lost"
)

// Statuses lists every valid installation status.
var Statuses = []Status{
	StatusInstalled, StatusSpare, StatusIncoming, StatusTesting, StatusQualified,
	StatusFailed, StatusRepair, StatusDegraded, StatusRetired, StatusLost,
}

var statusSet = mapset.NewThreadUnsafeSet(Statuses...)

// Valid reports whether s is a member of the closed status enumeration.
func (s Status) Valid() bool { return statusSet.Contains(s) }

// FileType classifies a file attached to a test result.
type FileType string

const (
	FileRawData FileType = "raw_data"
	FilePlot    FileType = "plot"
	FileImage   FileType = "image"
	FileLog     FileType = "log"
	FileOther   FileType = "other"
)

// FileTypes lists every valid test file type.
var FileTypes = []FileType{FileRawData, FilePlot, FileImage, FileLog, FileOther}

var fileTypeSet = mapset.NewThreadUnsafeSet(FileTypes...)

func (f FileType) Valid() bool { return fileTypeSet.Contains(f) }

// LogType classifies a maintenance log entry.
type LogType string

const (
	LogIssue       LogType = "issue"
	LogRepair      LogType = "repair"
	LogMaintenance LogType = "maintenance"
	LogNote        LogType = "note"
)

var LogTypes = []LogType{LogIssue, LogRepair, LogMaintenance, LogNote}

var logTypeSet = mapset.NewThreadUnsafeSet(LogTypes...)

func (l LogType) Valid() bool { return logTypeSet.Contains(l) }

// Severity of a maintenance log entry.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

var Severities = []Severity{SeverityCritical, SeverityWarning, SeverityInfo}

var severitySet = mapset.NewThreadUnsafeSet(Severities...)

func (s Severity) Valid() bool { return severitySet.Contains(s) }

// Well-known measurement keys mirrored into indexed test_results columns.
const (
	MeasurementVoltage     = "voltage_measured"
	MeasurementCurrent     = "current_measured"
	MeasurementNoise       = "noise_level"
	MeasurementTemperature = "temperature"
)

// DefaultRemovalLocation is where removed components go unless told otherwise.
const DefaultRemovalLocation = "Storage"

// imageExtensions are the file extensions accepted for component pictures.
var imageExtensions = mapset.NewThreadUnsafeSet(".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tiff", ".tif")

// IsImageFile reports whether name carries an accepted picture extension.
func IsImageFile(name string) bool {
	return imageExtensions.Contains(lowerExt(name))
}

func inList[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}
