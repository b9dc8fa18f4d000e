package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hps-svt/tracker/pkg/inventory"
	"github.com/hps-svt/tracker/pkg/metrics"
)

func (s *Server) mountAPI(r chi.Router) {
	r.Route("/components", func(r chi.Router) {
		r.Get("/", s.listComponents)
		r.Post("/", s.createComponent)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getComponent)
			r.Patch("/", s.updateComponent)
			r.Delete("/", s.deleteComponent)
			r.Put("/status", s.setStatus)
			r.Put("/location", s.setLocation)
			r.Patch("/attributes", s.updateAttributes)
			r.Post("/install", s.install)
			r.Post("/remove", s.remove)
			r.Get("/history", s.history)
			r.Post("/assemble", s.assemble)
			r.Post("/disassemble", s.disassemble)
			r.Get("/assembly", s.assembly)
			r.Get("/tests", s.componentTests)
			r.Get("/connections", s.componentConnections)
			r.Get("/neighbors", s.neighbors)
			r.Get("/logs", s.componentLogs)
			r.Post("/logs", s.addLog)
			r.Get("/images", s.componentImages)
		})
	})
	r.Route("/tests", func(r chi.Router) {
		r.Get("/", s.recentTests)
		r.Post("/", s.recordTest)
		r.Get("/{testId}", s.getTest)
		r.Put("/{testId}/result", s.setResult)
		r.Delete("/{testId}", s.deleteTest)
	})
	r.Post("/connections", s.connect)
	r.Delete("/connections/{connId}", s.disconnect)
	r.Get("/logs/open", s.openIssues)
	r.Post("/logs/{logId}/resolve", s.resolveLog)
	r.With(s.cacheManager.StatsMiddleware()).Get("/stats", s.stats)
}

func idParam(r *http.Request, name string) (uint, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

func intQuery(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return def
	}
	return n
}

type listResponse struct {
	Items any   `json:"items"`
	Size  int   `json:"size"`
	Total int64 `json:"total"`
}

func (s *Server) listComponents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := inventory.ListFilter{
		Type:     inventory.ComponentType(q.Get("type")),
		Status:   inventory.Status(q.Get("status")),
		Location: q.Get("location"),
		Position: q.Get("position"),
		Expr:     q.Get("filter"),
		Limit:    intQuery(r, "limit", s.cfg.PageSize),
		Offset:   intQuery(r, "offset", 0),
	}
	items, err := s.store.ListComponents(r.Context(), f)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	total, err := s.store.CountComponents(r.Context(), f)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Size: len(items), Total: total})
}

type createComponentRequest struct {
	ID              string        `json:"id" validate:"required,max=128"`
	Type            string        `json:"type" validate:"required"`
	SerialNumber    string        `json:"serialNumber" validate:"max=128"`
	AssetTag        string        `json:"assetTag"`
	Manufacturer    string        `json:"manufacturer"`
	ManufactureDate string        `json:"manufactureDate"`
	Status          string        `json:"installationStatus"`
	CurrentLocation string        `json:"currentLocation"`
	Notes           string        `json:"notes"`
	Attributes      inventory.Bag `json:"attributes"`
}

func (s *Server) createComponent(w http.ResponseWriter, r *http.Request) {
	var req createComponentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c := &inventory.Component{
		ID:                 req.ID,
		Type:               inventory.ComponentType(req.Type),
		SerialNumber:       req.SerialNumber,
		AssetTag:           req.AssetTag,
		Manufacturer:       req.Manufacturer,
		ManufactureDate:    req.ManufactureDate,
		InstallationStatus: inventory.Status(req.Status),
		CurrentLocation:    req.CurrentLocation,
		Notes:              req.Notes,
		Attributes:         req.Attributes,
	}
	if err := s.store.CreateComponent(r.Context(), c); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getComponent(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetComponent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type updateComponentRequest struct {
	SerialNumber    *string `json:"serialNumber" validate:"omitempty,max=128"`
	AssetTag        *string `json:"assetTag"`
	Manufacturer    *string `json:"manufacturer"`
	ManufactureDate *string `json:"manufactureDate"`
	CurrentLocation *string `json:"currentLocation"`
	Notes           *string `json:"notes"`
}

func (s *Server) updateComponent(w http.ResponseWriter, r *http.Request) {
	var req updateComponentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.store.UpdateComponent(r.Context(), chi.URLParam(r, "id"), inventory.ComponentPatch{
		SerialNumber:    req.SerialNumber,
		AssetTag:        req.AssetTag,
		Manufacturer:    req.Manufacturer,
		ManufactureDate: req.ManufactureDate,
		CurrentLocation: req.CurrentLocation,
		Notes:           req.Notes,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteComponent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteComponent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.SetStatus(r.Context(), id, inventory.Status(req.Status)); err != nil {
		writeStoreError(w, err)
		return
	}
	s.getComponent(w, r)
}

type locationRequest struct {
	Location string `json:"location" validate:"required"`
}

func (s *Server) setLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateLocation(r.Context(), chi.URLParam(r, "id"), req.Location); err != nil {
		writeStoreError(w, err)
		return
	}
	s.getComponent(w, r)
}

type attributesRequest struct {
	Attributes inventory.Bag `json:"attributes" validate:"required"`
}

func (s *Server) updateAttributes(w http.ResponseWriter, r *http.Request) {
	var req attributesRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.store.UpdateAttributes(r.Context(), chi.URLParam(r, "id"), req.Attributes)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type installRequest struct {
	Position    string `json:"position" validate:"required"`
	RunPeriod   string `json:"runPeriod" validate:"required"`
	InstalledBy string `json:"installedBy"`
	Notes       string `json:"notes"`
}

func (s *Server) install(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.store.Install(r.Context(), inventory.InstallRequest{
		ComponentID: chi.URLParam(r, "id"),
		Position:    req.Position,
		RunPeriod:   req.RunPeriod,
		InstalledBy: orDefault(req.InstalledBy, actor(r)),
		Notes:       req.Notes,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type removeRequest struct {
	Reason      string `json:"reason"`
	RemovedBy   string `json:"removedBy"`
	NewLocation string `json:"newLocation"`
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.store.Remove(r.Context(), inventory.RemoveRequest{
		ComponentID: chi.URLParam(r, "id"),
		Reason:      req.Reason,
		RemovedBy:   orDefault(req.RemovedBy, actor(r)),
		NewLocation: req.NewLocation,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.InstallationHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: recs, Size: len(recs), Total: int64(len(recs))})
}

type assembleRequest struct {
	SensorID    string `json:"sensorId"`
	HybridID    string `json:"hybridId"`
	Notes       string `json:"notes"`
	AssembledBy string `json:"assembledBy"`
}

func (s *Server) assemble(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.store.Assemble(r.Context(), inventory.AssembleRequest{
		ModuleID:    chi.URLParam(r, "id"),
		SensorID:    req.SensorID,
		HybridID:    req.HybridID,
		Notes:       req.Notes,
		AssembledBy: orDefault(req.AssembledBy, actor(r)),
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type disassembleRequest struct {
	Notes string `json:"notes"`
	By    string `json:"by"`
}

func (s *Server) disassemble(w http.ResponseWriter, r *http.Request) {
	var req disassembleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.store.Disassemble(r.Context(), chi.URLParam(r, "id"), req.Notes, orDefault(req.By, actor(r)))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) assembly(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.AssemblyOf(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) componentTests(w http.ResponseWriter, r *http.Request) {
	tests, err := s.store.TestsForComponent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: tests, Size: len(tests), Total: int64(len(tests))})
}

func (s *Server) componentConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.store.ConnectionsFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: conns, Size: len(conns), Total: int64(len(conns))})
}

func (s *Server) neighbors(w http.ResponseWriter, r *http.Request) {
	ns, err := s.store.Neighbors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: ns, Size: len(ns), Total: int64(len(ns))})
}

func (s *Server) componentLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.Logs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: logs, Size: len(logs), Total: int64(len(logs))})
}

type logRequest struct {
	LogType     string `json:"logType"`
	Severity    string `json:"severity"`
	Description string `json:"description" validate:"required"`
	LoggedBy    string `json:"loggedBy"`
	ImagePath   string `json:"imagePath"`
}

func (s *Server) addLog(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry := &inventory.MaintenanceLog{
		ComponentID: chi.URLParam(r, "id"),
		LogType:     inventory.LogType(req.LogType),
		Severity:    inventory.Severity(req.Severity),
		Description: req.Description,
		LoggedBy:    orDefault(req.LoggedBy, actor(r)),
		ImagePath:   req.ImagePath,
	}
	if err := s.store.AddLog(r.Context(), entry); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) componentImages(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.store.Images(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: imgs, Size: len(imgs), Total: int64(len(imgs))})
}

func (s *Server) recentTests(w http.ResponseWriter, r *http.Request) {
	since := time.Now().AddDate(0, 0, -intQuery(r, "days", 30))
	tests, err := s.store.RecentTests(r.Context(), since, intQuery(r, "limit", s.cfg.PageSize))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: tests, Size: len(tests), Total: int64(len(tests))})
}

type recordTestRequest struct {
	ComponentID    string        `json:"componentId" validate:"required"`
	TestType       string        `json:"testType" validate:"required"`
	TestDate       *time.Time    `json:"testDate"`
	PassFail       *bool         `json:"passFail"`
	Measurements   inventory.Bag `json:"measurements"`
	TestedBy       string        `json:"testedBy"`
	TestSetup      string        `json:"testSetup"`
	TestConditions string        `json:"testConditions"`
	Notes          string        `json:"notes"`
}

// recordTest stores a result without attachments; files arrive through the
// upload pages or the CLI.
func (s *Server) recordTest(w http.ResponseWriter, r *http.Request) {
	var req recordTestRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec := inventory.TestRecord{
		ComponentID:    req.ComponentID,
		TestType:       req.TestType,
		PassFail:       req.PassFail,
		Measurements:   req.Measurements,
		TestedBy:       orDefault(req.TestedBy, actor(r)),
		TestSetup:      req.TestSetup,
		TestConditions: req.TestConditions,
		Notes:          req.Notes,
	}
	if req.TestDate != nil {
		rec.TestDate = *req.TestDate
	}
	res, err := s.store.RecordTest(r.Context(), rec)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	metrics.TestRecorded(res.TestType)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) getTest(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "testId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid test id")
		return
	}
	t, err := s.store.GetTest(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type resultRequest struct {
	PassFail *bool `json:"passFail"`
}

func (s *Server) setResult(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "testId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid test id")
		return
	}
	var req resultRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateResult(r.Context(), id, req.PassFail); err != nil {
		writeStoreError(w, err)
		return
	}
	s.getTest(w, r)
}

func (s *Server) deleteTest(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "testId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid test id")
		return
	}
	if err := s.store.DeleteTest(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type connectRequest struct {
	ComponentA     string `json:"componentA" validate:"required"`
	ComponentB     string `json:"componentB" validate:"required"`
	ConnectionType string `json:"connectionType"`
	CableID        string `json:"cableId"`
	Notes          string `json:"notes"`
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.store.Connect(r.Context(), inventory.ConnectRequest{
		ComponentA:     req.ComponentA,
		ComponentB:     req.ComponentB,
		ConnectionType: req.ConnectionType,
		CableID:        req.CableID,
		Notes:          req.Notes,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "connId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	if err := s.store.Disconnect(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) openIssues(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.OpenIssues(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: logs, Size: len(logs), Total: int64(len(logs))})
}

type resolveRequest struct {
	Resolution string `json:"resolution" validate:"required"`
}

func (s *Server) resolveLog(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "logId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid log id")
		return
	}
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := s.store.ResolveLog(r.Context(), id, req.Resolution)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type statsResponse struct {
	*inventory.Dashboard
	ByConnectionType []inventory.Count         `json:"byConnectionType"`
	TestTypes        []inventory.TestTypeCount `json:"testTypes"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().AddDate(0, 0, -intQuery(r, "days", 30))
	d, err := s.store.Dashboard(r.Context(), since)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	conns, err := s.store.CountsByConnectionType(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	types, err := s.store.TestTypeCounts(r.Context(), since)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Dashboard: d, ByConnectionType: conns, TestTypes: types})
}
