package accesscontrol

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"clinical-access-control/internal/middleware"
	"clinical-access-control/internal/platform/clock"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, ctrl *Controller, clk clock.Clock) {
	h := &handler{ctrl: ctrl, clk: clk}

	r.Route("/admin", func(ar chi.Router) {
		ar.Post("/initialize", h.initialize)
		ar.Post("/indexes/rebuild", h.rebuildIndexes)
		ar.Post("/grants/purge", h.purgeExpired)
	})

	r.Route("/entities", func(er chi.Router) {
		er.Post("/", h.registerEntity)
		er.Get("/{entityID}", h.getEntity)
		er.Patch("/{entityID}", h.updateEntity)
		er.Post("/{entityID}/deactivate", h.deactivateEntity)
		er.Get("/{entityID}/permissions", h.getEntityPermissions)
	})

	r.Post("/grants", h.grantAccess)

	r.Route("/resources/{resourceID}", func(rr chi.Router) {
		rr.Get("/authorized-parties", h.getAuthorizedParties)
		rr.Get("/grants/{granteeID}", h.getGrant)
		rr.Delete("/grants/{granteeID}", h.revokeAccess)
		rr.Get("/grants/{granteeID}/check", h.checkAccess)
	})
}

type handler struct {
	ctrl *Controller
	clk  clock.Clock
}

func (h *handler) now() uint64 {
	return clock.Unix(h.clk.Now())
}

type initializeRequest struct {
	AdminID string `json:"admin_id"`
}

type registerEntityRequest struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Metadata string `json:"metadata"`
}

type updateEntityRequest struct {
	Metadata string `json:"metadata"`
}

type grantAccessRequest struct {
	GranteeID  string `json:"grantee_id"`
	ResourceID string `json:"resource_id"`
	ExpiresAt  uint64 `json:"expires_at"`
}

type entityResponse struct {
	ID           string     `json:"id"`
	Type         EntityType `json:"type"`
	Name         string     `json:"name"`
	Metadata     string     `json:"metadata"`
	Active       bool       `json:"active"`
	RegisteredAt uint64     `json:"registered_at"`
}

type grantResponse struct {
	ID         string `json:"id"`
	ResourceID string `json:"resource_id"`
	GranteeID  string `json:"grantee_id"`
	GranterID  string `json:"granter_id"`
	ExpiresAt  uint64 `json:"expires_at"`
	CreatedAt  uint64 `json:"created_at"`
	Valid      bool   `json:"valid"`
}

type checkResponse struct {
	ResourceID string `json:"resource_id"`
	GranteeID  string `json:"grantee_id"`
	At         uint64 `json:"at"`
	Allowed    bool   `json:"allowed"`
}

type idListResponse struct {
	ID    string   `json:"id"`
	Items []string `json:"items"`
}

type rebuildResponse struct {
	Grants    int `json:"grants"`
	Resources int `json:"resources"`
	Grantees  int `json:"grantees"`
}

type purgeResponse struct {
	At      uint64 `json:"at"`
	Scanned int    `json:"scanned"`
	Removed int    `json:"removed"`
}

// initialize godoc
// @Summary Inicializar admin
// @Description Fija la identidad del admin. Solo se puede hacer una vez y el caller tiene que ser el mismo admin_id.
// @Tags admin
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param payload body initializeRequest true "Identidad del admin"
// @Success 204
// @Failure 400 {string} string "invalid json / admin_id requerido"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 409 {string} string "already initialized"
// @Router /admin/initialize [post]
func (h *handler) initialize(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireClaims(w, r); !ok {
		return
	}

	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := h.ctrl.Initialize(r.Context(), req.AdminID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rebuildIndexes godoc
// @Summary Reconstruir índices inversos
// @Description Regenera authorized-parties y permissions a partir de los grants guardados. Solo admin.
// @Tags admin
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Success 200 {object} rebuildResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 412 {string} string "not initialized"
// @Router /admin/indexes/rebuild [post]
func (h *handler) rebuildIndexes(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireClaims(w, r)
	if !ok {
		return
	}

	res, err := h.ctrl.RebuildIndexes(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rebuildResponse{Grants: res.Grants, Resources: res.Resources, Grantees: res.Grantees})
}

// purgeExpired godoc
// @Summary Purgar grants vencidos
// @Description Borra del storage los grants vencidos al momento actual, junto con sus entradas de índice. Solo admin.
// @Tags admin
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Success 200 {object} purgeResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 412 {string} string "not initialized"
// @Router /admin/grants/purge [post]
func (h *handler) purgeExpired(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireClaims(w, r)
	if !ok {
		return
	}

	now := h.now()
	res, err := h.ctrl.PurgeExpired(r.Context(), caller, now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{At: now, Scanned: res.Scanned, Removed: res.Removed})
}

// registerEntity godoc
// @Summary Registrar entidad
// @Description Auto-registro: el caller tiene que ser el id que se registra. Tipos: hospital, doctor, patient, device, laboratory, pharmacy, insurer.
// @Tags entities
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param payload body registerEntityRequest true "Datos de la entidad"
// @Success 201 {object} entityResponse
// @Failure 400 {string} string "invalid json / tipo inválido / nombre requerido"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 409 {string} string "already registered"
// @Failure 412 {string} string "not initialized"
// @Router /entities [post]
func (h *handler) registerEntity(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireClaims(w, r); !ok {
		return
	}

	var req registerEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	e, err := h.ctrl.RegisterEntity(r.Context(), RegisterInput{
		ID:       req.ID,
		Type:     EntityType(req.Type),
		Name:     req.Name,
		Metadata: req.Metadata,
	}, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntityResponse(e))
}

// getEntity godoc
// @Summary Obtener entidad
// @Tags entities
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param entityID path string true "ID de la entidad"
// @Success 200 {object} entityResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "not found"
// @Router /entities/{entityID} [get]
func (h *handler) getEntity(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireClaims(w, r); !ok {
		return
	}

	id, ok := pathParam(w, r, "entityID")
	if !ok {
		return
	}

	e, err := h.ctrl.GetEntity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(e))
}

// updateEntity godoc
// @Summary Actualizar metadata de una entidad
// @Description Solo la propia entidad puede cambiar su metadata. Nombre y tipo no se modifican.
// @Tags entities
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param entityID path string true "ID de la entidad"
// @Param payload body updateEntityRequest true "Nueva metadata"
// @Success 200 {object} entityResponse
// @Failure 400 {string} string "invalid json"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Router /entities/{entityID} [patch]
func (h *handler) updateEntity(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireClaims(w, r); !ok {
		return
	}

	id, ok := pathParam(w, r, "entityID")
	if !ok {
		return
	}

	var req updateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	e, err := h.ctrl.UpdateEntity(r.Context(), id, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(e))
}

// deactivateEntity godoc
// @Summary Desactivar entidad
// @Description Solo admin. No hay reactivación y los grants existentes no se tocan.
// @Tags entities
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param entityID path string true "ID de la entidad"
// @Success 200 {object} entityResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Router /entities/{entityID}/deactivate [post]
func (h *handler) deactivateEntity(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireClaims(w, r)
	if !ok {
		return
	}

	target, ok := pathParam(w, r, "entityID")
	if !ok {
		return
	}

	e, err := h.ctrl.DeactivateEntity(r.Context(), caller, target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(e))
}

// getEntityPermissions godoc
// @Summary Recursos con grant para una entidad
// @Description Lista los recursos para los que la entidad tiene un grant guardado. No filtra vencidos; usar /check para validez.
// @Tags entities
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param entityID path string true "ID de la entidad"
// @Success 200 {object} idListResponse
// @Failure 401 {string} string "unauthorized"
// @Router /entities/{entityID}/permissions [get]
func (h *handler) getEntityPermissions(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireClaims(w, r); !ok {
		return
	}

	id, ok := pathParam(w, r, "entityID")
	if !ok {
		return
	}
	items, err := h.ctrl.GetEntityPermissions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idListResponse{ID: id, Items: items})
}

// grantAccess godoc
// @Summary Otorgar acceso a un recurso
// @Description El caller es el granter. Reemplaza cualquier grant previo para (resource_id, grantee_id). expires_at en segundos Unix; 0 = no vence.
// @Tags grants
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param payload body grantAccessRequest true "Grant"
// @Success 201 {object} grantResponse
// @Failure 400 {string} string "invalid json / expires_at en el pasado"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "entidad no registrada"
// @Router /grants [post]
func (h *handler) grantAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req grantAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	now := h.now()
	g, err := h.ctrl.GrantAccess(r.Context(), GrantInput{
		GranterID:  caller,
		GranteeID:  req.GranteeID,
		ResourceID: req.ResourceID,
		ExpiresAt:  req.ExpiresAt,
	}, now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGrantResponse(g, now))
}

// getGrant godoc
// @Summary Obtener grant
// @Description Devuelve el grant guardado (aunque esté vencido) con su validez al momento actual.
// @Tags grants
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param resourceID path string true "ID del recurso"
// @Param granteeID path string true "ID del grantee"
// @Success 200 {object} grantResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "not found"
// @Router /resources/{resourceID}/grants/{granteeID} [get]
func (h *handler) getGrant(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireClaims(w, r); !ok {
		return
	}

	resource, grantee, ok := grantParams(w, r)
	if !ok {
		return
	}

	g, err := h.ctrl.GetGrant(r.Context(), grantee, resource)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantResponse(g, h.now()))
}

// revokeAccess godoc
// @Summary Revocar acceso
// @Description Solo el granter que otorgó el grant puede revocarlo.
// @Tags grants
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param resourceID path string true "ID del recurso"
// @Param granteeID path string true "ID del grantee"
// @Success 204
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Router /resources/{resourceID}/grants/{granteeID} [delete]
func (h *handler) revokeAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireClaims(w, r)
	if !ok {
		return
	}

	resource, grantee, ok := grantParams(w, r)
	if !ok {
		return
	}

	err := h.ctrl.RevokeAccess(r.Context(), caller, grantee, resource)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkAccess godoc
// @Summary Verificar acceso
// @Description true si existe un grant y no venció en `at` (segundos Unix; por defecto, ahora). Un grant vencido da false, no error.
// @Tags grants
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param resourceID path string true "ID del recurso"
// @Param granteeID path string true "ID del grantee"
// @Param at query int false "Instante de evaluación (Unix)"
// @Success 200 {object} checkResponse
// @Failure 400 {string} string "at inválido"
// @Failure 401 {string} string "unauthorized"
// @Router /resources/{resourceID}/grants/{granteeID}/check [get]
func (h *handler) checkAccess(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireClaims(w, r); !ok {
		return
	}

	at := h.now()
	if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "at must be a unix timestamp", http.StatusBadRequest)
			return
		}
		at = v
	}

	resource, grantee, ok := grantParams(w, r)
	if !ok {
		return
	}
	allowed, err := h.ctrl.CheckAccess(r.Context(), grantee, resource, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{ResourceID: resource, GranteeID: grantee, At: at, Allowed: allowed})
}

// getAuthorizedParties godoc
// @Summary Partes con grant sobre un recurso
// @Description Lista los grantees con grant guardado para el recurso. No filtra vencidos; usar /check para validez.
// @Tags grants
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param resourceID path string true "ID del recurso"
// @Success 200 {object} idListResponse
// @Failure 401 {string} string "unauthorized"
// @Router /resources/{resourceID}/authorized-parties [get]
func (h *handler) getAuthorizedParties(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireClaims(w, r); !ok {
		return
	}

	id, ok := pathParam(w, r, "resourceID")
	if !ok {
		return
	}
	items, err := h.ctrl.GetAuthorizedParties(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idListResponse{ID: id, Items: items})
}

func requireClaims(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := middleware.CallerID(r.Context())
	if caller == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return caller, true
}

// pathParam devuelve el parámetro ya decodificado: chi rutea sobre RawPath,
// así que un id con "/" llega como "%2F".
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, name+" is not a valid path segment", http.StatusBadRequest)
		return "", false
	}
	return v, true
}

func grantParams(w http.ResponseWriter, r *http.Request) (resource, grantee string, ok bool) {
	if resource, ok = pathParam(w, r, "resourceID"); !ok {
		return "", "", false
	}
	if grantee, ok = pathParam(w, r, "granteeID"); !ok {
		return "", "", false
	}
	return resource, grantee, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, ErrNotInitialized):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		// el detalle ya quedó en el log del controlador
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func toEntityResponse(e Entity) entityResponse {
	return entityResponse{
		ID:           e.ID,
		Type:         e.Type,
		Name:         e.Name,
		Metadata:     e.Metadata,
		Active:       e.Active,
		RegisteredAt: e.RegisteredAt,
	}
}

func toGrantResponse(g Grant, now uint64) grantResponse {
	return grantResponse{
		ID:         g.ID,
		ResourceID: g.ResourceID,
		GranteeID:  g.GranteeID,
		GranterID:  g.GranterID,
		ExpiresAt:  g.ExpiresAt,
		CreatedAt:  g.CreatedAt,
		Valid:      g.ValidAt(now),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
