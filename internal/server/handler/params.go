package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// AdminService is what the parameter, role and factory admin endpoints need
// from the engine.
type AdminService interface {
	Parameters() map[string]decimal.Decimal
	Contracts() map[string]common.Address
	HasRole(role domain.Role, principal common.Address) bool

	SetParameter(ctx context.Context, caller common.Address, key string, value decimal.Decimal) error
	SetBoolParameter(ctx context.Context, caller common.Address, key string, value bool) error
	GrantRole(ctx context.Context, caller common.Address, role domain.Role, principal common.Address) error
	RevokeRole(ctx context.Context, caller common.Address, role domain.Role, principal common.Address) error
	SetDefaultCurve(ctx context.Context, caller common.Address, kind domain.PricingKind) error
	SetTemplate(ctx context.Context, caller common.Address, version uint64) error
	PauseFactory(ctx context.Context, caller common.Address) error
	UnpauseFactory(ctx context.Context, caller common.Address) error
}

// AdminHandler serves /api/params, /api/contracts, /api/roles and
// /api/factory.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given service and logger.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger.With(slog.String("handler", "admin"))}
}

// ListParams returns every numeric parameter as a decimal string.
// GET /api/params
func (h *AdminHandler) ListParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Parameters())
}

// ListContracts returns the registry: every well-known key and the address
// currently installed under it.
// GET /api/contracts
func (h *AdminHandler) ListContracts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Contracts())
}

// setParamRequest carries exactly one of a numeric or a bool value.
type setParamRequest struct {
	Value *string `json:"value" validate:"omitempty,numeric"`
	Bool  *bool   `json:"bool"`
}

// SetParam writes one parameter.
// PUT /api/params/{key}
func (h *AdminHandler) SetParam(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")
	var req setParamRequest
	if !decode(w, r, &req) {
		return
	}
	if (req.Value == nil) == (req.Bool == nil) {
		writeError(w, http.StatusBadRequest, "set exactly one of value or bool")
		return
	}
	var err error
	if req.Bool != nil {
		err = h.admin.SetBoolParameter(r.Context(), who, key, *req.Bool)
	} else {
		err = h.admin.SetParameter(r.Context(), who, key, amount(*req.Value))
	}
	if err != nil {
		writeEngineError(w, r, h.logger, "set parameter", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AdminHandler) roleTarget(w http.ResponseWriter, r *http.Request) (common.Address, domain.Role, common.Address, bool) {
	who, ok := caller(w, r)
	if !ok {
		return common.Address{}, "", common.Address{}, false
	}
	role, ok := domain.ParseRole(r.PathValue("role"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown role")
		return common.Address{}, "", common.Address{}, false
	}
	p, ok := pathAddress(w, r, "principal")
	if !ok {
		return common.Address{}, "", common.Address{}, false
	}
	return who, role, p, true
}

// HasRole reports whether principal holds role.
// GET /api/roles/{role}/{principal}
func (h *AdminHandler) HasRole(w http.ResponseWriter, r *http.Request) {
	role, ok := domain.ParseRole(r.PathValue("role"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	p, ok := pathAddress(w, r, "principal")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_role": h.admin.HasRole(role, p)})
}

// GrantRole gives principal the role. ADMIN only; granting a role already
// held is a no-op.
// PUT /api/roles/{role}/{principal}
func (h *AdminHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	who, role, p, ok := h.roleTarget(w, r)
	if !ok {
		return
	}
	if err := h.admin.GrantRole(r.Context(), who, role, p); err != nil {
		writeEngineError(w, r, h.logger, "grant role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RevokeRole removes the role from principal. ADMIN only.
// DELETE /api/roles/{role}/{principal}
func (h *AdminHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	who, role, p, ok := h.roleTarget(w, r)
	if !ok {
		return
	}
	if err := h.admin.RevokeRole(r.Context(), who, role, p); err != nil {
		writeEngineError(w, r, h.logger, "revoke role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type factoryRequest struct {
	DefaultCurve string  `json:"default_curve" validate:"omitempty,oneof=parimutuel lmsr"`
	Template     *uint64 `json:"template_version" validate:"omitempty,gte=1"`
	Paused       *bool   `json:"paused"`
}

// UpdateFactory changes factory settings. Each present field is applied in
// order: curve, template, pause.
// PUT /api/factory
func (h *AdminHandler) UpdateFactory(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req factoryRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if req.DefaultCurve != "" {
		if err := h.admin.SetDefaultCurve(ctx, who, domain.PricingKind(req.DefaultCurve)); err != nil {
			writeEngineError(w, r, h.logger, "set default curve", err)
			return
		}
	}
	if req.Template != nil {
		if err := h.admin.SetTemplate(ctx, who, *req.Template); err != nil {
			writeEngineError(w, r, h.logger, "set template", err)
			return
		}
	}
	if req.Paused != nil {
		pause := h.admin.UnpauseFactory
		if *req.Paused {
			pause = h.admin.PauseFactory
		}
		if err := pause(ctx, who); err != nil {
			writeEngineError(w, r, h.logger, "pause factory", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
