package edges

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/messagerie/domainerr"
	"github.com/millegrilles/messagerie/internal/messagerie/model"
	"github.com/millegrilles/messagerie/internal/platform/middleware"
	"github.com/millegrilles/messagerie/internal/store"
)

// HTTPHandlers is the thin Profile/Contact CRUD surface. The domain's real
// interface is the bus (see HandleCommande); this exists only because a
// browser-facing client needs a synchronous read of its own profile and
// contact list, not a round trip through the bus.
type HTTPHandlers struct {
	store *store.Store
}

// NewHTTPHandlers constructs HTTPHandlers.
func NewHTTPHandlers(s *store.Store) *HTTPHandlers {
	return &HTTPHandlers{store: s}
}

// Register attaches the CRUD routes to e.
func (h *HTTPHandlers) Register(e *echo.Echo) {
	g := e.Group("/v1", middleware.NullToEmptyArray())
	g.GET("/profils/:user_id", h.getProfile)
	g.GET("/contacts/:user_id", h.listContacts)
}

func (h *HTTPHandlers) getProfile(c echo.Context) error {
	userID := c.Param("user_id")
	var profile model.Profile
	if err := h.store.GetByID(c.Request().Context(), constants.CollectionProfiles, userID, &profile); err != nil {
		if domainerr.Is(err, domainerr.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errResp{Error: "profile not found"})
		}
		return c.JSON(http.StatusInternalServerError, errResp{Error: "internal error"})
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *HTTPHandlers) listContacts(c echo.Context) error {
	userID := c.Param("user_id")
	var contacts []model.Contact
	err := h.store.Find(c.Request().Context(), constants.CollectionContacts, "user_id = $1 AND (doc->>'supprime')::boolean = false", []any{userID}, func(raw []byte) error {
		var contact model.Contact
		if err := json.Unmarshal(raw, &contact); err != nil {
			return err
		}
		contacts = append(contacts, contact)
		return nil
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errResp{Error: "internal error"})
	}
	return c.JSON(http.StatusOK, contacts)
}

type errResp struct {
	Error string `json:"error"`
}
