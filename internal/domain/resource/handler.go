// Package resource binds the FHIR REST interactions to HTTP routes.
package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/operation"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/fhir"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/searchparam"
)

var resourceTypePattern = regexp.MustCompile(`^[A-Z][A-Za-z]+$`)

type Handler struct {
	search    *operation.Search
	create    *operation.Create
	update    *operation.Update
	delete    *operation.Delete
	assembler *fhir.Assembler
	logger    zerolog.Logger
}

func NewHandler(store docstore.Store, registry *searchparam.Registry, eval operation.PathEvaluator,
	assembler *fhir.Assembler, logger zerolog.Logger) *Handler {
	op := operation.New(store, assembler, logger)
	return &Handler{
		search:    operation.NewSearch(op, registry, eval, operation.DefaultSearchFields),
		create:    operation.NewCreate(op, eval, operation.DefaultSearchFields),
		update:    operation.NewUpdate(op, eval, operation.DefaultSearchFields),
		delete:    operation.NewDelete(op),
		assembler: assembler,
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.GET("", h.SearchSystem)
	fhirGroup.GET("/:type", h.SearchType)
	fhirGroup.POST("/:type/_search", h.SearchType)
	fhirGroup.GET("/:type/:id", h.Read)

	fhirGroup.POST("/:type", h.Create)
	fhirGroup.PUT("/:type/:id", h.Update)
	fhirGroup.DELETE("/:type/:id", h.Delete)
}

// SearchSystem searches the resource types listed in _type.
func (h *Handler) SearchSystem(c echo.Context) error {
	params := c.QueryParams()
	var types []string
	for _, v := range params["_type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}
	if len(types) == 0 {
		return c.JSON(http.StatusBadRequest, h.assembler.BadRequest("_type is required when searching across resource types"))
	}
	for _, t := range types {
		if !resourceTypePattern.MatchString(t) {
			return c.JSON(http.StatusBadRequest, h.assembler.BadRequest(fmt.Sprintf("invalid resource type %q", t)))
		}
	}

	bundle, err := h.search.FindByType(c.Request().Context(), types, params, requestOf(c, params))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

// SearchType handles GET /:type and POST /:type/_search. Form parameters of
// a POST are merged with the query string.
func (h *Handler) SearchType(c echo.Context) error {
	resourceType, ok := validType(c)
	if !ok {
		return h.invalidType(c)
	}

	params := c.QueryParams()
	if c.Request().Method == http.MethodPost {
		if _, err := c.FormParams(); err != nil {
			return c.JSON(http.StatusBadRequest, h.assembler.BadRequest("invalid form body: "+err.Error()))
		}
		params = mergeValues(params, c.Request().PostForm)
	}

	bundle, err := h.search.Find(c.Request().Context(), resourceType, params, requestOf(c, params))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *Handler) Read(c echo.Context) error {
	resourceType, ok := validType(c)
	if !ok {
		return h.invalidType(c)
	}
	params := c.QueryParams()
	res, err := h.search.FindByID(c.Request().Context(), resourceType, c.Param("id"), params, requestOf(c, params))
	if err != nil {
		return h.fail(c, err)
	}
	if res.Bundle != nil {
		return c.JSON(http.StatusOK, res.Bundle)
	}
	fhir.SetVersionHeaders(c, res.Resource)
	return c.JSON(http.StatusOK, res.Resource)
}

func (h *Handler) Create(c echo.Context) error {
	resourceType, ok := validType(c)
	if !ok {
		return h.invalidType(c)
	}
	body, outcome := h.body(c, resourceType)
	if outcome != nil {
		return c.JSON(http.StatusBadRequest, outcome)
	}

	created, err := h.create.Execute(c.Request().Context(), resourceType, body)
	if err != nil {
		return h.fail(c, err)
	}
	id, _ := created["id"].(string)
	c.Response().Header().Set("Location", h.assembler.FullURL(resourceType, id)+"/_history/1")
	fhir.SetVersionHeaders(c, created)
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Update(c echo.Context) error {
	resourceType, ok := validType(c)
	if !ok {
		return h.invalidType(c)
	}
	body, outcome := h.body(c, resourceType)
	if outcome != nil {
		return c.JSON(http.StatusBadRequest, outcome)
	}

	updated, err := h.update.Execute(c.Request().Context(), resourceType, c.Param("id"), body,
		c.Request().Header.Get("If-Match"))
	if err != nil {
		return h.fail(c, err)
	}
	fhir.SetVersionHeaders(c, updated)
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Delete(c echo.Context) error {
	resourceType, ok := validType(c)
	if !ok {
		return h.invalidType(c)
	}
	outcome, err := h.delete.Execute(c.Request().Context(), resourceType, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

func validType(c echo.Context) (string, bool) {
	t := c.Param("type")
	return t, resourceTypePattern.MatchString(t)
}

func (h *Handler) invalidType(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, h.assembler.BadRequest(fmt.Sprintf("invalid resource type %q", c.Param("type"))))
}

// body decodes a resource from the request. A resourceType in the body must
// match the path.
func (h *Handler) body(c echo.Context, resourceType string) (map[string]any, *fhir.OperationOutcome) {
	var data map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&data); err != nil {
		return nil, h.assembler.BadRequest("invalid resource body: " + err.Error())
	}
	if data == nil {
		return nil, h.assembler.BadRequest("resource body must be a JSON object")
	}
	if rt, ok := data["resourceType"].(string); ok && rt != resourceType {
		return nil, h.assembler.BadRequest(fmt.Sprintf("resourceType %q does not match %q", rt, resourceType))
	}
	return data, nil
}

// fail writes err as an OperationOutcome with the status it carries. Errors
// that are not typed failures are storage errors and answer 500.
func (h *Handler) fail(c echo.Context, err error) error {
	var fe *fhir.Error
	if errors.As(err, &fe) {
		return c.JSON(fe.Status, fe.Outcome)
	}
	h.logger.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Msg("request failed")
	return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
}

// requestOf rebuilds the absolute URL links are derived from. POST searches
// are rendered as the equivalent GET.
func requestOf(c echo.Context, params url.Values) *fhir.Request {
	r := c.Request()
	path := r.URL.Path
	rawQuery := r.URL.RawQuery
	if r.Method == http.MethodPost {
		path = strings.TrimSuffix(path, "/_search")
		rawQuery = params.Encode()
	}
	u := c.Scheme() + "://" + r.Host + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return &fhir.Request{Method: r.Method, URL: u}
}

func mergeValues(a, b url.Values) url.Values {
	out := make(url.Values, len(a)+len(b))
	for k, v := range a {
		out[k] = append(out[k], v...)
	}
	for k, v := range b {
		out[k] = append(out[k], v...)
	}
	return out
}
