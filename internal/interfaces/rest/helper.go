package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// endpoint versioned API root, groups are mounted below it
type endpoint struct {
	apiVersion  string
	middlewares []echo.MiddlewareFunc
	groups      []*apiGroup
}

type apiGroup struct {
	prefix      string
	middlewares []echo.MiddlewareFunc
	routes      []*route
}

type route struct {
	method      string
	path        string
	handler     echo.HandlerFunc
	middlewares []echo.MiddlewareFunc
}

var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func createEndpoint(app *echo.Echo, def *endpoint) {
	root := app.Group("/"+strings.TrimPrefix(def.apiVersion, "/"), def.middlewares...)
	for _, group := range def.groups {
		g := root.Group(group.prefix, group.middlewares...)
		for _, api := range group.routes {
			if !supportedMethods[api.method] {
				panic(fmt.Errorf("createEndpoint: unsupported method %s on %s%s", api.method, group.prefix, api.path))
			}
			g.Add(api.method, api.path, api.handler, api.middlewares...)
		}
	}
}

// recordHandler the handlers every record kind exposes
type recordHandler interface {
	HandleList(c echo.Context) error
	HandleSave(c echo.Context) error
	HandleUpdate(c echo.Context) error
}

// recordRoutes list, save and update of one record kind under /<kind>, read
// guards the list and write guards the rest
func recordRoutes(kind string, h recordHandler, read, write echo.MiddlewareFunc) []*route {
	base := "/" + kind
	return []*route{
		{http.MethodGet, base, h.HandleList, []echo.MiddlewareFunc{read}},
		{http.MethodPost, base, h.HandleSave, []echo.MiddlewareFunc{write}},
		{http.MethodPatch, base + "/:id", h.HandleUpdate, []echo.MiddlewareFunc{write}},
	}
}
