package rest

import (
	"expvar"
	"net/http"
	"net/http/pprof"
	"strings"

	infra "github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/auth"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/validate"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/ws"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/interfaces/rest/handler"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/interfaces/rest/middleware"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/progress"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/result"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/user"
	"github.com/labstack/echo/v4"
	echo_middleware "github.com/labstack/echo/v4/middleware"
	"go.elastic.co/apm/module/apmechov4"
	"go.uber.org/zap"
)

// NewApp create http transport server, call Start on the result to serve
func NewApp(
	conn driver.ITransactionalDB,
	kv driver.KeyValueDB,
	option *infra.AppConfig,
	UserUseCase user.UserUseCase,
	ProgressUseCase progress.UseCase,
	ResultUseCase result.UseCase,
	logger *zap.Logger,
) *echo.Echo {
	var (
		app       = echo.New()
		validator = validate.NewValidator()
		jwtUtil   = auth.NewJWTUtil(option.Security.JWTMethod,
			option.Security.JWTSecret,
			option.Security.TokenName,
			option.SessionTimeout)
		jwtMiddleware = middleware.VerifyToken(jwtUtil, &middleware.ValidateTokenOption{
			InBlackList: func(token string) (bool, error) {
				return kv.Exists(handler.BlacklistPrefix + token)
			},
		})
		refreshMiddleware = middleware.RefreshToken(jwtUtil, &middleware.RefreshTokenOption{
			Threshold: option.SessionRefresh,
		})
		ownerOnly    = middleware.RequireOwner(jwtUtil)
		ownerOrStaff = middleware.RequireOwner(jwtUtil, &middleware.OwnerOption{AllowRole: user.IsStaff})
	)
	app.HideBanner = true

	registerLivenessProbe(app, conn, kv)
	if option.Env == infra.EnvDevelopment {
		registerProfileEndpoints(app)
	}
	app.Use(middleware.Logging(logger, &middleware.LoggingConfig{
		Skipper: func(e echo.Context) bool {
			return strings.HasPrefix(e.Request().RequestURI, "/healthz")
		},
	}))
	app.Use(middleware.ErrorHandling(
		&middleware.ErrorHandlingOption{
			Handler: func(c echo.Context, err error) {
				traceID := c.Response().Header().Get(echo.HeaderXRequestID)
				c.JSON(http.StatusInternalServerError,
					handler.NewRESTStandardError(http.StatusInternalServerError, err.Error()).SetTraceID(traceID),
				)
				logger.Error(err.Error(), zap.String("trace.id", traceID))
			},
			HTTPErrorHandler: func(c echo.Context, err *echo.HTTPError) {
				traceID := c.Response().Header().Get(echo.HeaderXRequestID)
				c.JSON(err.Code, handler.NewRESTStandardError(err.Code, http.StatusText(err.Code)).SetTraceID(traceID))
			},
		},
	))
	app.Use(echo_middleware.Secure())
	if option.DevOP.APM {
		app.Use(apmechov4.Middleware())
	}
	app.Use(echo_middleware.CORS())
	app.Use(middleware.AbortRequest(&middleware.AbortRequestOption{
		Timeout: option.RequestTimeout,
	}))

	var (
		UserHandler     = handler.NewUserHandler(jwtUtil, kv, UserUseCase, validator)
		ProgressHandler = handler.NewRecordHandler[*progress.Record](ProgressUseCase, validator)
		ResultHandler   = handler.NewRecordHandler[*result.Record](ResultUseCase, validator)
	)

	createEndpoint(app,
		&endpoint{
			apiVersion:  "api/v1",
			middlewares: []echo.MiddlewareFunc{echo_middleware.RequestID(), middleware.SetTraceLogger(logger)},
			groups: []*apiGroup{
				{
					prefix: "/user",
					routes: []*route{
						{http.MethodPost, "/login", UserHandler.HandleSignIn, nil},
						{http.MethodPut, "/sign-out", UserHandler.HandleSignOut, nil},
						{http.MethodPost, "/sign-up", UserHandler.HandleSignUp, nil},
						{http.MethodGet, "/exists", UserHandler.HandleUserExists, nil},
					},
				},
				{
					prefix:      "/users/:user_id",
					middlewares: []echo.MiddlewareFunc{jwtMiddleware, refreshMiddleware},
					routes: append(
						recordRoutes(progress.Kind, ProgressHandler, ownerOrStaff, ownerOnly),
						recordRoutes(result.Kind, ResultHandler, ownerOrStaff, ownerOnly)...,
					),
				},
				{
					prefix: "/ws",
					routes: []*route{
						{http.MethodGet, "/presence", ws.WithHeartbeat(handler.HandlePresence), nil},
					},
				},
			},
		})

	printRoutes(app, logger)
	return app
}

func printRoutes(app *echo.Echo, logger *zap.Logger) {
	for _, route := range app.Routes() {
		if !strings.HasPrefix(route.Name, "github.com/labstack/echo") {
			logger.Debug("Registered route", zap.String("method", route.Method), zap.String("path", route.Path))
		}
	}
}

func registerLivenessProbe(app *echo.Echo, db driver.ITransactionalDB, kv driver.KeyValueDB) {
	app.GET("/healthz", func(c echo.Context) error {
		if db.Ping() == nil && kv.Ping() == nil {
			return c.NoContent(http.StatusOK)
		}
		return c.NoContent(http.StatusServiceUnavailable)
	})
}

func registerProfileEndpoints(app *echo.Echo) {
	expvarHandler := expvar.Handler()
	app.GET("/debug/vars", func(c echo.Context) error {
		expvarHandler.ServeHTTP(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/", func(c echo.Context) error {
		pprof.Index(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/:name", func(c echo.Context) error {
		switch c.Param("name") {
		case "cmdline":
			pprof.Cmdline(c.Response().Writer, c.Request())
		case "profile":
			pprof.Profile(c.Response().Writer, c.Request())
		case "symbol":
			pprof.Symbol(c.Response().Writer, c.Request())
		case "trace":
			pprof.Trace(c.Response().Writer, c.Request())
		default:
			pprof.Handler(c.Param("name")).ServeHTTP(c.Response().Writer, c.Request())
		}
		return nil
	})
}
