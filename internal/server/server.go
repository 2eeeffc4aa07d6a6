package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/manyfutures/foresight/internal/budget"
	"github.com/manyfutures/foresight/internal/cache"
	"github.com/manyfutures/foresight/internal/clock"
	"github.com/manyfutures/foresight/internal/config"
	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	feedbackdomain "github.com/manyfutures/foresight/internal/feedback/domain"
	obsmiddleware "github.com/manyfutures/foresight/internal/observability/logger"
	obstracing "github.com/manyfutures/foresight/internal/observability/tracing"
	orgdomain "github.com/manyfutures/foresight/internal/organization/domain"
	projectdomain "github.com/manyfutures/foresight/internal/project/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware())
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	genID       *snowflake.Node
	clock       clock.Clock
	episodeSvc  episodedomain.Service
	projectSvc  projectdomain.Service
	orgSvc      orgdomain.Service
	budgetSvc   budget.Service
	feedbackSvc feedbackdomain.Service

	orgCache cache.Cache[snowflake.ID, struct{}]
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	GenID       *snowflake.Node
	Clock       clock.Clock
	EpisodeSvc  episodedomain.Service
	ProjectSvc  projectdomain.Service
	OrgSvc      orgdomain.Service
	BudgetSvc   budget.Service
	FeedbackSvc feedbackdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		genID:       p.GenID,
		clock:       p.Clock,
		episodeSvc:  p.EpisodeSvc,
		projectSvc:  p.ProjectSvc,
		orgSvc:      p.OrgSvc,
		budgetSvc:   p.BudgetSvc,
		feedbackSvc: p.FeedbackSvc,
		orgCache:    cache.NewTTLCache[snowflake.ID, struct{}](),
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.OrgRequired())

	v1.GET("/episodes/:id", s.GetEpisode)
	v1.POST("/episodes/:id/feedback", s.SubmitFeedback)

	v1.GET("/projects/:id/episodes", s.ListEpisodes)
	v1.POST("/projects/:id/episodes/generate", s.TriggerEpisode)
}
