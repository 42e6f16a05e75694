package server

import (
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"price-dashboard/infrastructure/logger"
	"price-dashboard/internal/dashboard"
	"price-dashboard/market"
)

// Server 展示层：HTML 卡片网格 + JSON 接口，只读 dashboard.Model。
type Server struct {
	model         *dashboard.Model
	log           *logger.Logger
	engine        *gin.Engine
	defaultFilter market.Filter
}

func New(model *dashboard.Model, defaultFilter market.Filter, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if gin.Mode() == gin.DebugMode && log.Level() > zap.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		model:         model,
		log:           log,
		engine:        gin.New(),
		defaultFilter: defaultFilter,
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.engine.SetHTMLTemplate(template.Must(template.New("index").Parse(indexTemplate)))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.getIndex)
	s.engine.GET("/api/prices", s.getPrices)
	s.engine.GET("/api/status", s.getStatus)
	s.engine.GET("/healthz", s.getHealth)
}

// Handler 返回 http.Handler，供生命周期组件挂载。
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) filterFrom(c *gin.Context) (market.Filter, error) {
	raw, ok := c.GetQuery("filter")
	if !ok {
		return s.defaultFilter, nil
	}
	return market.ParseFilter(raw)
}

func (s *Server) getIndex(c *gin.Context) {
	filter, err := s.filterFrom(c)
	if err != nil {
		filter = s.defaultFilter
	}
	c.HTML(http.StatusOK, "index", s.model.Page(filter))
}

func (s *Server) getPrices(c *gin.Context) {
	filter, err := s.filterFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.model.Page(filter))
}

func (s *Server) getStatus(c *gin.Context) {
	page := s.model.Page(s.defaultFilter)
	c.JSON(http.StatusOK, gin.H{
		"status":     page.Status,
		"connection": page.Connection,
		"seq":        page.Seq,
		"source":     page.Source,
		"error":      page.Error,
	})
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "connection": s.model.Connection()})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
