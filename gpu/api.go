package gpu

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type ProbeStatus struct {
	Command string `json:"command"`
	Count   int    `json:"count"`
	Reason  Reason `json:"reason"`
	Error   string `json:"error,omitempty"`
}

type DetectionStatus struct {
	Count  int           `json:"count"`
	Source string        `json:"source"`
	Probes []ProbeStatus `json:"probes"`
}

func NewDetectionStatus(detection Detection) DetectionStatus {
	status := DetectionStatus{
		Count:  detection.Count,
		Source: detection.Source,
		Probes: make([]ProbeStatus, 0, len(detection.Probes)),
	}
	for _, probe := range detection.Probes {
		ps := ProbeStatus{
			Command: probe.Command.String(),
			Count:   probe.Count,
			Reason:  probe.Reason,
		}
		if probe.Err != nil {
			ps.Error = probe.Err.Error()
		}
		status.Probes = append(status.Probes, ps)
	}
	return status
}

// Server exposes the detector's result over HTTP.
type Server struct {
	detector  *Detector
	logger    logrus.FieldLogger
	ginEngine *gin.Engine
}

func NewServer(detector *Detector, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		detector:  detector,
		logger:    logger,
		ginEngine: gin.New(),
	}
	s.ginEngine.Use(gin.Recovery())
	addApiHandlers(s)
	return s
}

func addApiHandlers(s *Server) {
	s.ginEngine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	apiGroup := s.ginEngine.Group("/api")
	{
		apiGroup.GET("/gpus", s.apiGetGPUs)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.ginEngine.ServeHTTP(w, r)
}

func (s *Server) apiGetGPUs(c *gin.Context) {
	detection, err := s.detector.Detection(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Warn("gpu detection failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, NewDetectionStatus(detection))
}
