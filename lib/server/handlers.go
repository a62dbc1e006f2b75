package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/metrics"
	"github.com/go-i2p/dbcp/lib/pool"
	"github.com/go-i2p/dbcp/lib/session"
	"github.com/go-i2p/dbcp/lib/validation"
	"github.com/go-i2p/dbcp/version"
)

// StatementRequest is the body of /query and /execute.
type StatementRequest struct {
	SQL    string `json:"sql" binding:"required"`
	Params []any  `json:"params"`
}

// QueryResponse is returned by /query.
type QueryResponse struct {
	Columns         []string         `json:"columns"`
	Data            []map[string]any `json:"data"`
	ExecutionTimeMS int64            `json:"execution_time_ms"`
}

// ExecuteResponse is returned by /execute.
type ExecuteResponse struct {
	Success         bool  `json:"success"`
	RowsAffected    int64 `json:"rows_affected"`
	LastInsertID    int64 `json:"last_insert_id,omitempty"`
	ExecutionTimeMS int64 `json:"execution_time_ms"`
}

// PoolStats is the wire form of pool.Stats.
type PoolStats struct {
	TotalConnections     int    `json:"total_connections"`
	AvailableConnections int    `json:"available_connections"`
	ActiveConnections    int    `json:"active_connections"`
	MinSize              int    `json:"min_size"`
	MaxSize              int    `json:"max_size"`
	TotalRequests        uint64 `json:"total_requests"`
	TimeoutCount         uint64 `json:"timeout_count"`
	Created              uint64 `json:"created"`
	Destroyed            uint64 `json:"destroyed"`
	DeadOnBorrow         uint64 `json:"dead_on_borrow"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status    string       `json:"status"`
	Version   version.Info `json:"version"`
	PoolStats PoolStats    `json:"pool_stats"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func toPoolStats(st pool.Stats) PoolStats {
	return PoolStats{
		TotalConnections:     st.Total,
		AvailableConnections: st.Idle,
		ActiveConnections:    st.Active,
		MinSize:              st.MinSize,
		MaxSize:              st.MaxSize,
		TotalRequests:        st.TotalRequests,
		TimeoutCount:         st.TimeoutCount,
		Created:              st.Created,
		Destroyed:            st.Destroyed,
		DeadOnBorrow:         st.DeadOnBorrow,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   version.Get(),
		PoolStats: toPoolStats(s.pool.Stats()),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, toPoolStats(s.pool.Stats()))
}

func (s *Server) handleMetrics(c *gin.Context) {
	pool.UpdateMetrics(s.pool.Stats())
	metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleQuery(c *gin.Context) {
	req, ok := s.bindStatement(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.StatementTimeout)
	defer cancel()

	var rows *session.RowSet
	start := time.Now()
	err := s.pool.Do(ctx, func(l *pool.Lease) error {
		var err error
		rows, err = l.Query(ctx, req.SQL, req.Params...)
		discardBroken(l, err)
		return err
	})
	if err != nil {
		s.fail(c, "query", err)
		return
	}

	c.JSON(http.StatusOK, QueryResponse{
		Columns:         rows.Columns,
		Data:            rows.Rows,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleExecute(c *gin.Context) {
	req, ok := s.bindStatement(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.StatementTimeout)
	defer cancel()

	var res session.Result
	start := time.Now()
	err := s.pool.Do(ctx, func(l *pool.Lease) error {
		var err error
		res, err = l.Exec(ctx, req.SQL, req.Params...)
		discardBroken(l, err)
		return err
	})
	if err != nil {
		s.fail(c, "execute", err)
		return
	}

	c.JSON(http.StatusOK, ExecuteResponse{
		Success:         true,
		RowsAffected:    res.RowsAffected,
		LastInsertID:    res.LastInsertID,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	})
}

func (s *Server) bindStatement(c *gin.Context) (StatementRequest, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)

	var req StatementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("bad request body", "path", c.Request.URL.Path, "error", err)
		abortWithError(c, http.StatusBadRequest, apperrors.Wrap(apperrors.CodeInvalidRequest, "request body must be JSON with a non-empty sql field", err))
		return req, false
	}
	if err := validation.All(
		func() error { return validation.Statement("sql", req.SQL) },
		func() error { return validation.Params("params", req.Params) },
	); err != nil {
		s.logger.Debug("invalid statement", "path", c.Request.URL.Path, "error", err)
		abortWithError(c, http.StatusBadRequest, apperrors.Wrap(apperrors.CodeInvalidRequest, err.Error(), err))
		return req, false
	}
	return req, true
}

// discardBroken drops a session whose connection failed mid-statement so
// it is not handed to the next borrower.
func discardBroken(l *pool.Lease, err error) {
	if errors.Is(err, apperrors.ErrConnection) {
		l.Discard()
	}
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "status", status, "error", err)
	} else {
		s.logger.Debug("request failed", "op", op, "status", status, "error", err)
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	abortWithError(c, status, apperrors.FromSentinel(err))
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case apperrors.IsClosed(err), apperrors.IsUnavailable(err), apperrors.IsTimeout(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrConnection), errors.Is(err, apperrors.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case apperrors.IsInvalidInput(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, status int, e *apperrors.Error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: e.SafeMessage(), Code: e.Code})
}
