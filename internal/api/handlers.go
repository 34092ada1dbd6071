package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/signalnine/nilmbench/internal/result"
)

func keyFromPath(c *gin.Context) result.Key {
	return result.Key{
		Device:         c.Param("device"),
		Model:          c.Param("model"),
		ExperimentType: c.Param("type"),
		Experiment:     c.Param("experiment"),
	}
}

func storageStatus(err error) int {
	if errors.Is(err, os.ErrNotExist) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) handleListReports(c *gin.Context) {
	keys, err := s.store.Keys()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if keys == nil {
		keys = []result.Key{}
	}
	c.JSON(http.StatusOK, gin.H{"reports": keys})
}

func (s *Server) handleGetReport(c *gin.Context) {
	key := keyFromPath(c)
	rows, err := s.store.ReadReport(key)
	if err != nil {
		c.JSON(storageStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "rows": rows})
}

// handleGetPredictions mirrors the show command: the report row of the
// iteration plus the [from, to) slice of its predictions.
func (s *Server) handleGetPredictions(c *gin.Context) {
	key := keyFromPath(c)
	iteration, err := strconv.Atoi(c.Param("iteration"))
	if err != nil || iteration < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid iteration"})
		return
	}
	from, to := 0, 0
	for name, dst := range map[string]*int{"from": &from, "to": &to} {
		if v := c.Query(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
				return
			}
			*dst = n
		}
	}

	samples, err := s.store.ReadPredictions(key, iteration)
	if err != nil {
		c.JSON(storageStatus(err), gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"key": key, "iteration": iteration, "samples": result.Slice(samples, from, to), "total": len(samples)}
	if rows, err := s.store.ReadReport(key); err == nil {
		if row, err := result.RowForIteration(rows, iteration); err == nil {
			resp["report"] = row
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.catalog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run catalog is not configured"})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	runs, err := s.catalog.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleListFolds(c *gin.Context) {
	if s.catalog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run catalog is not configured"})
		return
	}
	folds, err := s.catalog.Folds(c.Param("run_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"folds": folds})
}
