// Package server exposes a merged branch over a read-only JSON API.
package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/systemshift/bup-fs/internal/locator"
	"github.com/systemshift/bup-fs/internal/repo"
	"github.com/systemshift/bup-fs/internal/vfs"
)

// VersionJSON is one version of a path.
type VersionJSON struct {
	Index      int       `json:"index"`
	CommitTime time.Time `json:"commitTime"`
	ModTime    time.Time `json:"modTime"`
	Size       int64     `json:"size"`
	CID        string    `json:"cid"`
	Locator    string    `json:"locator"`
}

// ChildJSON summarizes one child by its newest version.
type ChildJSON struct {
	Name    string     `json:"name"`
	Kind    string     `json:"kind"`
	Size    int64      `json:"size"`
	ModTime *time.Time `json:"modTime,omitempty"`
}

// NodeJSON describes a merged path.
type NodeJSON struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Path     string        `json:"path"`
	Children []ChildJSON   `json:"children,omitempty"`
	Versions []VersionJSON `json:"versions"`
}

// SnapshotJSON is one entry of the branch history.
type SnapshotJSON struct {
	Commit  string    `json:"commit"`
	Tree    string    `json:"tree"`
	Time    time.Time `json:"time"`
	Locator string    `json:"locator"`
}

// Server answers browse requests against one session. The merged tree is
// not safe for concurrent use, so every handler holds mu.
type Server struct {
	mu   sync.Mutex
	root *vfs.Root
	log  *logrus.Entry
}

// New returns a gin engine serving root.
func New(root *vfs.Root, log *logrus.Entry) *gin.Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{root: root, log: log.WithField("component", "server")}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.logRequests())

	api := r.Group("/api")
	{
		api.GET("/tree/*path", s.getTree)
		api.GET("/locate", s.locate)
		api.GET("/snapshots", s.snapshots)
	}
	return r
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start),
		}).Debug("request")
	}
}

func (s *Server) getTree(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.root.Lookup(c.Param("path"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.describe(n))
}

func (s *Server) locate(c *gin.Context) {
	l, err := locator.Parse(c.Query("l"))
	if err != nil {
		s.fail(c, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, i, err := s.root.Resolve(l)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"node":    s.describe(n),
		"version": versionJSON(n, i),
	})
}

func (s *Server) snapshots(c *gin.Context) {
	snaps := s.root.Snapshots()
	out := make([]SnapshotJSON, len(snaps))
	for i, snap := range snaps {
		out[i] = SnapshotJSON{
			Commit: snap.Commit.String(),
			Tree:   snap.Tree.String(),
			Time:   snap.Time,
			Locator: locator.Locator{
				Repository: s.root.Repository(),
				Branch:     s.root.Branch(),
				Time:       snap.Time,
				Path:       "/",
			}.String(),
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) describe(n *vfs.Node) NodeJSON {
	out := NodeJSON{
		Name:     n.Name(),
		Kind:     n.Kind().String(),
		Path:     n.Path(),
		Versions: make([]VersionJSON, len(n.Versions())),
	}
	for i := range out.Versions {
		out.Versions[i] = versionJSON(n, i)
	}
	if n.IsDir() {
		for _, child := range n.Children() {
			cj := ChildJSON{Name: child.Name(), Kind: child.Kind().String()}
			if v, ok := child.Latest(); ok {
				cj.Size = v.Size
				cj.ModTime = &v.ModTime
			}
			out.Children = append(out.Children, cj)
		}
	}
	return out
}

func versionJSON(n *vfs.Node, i int) VersionJSON {
	v := n.Version(i)
	return VersionJSON{
		Index:      i,
		CommitTime: v.CommitTime,
		ModTime:    v.ModTime,
		Size:       v.Size,
		CID:        repo.CIDString(v.ID),
		Locator:    n.Locator(i).String(),
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, locator.ErrInvalidLocator):
		status = http.StatusBadRequest
	case errors.Is(err, vfs.ErrNoSuchPath),
		errors.Is(err, vfs.ErrNotDirectory),
		errors.Is(err, vfs.ErrNoSuchVersion),
		errors.Is(err, vfs.ErrForeignLocator):
		status = http.StatusNotFound
	default:
		s.log.WithError(err).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
