// Package server provides the Echo web server for building and downloading mixes.
package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nzoschke/segmix/pkg/analysis"
	"github.com/nzoschke/segmix/pkg/audio"
	"github.com/nzoschke/segmix/pkg/mix"
	"github.com/nzoschke/segmix/pkg/render"
	"github.com/nzoschke/segmix/pkg/sequence"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed static/index.html
var indexHTML []byte

// Track represents a track in the music library.
type Track struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	HasJSON  bool   `json:"has_json"`
	JSONPath string `json:"json_path,omitempty"`
}

// MixRequest is the body of POST /api/mixes. Empty fields use the server config.
type MixRequest struct {
	Tracks []string `json:"tracks"`
	Policy string   `json:"policy"`
}

// Dropped describes a track left out of a mix.
type Dropped struct {
	TrackID string `json:"track_id"`
	Error   string `json:"error"`
}

// MixResponse summarizes a finished mix.
type MixResponse struct {
	ID       string            `json:"id"`
	Policy   string            `json:"policy"`
	Tracks   []string          `json:"tracks"`
	Dropped  []Dropped         `json:"dropped"`
	Segments int               `json:"segments"`
	Duration float64           `json:"duration"`
	Timeline sequence.Timeline `json:"timeline"`
}

// Config holds configuration for the server.
type Config struct {
	// Addr is the listen address.
	// Default: :8080
	Addr string

	// MusicDir holds the source tracks and their analysis sidecars.
	// Default: music
	MusicDir string

	// OutDir receives one directory of outputs per mix.
	// Default: <tmp>/segmix
	OutDir string

	// Mix is the base pipeline config; requests may override the policy.
	Mix mix.Config
}

// Server serves the mix UI and API.
type Server struct {
	cfg      Config
	analyzer analysis.Analyzer
	log      *slog.Logger

	mu    sync.RWMutex
	mixes map[string]MixResponse
}

// New creates a server. Analysis results are cached as sidecars in MusicDir.
func New(cfg Config, a analysis.Analyzer, log *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MusicDir == "" {
		cfg.MusicDir = "music"
	}
	if cfg.OutDir == "" {
		cfg.OutDir = filepath.Join(os.TempDir(), "segmix")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		analyzer: &analysis.Cache{Dir: cfg.MusicDir, Analyzer: a},
		log:      log,
		mixes:    map[string]MixResponse{},
	}
}

// Echo returns the configured router.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Routes
	e.GET("/", serveIndex)
	e.GET("/api/music", s.listMusic)
	e.POST("/api/music", s.uploadMusic)
	e.DELETE("/api/music", s.clearMusic)
	e.GET("/api/music/*", s.serveMusic)
	e.POST("/api/mixes", s.createMix)
	e.GET("/api/mixes/:id", s.getMix)
	e.GET("/api/mixes/:id/download", s.downloadMix)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// Run starts the web server.
func (s *Server) Run() error {
	s.log.Info("starting server", "addr", s.cfg.Addr, "music", s.cfg.MusicDir, "out", s.cfg.OutDir)
	return s.Echo().Start(s.cfg.Addr)
}

// serveIndex serves the main index.html page.
func serveIndex(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, indexHTML)
}

// listMusic returns a list of all tracks in the music directory.
func (s *Server) listMusic(c echo.Context) error {
	ids, err := audio.DirSource{Dir: s.cfg.MusicDir}.Tracks()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	tracks := make([]Track, 0, len(ids))
	for _, id := range ids {
		ext := filepath.Ext(id)
		track := Track{
			Name: strings.TrimSuffix(filepath.Base(id), ext),
			Path: id,
		}

		// Check if JSON sidecar exists
		jsonPath := analysis.SidecarPath(filepath.Join(s.cfg.MusicDir, filepath.FromSlash(id)))
		if _, err := os.Stat(jsonPath); err == nil {
			track.HasJSON = true
			track.JSONPath = strings.TrimSuffix(id, ext) + ".json"
		}

		tracks = append(tracks, track)
	}

	return c.JSON(http.StatusOK, tracks)
}

// serveMusic serves audio files and JSON analysis files from the music directory.
func (s *Server) serveMusic(c echo.Context) error {
	// Get the path after /api/music/ and URL-decode it
	decodedPath, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid path encoding")
	}

	// Security: prevent directory traversal
	if !filepath.IsLocal(filepath.FromSlash(decodedPath)) {
		return echo.NewHTTPError(http.StatusForbidden, "invalid path")
	}
	fullPath := filepath.Join(s.cfg.MusicDir, filepath.FromSlash(decodedPath))

	info, err := os.Stat(fullPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if info.IsDir() {
		return echo.NewHTTPError(http.StatusForbidden, "cannot serve directory")
	}

	// Only serve allowed file types
	ext := strings.ToLower(filepath.Ext(decodedPath))
	if audio.IsSupported(ext) {
		return c.File(fullPath)
	}
	if ext == ".json" {
		sc, err := analysis.ReadSidecar(fullPath)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "invalid JSON")
		}
		return c.JSON(http.StatusOK, sc)
	}
	return echo.NewHTTPError(http.StatusForbidden, "file type not allowed")
}

// uploadMusic saves multipart "files" into the music directory. Existing
// files with the same name are replaced and their sidecars dropped.
func (s *Server) uploadMusic(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files")
	}
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		if !filepath.IsLocal(name) || !audio.IsSupported(filepath.Ext(name)) {
			return echo.NewHTTPError(http.StatusUnsupportedMediaType, "file type not allowed: "+fh.Filename)
		}
	}

	if err := os.MkdirAll(s.cfg.MusicDir, 0755); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	tracks := make([]Track, 0, len(files))
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		path := filepath.Join(s.cfg.MusicDir, name)
		if err := saveUpload(fh, path); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		// Stale analysis of a replaced file
		_ = os.Remove(analysis.SidecarPath(path))

		s.log.Info("uploaded track", "file", name, "bytes", fh.Size)
		tracks = append(tracks, Track{Name: strings.TrimSuffix(name, filepath.Ext(name)), Path: name})
	}
	return c.JSON(http.StatusCreated, tracks)
}

func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("write file: %w", err)
	}
	return dst.Close()
}

// clearMusic removes every track and sidecar from the music directory and
// every rendered mix.
func (s *Server) clearMusic(c echo.Context) error {
	removed := 0
	err := filepath.WalkDir(s.cfg.MusicDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !audio.IsSupported(filepath.Ext(path)) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		if err := os.Remove(analysis.SidecarPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.mu.Lock()
	s.mixes = map[string]MixResponse{}
	s.mu.Unlock()
	if err := os.RemoveAll(s.cfg.OutDir); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.log.Info("cleared music", "removed", removed)
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

// createMix runs the pipeline over the requested tracks, or every track.
func (s *Server) createMix(c echo.Context) error {
	var req MixRequest
	if c.Request().ContentLength != 0 {
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	cfg := s.cfg.Mix
	if req.Policy != "" {
		cfg.Policy = req.Policy
	}

	src := audio.DirSource{Dir: s.cfg.MusicDir}
	tracks := req.Tracks
	if len(tracks) == 0 {
		ids, err := src.Tracks()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		tracks = ids
	}

	p, err := mix.New(cfg, s.analyzer, src, s.log, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	run, err := p.Run(c.Request().Context(), tracks)
	if err != nil {
		if errors.Is(err, render.ErrEmptyTimeline) || errors.Is(err, render.ErrNoPlayableSegments) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := run.Save(filepath.Join(s.cfg.OutDir, run.ID)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := MixResponse{
		ID:       run.ID,
		Policy:   cfg.Policy,
		Tracks:   run.Tracks,
		Dropped:  make([]Dropped, 0, len(run.Dropped)),
		Segments: len(run.Timeline),
		Duration: run.Mix.Duration(),
		Timeline: run.Timeline,
	}
	for _, d := range run.Dropped {
		resp.Dropped = append(resp.Dropped, Dropped{TrackID: d.TrackID, Error: d.Err.Error()})
	}

	s.mu.Lock()
	s.mixes[run.ID] = resp
	s.mu.Unlock()

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) lookup(c echo.Context) (MixResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp, ok := s.mixes[c.Param("id")]
	if !ok {
		return resp, echo.NewHTTPError(http.StatusNotFound, "mix not found")
	}
	return resp, nil
}

// getMix returns a finished mix's summary and timeline.
func (s *Server) getMix(c echo.Context) error {
	resp, err := s.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// downloadMix serves a finished mix as a WAV attachment.
func (s *Server) downloadMix(c echo.Context) error {
	resp, err := s.lookup(c)
	if err != nil {
		return err
	}
	return c.Attachment(filepath.Join(s.cfg.OutDir, resp.ID, mix.MixFile), "mix-"+resp.ID+".wav")
}
