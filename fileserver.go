package wsrpc

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SetupAssetEndpoint serves the companion browser library (wsrpc.js, q.js,
// and their minified forms) from fsRoot — the external, static-asset
// collaborator spec.md §1/§6 names alongside the RPC endpoint itself. It
// is adapted from the teacher's generic static file server, narrowed here
// to its one real job: handing the client-side half of the protocol to the
// browser.
func SetupAssetEndpoint(e *echo.Echo, urlPath string, fsRoot string, logger *zap.Logger) {
	if !strings.HasSuffix(urlPath, "/") {
		urlPath += "/"
	}

	fileHandler := func(c echo.Context) error {
		requestPath := c.Request().URL.Path
		filePath := requestPath

		basePath := strings.TrimSuffix(urlPath, "/")
		if strings.HasPrefix(filePath, basePath) {
			filePath = filePath[len(basePath):]
		}
		filePath = strings.TrimPrefix(filePath, "/")

		if filePath == "" || strings.HasSuffix(filePath, "/") {
			filePath = path.Join(filePath, "wsrpc.js")
		}

		fullPath := filepath.Join(fsRoot, filePath)

		absRoot, err := filepath.Abs(fsRoot)
		if err != nil {
			logger.Error("resolve asset root", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		absPath, err := filepath.Abs(fullPath)
		if err != nil {
			logger.Error("resolve asset path", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		if !strings.HasPrefix(absPath, absRoot) {
			logger.Warn("asset path escapes root", zap.String("path", absPath))
			return echo.NewHTTPError(http.StatusForbidden, "access denied")
		}

		fileInfo, err := os.Stat(absPath)
		if err != nil {
			if os.IsNotExist(err) {
				return echo.NewHTTPError(http.StatusNotFound, "file not found")
			}
			logger.Error("stat asset", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		if !fileInfo.Mode().IsRegular() {
			return echo.NewHTTPError(http.StatusNotFound, "not a file")
		}

		file, err := os.Open(absPath)
		if err != nil {
			logger.Error("open asset", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to read file")
		}
		defer file.Close()

		c.Response().Header().Set("Content-Type", assetContentType(filepath.Ext(absPath)))
		c.Response().Header().Set("Content-Length", fmt.Sprintf("%d", fileInfo.Size()))

		if _, err := io.Copy(c.Response(), file); err != nil {
			logger.Warn("write asset response", zap.Error(err))
			return err
		}
		return nil
	}

	e.GET(urlPath+"*", fileHandler)
}

// assetContentType returns the MIME type for a given file extension.
func assetContentType(ext string) string {
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	switch strings.ToLower(ext) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".map":
		return "application/json; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
